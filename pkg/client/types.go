package client

// DaemonStatus is the wire form of one daemon's supervision state.
type DaemonStatus struct {
	Daemon string `json:"daemon"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// RegistryRecord is the wire form of one service registry entry.
type RegistryRecord struct {
	APIURL        string `json:"api_url,omitempty"`
	GatewayURL    string `json:"gateway_url,omitempty"`
	Mode          string `json:"mode"`
	StatusMessage string `json:"status_message,omitempty"`
	TempMessage   string `json:"temp_message,omitempty"`
}

// DisplayMessage resolves the overlay the same way the registry does: the
// temporary message when present, otherwise the persistent one.
func (r RegistryRecord) DisplayMessage() string {
	if r.TempMessage != "" {
		return r.TempMessage
	}
	return r.StatusMessage
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
