package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 2 * time.Second
	maxBody        = 1 << 20
)

// Prober answers whether a daemon's API is up and sane. Implementations
// must treat any error as "not healthy"; the caller owns retry policy.
type Prober interface {
	Check(ctx context.Context, baseURL string) error
	Describe() string
}

// HTTP probes a daemon by issuing a single request against its API and
// requiring a 2xx response. Validate, when set, inspects the body so a
// half-started daemon serving errors as 200s is still rejected.
type HTTP struct {
	Method   string
	Path     string
	Timeout  time.Duration
	Validate func(body []byte) error
	Client   *http.Client
}

func (p *HTTP) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *HTTP) Check(ctx context.Context, baseURL string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	url := strings.TrimRight(baseURL, "/") + p.Path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read probe response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s %s: status %d", method, p.Path, resp.StatusCode)
	}
	if p.Validate != nil {
		if err := p.Validate(body); err != nil {
			return fmt.Errorf("probe %s %s: %w", method, p.Path, err)
		}
	}
	return nil
}

func (p *HTTP) Describe() string {
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + p.Path
}

// NonEmptyJSONField returns a validator requiring the response to be a JSON
// object carrying a non-empty string at field.
func NonEmptyJSONField(field string) func([]byte) error {
	return func(body []byte) error {
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return fmt.Errorf("decode body: %w", err)
		}
		s, _ := m[field].(string)
		if s == "" {
			return fmt.Errorf("field %q empty or missing", field)
		}
		return nil
	}
}
