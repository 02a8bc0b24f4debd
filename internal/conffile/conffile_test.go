package conffile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

const casConfig = `{
  "Identity": {
    "PeerID": "12D3KooWabc",
    "PrivKey": "CAESQHs3cret"
  },
  "Addresses": {
    "API": "/ip4/127.0.0.1/tcp/5001",
    "Gateway": "/ip4/127.0.0.1/tcp/8080"
  },
  "API": {
    "Secret": "deadbeef"
  }
}`

func TestEnforceJSONPreservesSecrets(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config", casConfig)

	changed, err := EnforceJSON(path, Values{
		"Addresses.API":          "/ip4/127.0.0.1/tcp/5201",
		"Addresses.Gateway":      "/ip4/127.0.0.1/tcp/8180",
		"Discovery.MDNS.Enabled": false,
	})
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if !changed {
		t.Fatal("expected a rewrite")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse rewritten config: %v", err)
	}

	ident := doc["Identity"].(map[string]any)
	if ident["PrivKey"] != "CAESQHs3cret" || ident["PeerID"] != "12D3KooWabc" {
		t.Fatalf("identity material lost: %+v", ident)
	}
	if doc["API"].(map[string]any)["Secret"] != "deadbeef" {
		t.Fatal("api secret lost")
	}
	addrs := doc["Addresses"].(map[string]any)
	if addrs["API"] != "/ip4/127.0.0.1/tcp/5201" {
		t.Fatalf("managed key not applied: %v", addrs["API"])
	}
	disco := doc["Discovery"].(map[string]any)["MDNS"].(map[string]any)
	if disco["Enabled"] != false {
		t.Fatalf("nested managed key not created: %v", disco)
	}
}

func TestEnforceJSONIdempotent(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config", casConfig)
	managed := Values{"Addresses.API": "/ip4/127.0.0.1/tcp/5201"}

	if _, err := EnforceJSON(path, managed); err != nil {
		t.Fatalf("first enforce: %v", err)
	}
	first, _ := os.ReadFile(path)

	changed, err := EnforceJSON(path, managed)
	if err != nil {
		t.Fatalf("second enforce: %v", err)
	}
	if changed {
		t.Fatal("second enforcement should be a no-op")
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Fatal("file content drifted across enforcements")
	}
}

func TestEnforceJSONMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if _, err := EnforceJSON(path, Values{"a": 1}); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestEnforceJSONReplacesScalarInPath(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config", `{"Addresses": "legacy"}`)
	if _, err := EnforceJSON(path, Values{"Addresses.API": "/ip4/127.0.0.1/tcp/5201"}); err != nil {
		t.Fatalf("enforce: %v", err)
	}
	raw, _ := os.ReadFile(path)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	if doc["Addresses"].(map[string]any)["API"] != "/ip4/127.0.0.1/tcp/5201" {
		t.Fatalf("scalar not replaced by object: %s", raw)
	}
}

const dfsConfig = `auth_token = "s3cret-token"

[api]
port = 5001

[gateway]
port = 8080
`

func TestEnforceTOMLPreservesSecrets(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dfsd.toml", dfsConfig)

	changed, err := EnforceTOML(path, Values{
		"api.port":     5262,
		"gateway.port": 8280,
	})
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if !changed {
		t.Fatal("expected a rewrite")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if v.GetString("auth_token") != "s3cret-token" {
		t.Fatalf("auth token lost: %q", v.GetString("auth_token"))
	}
	if v.GetInt("api.port") != 5262 || v.GetInt("gateway.port") != 8280 {
		t.Fatalf("managed ports not applied: api=%d gateway=%d",
			v.GetInt("api.port"), v.GetInt("gateway.port"))
	}
}

func TestEnforceTOMLNoopLeavesFileAlone(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dfsd.toml", dfsConfig)

	changed, err := EnforceTOML(path, Values{"api.port": 5001, "auth_token": "s3cret-token"})
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if changed {
		t.Fatal("values already match; file should not be rewritten")
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != dfsConfig {
		t.Fatal("file rewritten despite matching values")
	}
}

func TestEnforceTOMLMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	if _, err := EnforceTOML(path, Values{"api.port": 1}); err == nil {
		t.Fatal("expected error for missing config")
	}
}
