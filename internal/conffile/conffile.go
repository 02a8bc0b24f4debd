package conffile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Values holds managed keys as dotted paths into the config document, e.g.
// "Addresses.API" or "gateway.port". Only these keys are rewritten; every
// other key in the file, including daemon-generated identity and secrets,
// is carried over untouched.
type Values map[string]any

// EnforceJSON rewrites the managed keys inside the JSON document at path.
// It returns whether the file was modified. The file must already exist:
// enforcement runs after the daemon's own init has produced its config.
func EnforceJSON(path string, managed Values) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	doc := make(map[string]any)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return false, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	for key, val := range managed {
		deepSet(doc, strings.Split(key, "."), val)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode config %s: %w", path, err)
	}
	out = append(out, '\n')
	if bytes.Equal(out, raw) {
		return false, nil
	}
	if err := writeAtomic(path, out); err != nil {
		return false, err
	}
	return true, nil
}

// EnforceTOML rewrites the managed keys inside the TOML document at path.
// When every managed key already holds its desired value the file is left
// byte-for-byte alone, comments included.
func EnforceTOML(path string, managed Values) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return false, fmt.Errorf("parse config %s: %w", path, err)
	}
	dirty := false
	for key, val := range managed {
		if !sameValue(v.Get(key), val) {
			dirty = true
		}
		v.Set(key, val)
	}
	if !dirty {
		return false, nil
	}
	if err := v.WriteConfigAs(path); err != nil {
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}

// deepSet walks the document along segs, creating intermediate objects as
// needed, and sets the leaf. A non-object in the way is replaced; managed
// keys win over whatever the daemon wrote there.
func deepSet(doc map[string]any, segs []string, val any) {
	if len(segs) == 1 {
		doc[segs[0]] = val
		return
	}
	child, ok := doc[segs[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		doc[segs[0]] = child
	}
	deepSet(child, segs[1:], val)
}

// sameValue compares a stored config value to the desired one, tolerating
// the numeric type drift between decoders (int vs int64 vs float64).
func sameValue(have, want any) bool {
	if have == nil {
		return false
	}
	if hf, ok := asFloat(have); ok {
		if wf, ok := asFloat(want); ok {
			return hf == wf
		}
		return false
	}
	return reflect.DeepEqual(have, want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// writeAtomic replaces path via a temp file and rename so a crash mid-write
// cannot leave a truncated config behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
