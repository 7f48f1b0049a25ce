package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

// LoadCookieFile reads session cookies exported from a browser.
//
// The format is determined by extension: .json for JSON, .yaml/.yml for
// YAML. Other extensions are parsed as YAML, which also accepts JSON.
//
// Accepted shapes:
//   - a name→value map
//   - the same map under a top-level "cookies" key
//   - an array of {name, value} objects, as written by cookie-export extensions
func LoadCookieFile(path string) (amazonphotos.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return amazonphotos.Credentials{}, fmt.Errorf("cookie file not found: %s", path)
		}
		if os.IsPermission(err) {
			return amazonphotos.Credentials{}, fmt.Errorf("permission denied reading cookie file: %s", path)
		}
		return amazonphotos.Credentials{}, fmt.Errorf("failed to read cookie file: %w", err)
	}
	return ParseCookies(data, path)
}

// ParseCookies parses cookie file contents. path is only used for format
// detection and may be empty.
func ParseCookies(data []byte, path string) (amazonphotos.Credentials, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return amazonphotos.Credentials{}, errors.New("cookie file is empty")
	}

	var raw any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return amazonphotos.Credentials{}, fmt.Errorf("invalid JSON in cookie file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return amazonphotos.Credentials{}, fmt.Errorf("invalid YAML in cookie file: %w", err)
		}
	}

	cookies, err := cookiesFrom(raw)
	if err != nil {
		return amazonphotos.Credentials{}, err
	}
	return amazonphotos.NewCredentials(cookies...)
}

// CredentialsFromAny converts a decoded request body (map or export array)
// into credentials.
func CredentialsFromAny(raw any) (amazonphotos.Credentials, error) {
	cookies, err := cookiesFrom(raw)
	if err != nil {
		return amazonphotos.Credentials{}, err
	}
	return amazonphotos.NewCredentials(cookies...)
}

func cookiesFrom(raw any) ([]amazonphotos.Cookie, error) {
	switch v := raw.(type) {
	case map[string]any:
		if inner, ok := v["cookies"]; ok {
			return cookiesFrom(inner)
		}
		return cookiesFromMap(v)
	case []any:
		return cookiesFromList(v)
	default:
		return nil, fmt.Errorf("unsupported cookie document (%T)", raw)
	}
}

func cookiesFromMap(m map[string]any) ([]amazonphotos.Cookie, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]amazonphotos.Cookie, 0, len(m))
	for _, name := range names {
		s, ok := scalar(m[name])
		if !ok {
			return nil, fmt.Errorf("cookie %q: value must be a string", name)
		}
		out = append(out, amazonphotos.Cookie{Name: name, Value: s})
	}
	return out, nil
}

func cookiesFromList(items []any) ([]amazonphotos.Cookie, error) {
	out := make([]amazonphotos.Cookie, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cookie %d: expected an object with name and value", i)
		}
		name, _ := scalar(obj["name"])
		value, _ := scalar(obj["value"])
		if name == "" {
			return nil, fmt.Errorf("cookie %d: name is required", i)
		}
		out = append(out, amazonphotos.Cookie{Name: name, Value: value})
	}
	return out, nil
}

// scalar renders YAML/JSON scalars as strings. YAML decodes unquoted
// numeric cookie values as numbers.
func scalar(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case int, int64, float64, bool:
		return fmt.Sprint(s), true
	case nil:
		return "", true
	}
	return "", false
}
