// SPDX-License-Identifier: MIT

package drm

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// applyTransform applies one named value transform from the fixed set.
func applyTransform(name string, v any) (any, error) {
	switch name {
	case "base64_encode":
		b, err := toBytes(v)
		if err != nil {
			return nil, fmt.Errorf("base64_encode: %w", err)
		}
		return base64.StdEncoding.EncodeToString(b), nil

	case "base64_decode":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("base64_decode: want string, got %T", v)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("base64_decode: %w", err)
		}
		return b, nil

	case "hex_encode":
		b, err := toBytes(v)
		if err != nil {
			return nil, fmt.Errorf("hex_encode: %w", err)
		}
		return hex.EncodeToString(b), nil

	case "hex_decode":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("hex_decode: want string, got %T", v)
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("hex_decode: %w", err)
		}
		return b, nil

	case "json_stringify":
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("json_stringify: %w", err)
		}
		return string(b), nil

	case "json_parse":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("json_parse: want string, got %T", v)
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("json_parse: %w", err)
		}
		return out, nil

	case "parse_key_string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("parse_key_string: want string, got %T", v)
		}
		return parseKeyString(s)

	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

func toBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("want bytes or string, got %T", v)
	}
}

// parseKeyString accepts `kid:key` lines, each optionally prefixed with
// `--key ` (the downloader CLI form), and returns key entries.
func parseKeyString(s string) ([]map[string]any, error) {
	var out []map[string]any
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "--key ")
		if line == "" {
			continue
		}
		kid, key, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("parse_key_string: malformed line %q", line)
		}
		out = append(out, map[string]any{
			"kid": strings.TrimSpace(kid),
			"key": strings.TrimSpace(key),
		})
	}
	return out, nil
}
