// SPDX-License-Identifier: MIT

package cache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp resolves the many expiration shapes services hand back:
// native time.Time, ISO-8601 strings (with or without a trailing Z),
// integer/float epoch seconds, integer epoch milliseconds (13-digit
// magnitude) and numeric strings.
//
// A numeric value that resolves to a timestamp in the past is reinterpreted
// as a duration in seconds from now. This mirrors the historical behavior
// and can silently extend a stale expiration; it is kept as-is on purpose.
func ParseTimestamp(v any) (*time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		out := t
		return &out, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		out := *t
		return &out, nil
	case int:
		return numericTimestamp(float64(t)), nil
	case int64:
		return numericTimestamp(float64(t)), nil
	case float64:
		return numericTimestamp(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("numeric timestamp %q: %w", t.String(), err)
		}
		return numericTimestamp(f), nil
	case string:
		return parseTimestampString(t)
	default:
		return nil, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestampString(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty timestamp")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return numericTimestamp(f), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return &ts, nil
	}
	// ISO-8601 without zone, possibly with a trailing Z already stripped
	// by the service.
	trimmed := strings.TrimSuffix(s, "Z")
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", s)
}

func numericTimestamp(f float64) *time.Time {
	// 13-digit magnitude means milliseconds.
	if f >= 1e12 {
		f = f / 1000
	}
	ts := time.Unix(int64(f), int64((f-float64(int64(f)))*1e9))
	if ts.Before(time.Now()) {
		ts = time.Now().Add(time.Duration(f * float64(time.Second)))
	}
	return &ts
}

// jwtExpiration extracts the exp claim from a JWT without verifying it.
func jwtExpiration(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp json.Number `json:"exp"`
	}
	if err := json.Unmarshal(body, &claims); err != nil || claims.Exp == "" {
		return time.Time{}, false
	}
	secs, err := claims.Exp.Float64()
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0).UTC(), true
}
