// SPDX-License-Identifier: MIT

package drm

import (
	"fmt"
	"strconv"
	"strings"
)

// lookupPath resolves a dotted path inside nested maps, e.g. "data.keys".
func lookupPath(data map[string]any, path string) (any, bool) {
	cur := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// evalCondition evaluates a tiny `field op value` expression against data.
// Supported forms:
//
//	field == value    field != value
//	field == null     field != null
//	field exists
//
// Unknown expressions evaluate to false.
func evalCondition(expr string, data map[string]any) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}

	if field, ok := strings.CutSuffix(expr, " exists"); ok && !strings.ContainsAny(field, " ") {
		_, present := lookupPath(data, strings.TrimSpace(field))
		return present
	}

	var field, op, rhs string
	for _, candidate := range []string{" == ", " != "} {
		if idx := strings.Index(expr, candidate); idx >= 0 {
			field = strings.TrimSpace(expr[:idx])
			op = strings.TrimSpace(candidate)
			rhs = strings.TrimSpace(expr[idx+len(candidate):])
			break
		}
	}
	if field == "" || op == "" {
		return false
	}

	val, present := lookupPath(data, field)
	if rhs == "null" {
		isNull := !present || val == nil
		if op == "==" {
			return isNull
		}
		return !isNull
	}

	equal := present && literalEqual(val, rhs)
	if op == "==" {
		return equal
	}
	return !equal
}

// literalEqual compares a response value against a literal token: quoted
// string, number, or bare word.
func literalEqual(val any, lit string) bool {
	if len(lit) >= 2 && (lit[0] == '"' || lit[0] == '\'') && lit[len(lit)-1] == lit[0] {
		s, ok := val.(string)
		return ok && s == lit[1:len(lit)-1]
	}
	switch lit {
	case "true", "false":
		b, ok := val.(bool)
		return ok && strconv.FormatBool(b) == lit
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		switch n := val.(type) {
		case float64:
			return n == f
		case int:
			return float64(n) == f
		case int64:
			return float64(n) == f
		}
		return false
	}
	// Bare word compares as string.
	s, ok := val.(string)
	return ok && s == lit
}

// joinErrorFields concatenates the text of the configured error fields.
func joinErrorFields(fields []string, data map[string]any) string {
	var parts []string
	for _, f := range fields {
		if v, ok := lookupPath(data, f); ok && v != nil {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, "; ")
}
