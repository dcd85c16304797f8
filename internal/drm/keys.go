// SPDX-License-Identifier: MIT

// Package drm implements per-request license acquisition with key-source
// merging. A session combines keys from the local vault, the remote key
// cache and a parsed license so that at most one remote licensing round
// trip happens per request fingerprint.
package drm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyKind classifies a content key. Only content keys participate in
// vault caching.
type KeyKind string

const (
	KeyKindContent     KeyKind = "CONTENT"
	KeyKindSigning     KeyKind = "SIGNING"
	KeyKindOperator    KeyKind = "OPERATOR"
	KeyKindEntitlement KeyKind = "ENTITLEMENT"
)

// IsValid reports whether the kind is one of the defined constants.
func (k KeyKind) IsValid() bool {
	switch k {
	case KeyKindContent, KeyKindSigning, KeyKindOperator, KeyKindEntitlement:
		return true
	default:
		return false
	}
}

// Key is a (KID, key, kind) triple. KID is stored normalized: lowercase
// 32-hex, no hyphens.
type Key struct {
	KID  string
	Key  []byte
	Kind KeyKind
}

// Hex returns the key bytes as lowercase hex.
func (k Key) Hex() string {
	return hex.EncodeToString(k.Key)
}

// NormalizeKID parses a KID permissively: hyphenated UUIDs, bare 32-hex,
// or shorter hex values which are right-padded with zeros to 128 bits.
func NormalizeKID(kid string) (string, error) {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(kid), "-", ""))
	if s == "" {
		return "", fmt.Errorf("empty KID")
	}
	if len(s) > 32 {
		return "", fmt.Errorf("KID %q longer than 128 bits", kid)
	}
	if len(s)%2 == 1 {
		s = s + "0"
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("KID %q is not hex: %w", kid, err)
	}
	return s + strings.Repeat("0", 32-len(s)), nil
}

// kidSet builds a membership set of normalized KIDs from keys.
func kidSet(keys []Key) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k.KID] = struct{}{}
	}
	return out
}

// containsAll reports whether have covers every KID in want.
func containsAll(have map[string]struct{}, want []string) bool {
	for _, kid := range want {
		if _, ok := have[kid]; !ok {
			return false
		}
	}
	return true
}
