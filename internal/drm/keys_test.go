// SPDX-License-Identifier: MIT

package drm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ABCDEF01-2345-6789-ABCD-EF0123456789", "abcdef0123456789abcdef0123456789"},
		{"abcdef0123456789abcdef0123456789", "abcdef0123456789abcdef0123456789"},
		{"ABCDEF0123456789ABCDEF0123456789", "abcdef0123456789abcdef0123456789"},
		{"deadbeef", "deadbeef000000000000000000000000"},
		{"a1b", "a1b00000000000000000000000000000"},
		{"  00112233-4455-6677-8899-aabbccddeeff  ", "00112233445566778899aabbccddeeff"},
	}
	for _, tc := range cases {
		got, err := NormalizeKID(tc.in)
		require.NoError(t, err, "kid %q", tc.in)
		assert.Equal(t, tc.want, got, "kid %q", tc.in)
		assert.Len(t, got, 32)
	}
}

func TestNormalizeKIDRejects(t *testing.T) {
	for _, bad := range []string{"", "xyz", "abcdef0123456789abcdef01234567890", "gg"} {
		_, err := NormalizeKID(bad)
		assert.Error(t, err, "kid %q", bad)
	}
}

func TestKeyKind(t *testing.T) {
	assert.True(t, KeyKindContent.IsValid())
	assert.True(t, KeyKindSigning.IsValid())
	assert.True(t, KeyKindOperator.IsValid())
	assert.True(t, KeyKindEntitlement.IsValid())
	assert.False(t, KeyKind("content").IsValid())
	assert.False(t, KeyKind("OTHER").IsValid())
}

func TestKeyHex(t *testing.T) {
	k := Key{Key: []byte{0xde, 0xad, 0xbe, 0xef}}
	assert.Equal(t, "deadbeef", k.Hex())
}
