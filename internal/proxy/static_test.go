// SPDX-License-Identifier: MIT

package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderTemplate(t *testing.T) {
	p := NewStaticProvider("nordvpn", "http://{country}.nord.example:80")

	uri, err := p.GetProxy(context.Background(), "us")
	require.NoError(t, err)
	assert.Equal(t, "http://us.nord.example:80", uri)

	// The index suffix selects within a pool server-side; only the
	// country lands in the URI.
	uri, err = p.GetProxy(context.Background(), "us3")
	require.NoError(t, err)
	assert.Equal(t, "http://us.nord.example:80", uri)
}

func TestStaticProviderCountryAgnostic(t *testing.T) {
	p := NewStaticProvider("corp", "http://proxy.corp.example:3128")

	uri, err := p.GetProxy(context.Background(), "de")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.corp.example:3128", uri)
}

func TestStaticProviderEmptyTemplate(t *testing.T) {
	p := NewStaticProvider("empty", "")
	uri, err := p.GetProxy(context.Background(), "us")
	require.NoError(t, err)
	assert.Empty(t, uri)
}

func TestProvidersFromConfigResolves(t *testing.T) {
	providers := ProvidersFromConfig(map[string]string{
		"nordvpn": "http://{country}.nord.example:80",
		"corp":    "http://proxy.corp.example:3128",
	})
	require.Len(t, providers, 2)
	// Ordered by name for deterministic country-only resolution.
	assert.Equal(t, "corp", providers[0].Name())
	assert.Equal(t, "nordvpn", providers[1].Name())

	r := NewResolver(providers...)

	uri, err := r.Resolve(context.Background(), "nordvpn:us")
	require.NoError(t, err)
	assert.Equal(t, "http://us.nord.example:80", uri)

	uri, err = r.Resolve(context.Background(), "de")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.corp.example:3128", uri)
}
