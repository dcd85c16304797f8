// SPDX-License-Identifier: MIT

package proxy

import (
	"context"
	"sort"
	"strings"
)

// CountryPlaceholder in a static URI template is substituted with the
// country part of the query.
const CountryPlaceholder = "{country}"

// StaticProvider serves proxy URIs from a configured template. A template
// containing "{country}" yields per-country URIs; one without it is
// country-agnostic and answers every query with the same URI.
type StaticProvider struct {
	name     string
	template string
}

// NewStaticProvider builds a provider named name over the URI template.
func NewStaticProvider(name, template string) *StaticProvider {
	return &StaticProvider{name: name, template: template}
}

func (p *StaticProvider) Name() string { return p.name }

// GetProxy substitutes the country part of the query ("us", "us3") into
// the template.
func (p *StaticProvider) GetProxy(_ context.Context, query string) (string, error) {
	if p.template == "" {
		return "", nil
	}
	if !strings.Contains(p.template, CountryPlaceholder) {
		return p.template, nil
	}
	country := strings.ToLower(strings.TrimRight(query, "0123456789"))
	if country == "" {
		return "", nil
	}
	return strings.ReplaceAll(p.template, CountryPlaceholder, country), nil
}

// ProvidersFromConfig builds static providers from a name -> URI template
// map, ordered by name so bare country queries resolve deterministically.
func ProvidersFromConfig(proxies map[string]string) []Provider {
	names := make([]string, 0, len(proxies))
	for name := range proxies {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		out = append(out, NewStaticProvider(name, proxies[name]))
	}
	return out
}
