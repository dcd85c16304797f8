// SPDX-License-Identifier: MIT

// Package proxy resolves proxy queries to concrete proxy URIs. Accepted
// query forms: an explicit http(s) URI, "provider:country" (the named
// provider must be configured), or a bare 2-letter country code with an
// optional trailing index ("us", "us1") which tries every configured
// provider in order.
package proxy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Provider yields proxy URIs for country-level queries.
type Provider interface {
	Name() string
	// GetProxy resolves a country query ("us", "us1") to a proxy URI.
	// An empty string with nil error means the provider has no match.
	GetProxy(ctx context.Context, query string) (string, error)
}

var countryQueryRe = regexp.MustCompile(`^[a-z]{2}\d*$`)

// QueryKind classifies a proxy query string.
type QueryKind int

const (
	QueryInvalid QueryKind = iota
	QueryURI
	QueryProvider
	QueryCountry
)

// ClassifyQuery validates the query shape without resolving it.
func ClassifyQuery(q string) QueryKind {
	q = strings.TrimSpace(q)
	switch {
	case q == "":
		return QueryInvalid
	case strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://"):
		return QueryURI
	case strings.Contains(q, ":"):
		provider, country, _ := strings.Cut(q, ":")
		if provider == "" || !countryQueryRe.MatchString(strings.ToLower(country)) {
			return QueryInvalid
		}
		return QueryProvider
	case countryQueryRe.MatchString(strings.ToLower(q)):
		return QueryCountry
	default:
		return QueryInvalid
	}
}

// Resolver resolves proxy queries against an ordered set of providers.
type Resolver struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewResolver builds a resolver over the given providers; order matters
// for bare country-code queries.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve turns a query into a proxy URI.
func (r *Resolver) Resolve(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	switch ClassifyQuery(query) {
	case QueryURI:
		return query, nil

	case QueryProvider:
		name, country, _ := strings.Cut(query, ":")
		p := r.provider(name)
		if p == nil {
			return "", fmt.Errorf("proxy provider %q is not configured", name)
		}
		uri, err := p.GetProxy(ctx, strings.ToLower(country))
		if err != nil {
			return "", fmt.Errorf("proxy provider %q: %w", name, err)
		}
		if uri == "" {
			return "", fmt.Errorf("proxy provider %q has no proxy for %q", name, country)
		}
		return uri, nil

	case QueryCountry:
		r.mu.RLock()
		providers := append([]Provider(nil), r.providers...)
		r.mu.RUnlock()
		for _, p := range providers {
			uri, err := p.GetProxy(ctx, strings.ToLower(query))
			if err != nil {
				continue
			}
			if uri != "" {
				return uri, nil
			}
		}
		return "", fmt.Errorf("no configured proxy provider could serve %q", query)

	default:
		return "", fmt.Errorf("invalid proxy query %q", query)
	}
}

func (r *Resolver) provider(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if strings.EqualFold(p.Name(), name) {
			return p
		}
	}
	return nil
}
