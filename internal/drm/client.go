// SPDX-License-Identifier: MIT

package drm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/metrics"
)

// Client talks to a remote DRM backend with data-driven request and
// response shaping.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client from configuration. A nil httpClient falls
// back to a 30s-timeout default.
func NewClient(cfg ClientConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Client{cfg: cfg, http: httpClient, limiter: limiter}
}

// result carries the standardized fields extracted from one response.
type result struct {
	// Type is the matched response type name, "" when no type matched.
	Type string
	// Fields holds the standardized fields after path lookup + transforms.
	Fields map[string]any
	// Raw is the decoded response body.
	Raw map[string]any
}

// call shapes params per the endpoint config, issues the request and
// parses the response. Failures follow the taxonomy: transport errors are
// NETWORK_ERROR, non-200 and unmet success conditions are DRM_ERROR.
func (c *Client) call(ctx context.Context, name string, ep EndpointConfig, params map[string]any) (*result, error) {
	if ep.URL == "" {
		return nil, apierr.Newf(apierr.CodeDRMError, "drm endpoint %q not configured", name)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apierr.Categorize(err)
		}
	}

	body, err := c.shapeRequest(ep, params)
	if err != nil {
		metrics.RecordLicenseRequest(name, "shape_error")
		return nil, apierr.New(apierr.CodeDRMError, err.Error())
	}

	reqURL := ep.URL
	if ep.Auth.Type == "query" {
		u, err := url.Parse(reqURL)
		if err != nil {
			return nil, apierr.Newf(apierr.CodeDRMError, "drm endpoint %q: bad url: %v", name, err)
		}
		q := u.Query()
		q.Set(ep.Auth.Name, ep.Auth.Value)
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}
	if ep.Auth.Type == "body" {
		for k, v := range ep.Auth.Params {
			body[k] = v
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apierr.Newf(apierr.CodeDRMError, "encode drm request: %v", err)
	}

	method := ep.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, apierr.Newf(apierr.CodeDRMError, "build drm request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch ep.Auth.Type {
	case "header":
		req.Header.Set(ep.Auth.Name, ep.Auth.Value)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+ep.Auth.Value)
	case "basic":
		req.SetBasicAuth(ep.Auth.Username, ep.Auth.Password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordLicenseRequest(name, "network_error")
		return nil, apierr.Categorize(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		metrics.RecordLicenseRequest(name, "network_error")
		return nil, apierr.Categorize(err)
	}
	logger := log.WithComponentFromContext(ctx, "drm")
	logger.Debug().
		Str(log.FieldOperation, name).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("drm endpoint call")

	if resp.StatusCode != http.StatusOK {
		metrics.RecordLicenseRequest(name, "http_error")
		return nil, apierr.Newf(apierr.CodeDRMError, "drm endpoint %q returned HTTP %d", name, resp.StatusCode).
			WithDetails(string(raw))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		metrics.RecordLicenseRequest(name, "parse_error")
		return nil, apierr.Newf(apierr.CodeDRMError, "drm endpoint %q returned malformed JSON", name)
	}

	for _, cond := range ep.SuccessConditions {
		if !evalCondition(cond, decoded) {
			metrics.RecordLicenseRequest(name, "rejected")
			msg := joinErrorFields(ep.ErrorFields, decoded)
			if msg == "" {
				msg = fmt.Sprintf("drm endpoint %q reported failure", name)
			}
			return nil, apierr.New(apierr.CodeDRMError, msg)
		}
	}

	out := &result{Raw: decoded, Fields: make(map[string]any, len(ep.ResponseFields))}
	for field, path := range ep.ResponseFields {
		v, ok := lookupPath(decoded, path)
		if !ok {
			continue
		}
		if tname := ep.ResponseTransforms[field]; tname != "" {
			v, err = applyTransform(tname, v)
			if err != nil {
				metrics.RecordLicenseRequest(name, "parse_error")
				return nil, apierr.Newf(apierr.CodeDRMError, "parse drm response field %q: %v", field, err)
			}
		}
		out.Fields[field] = v
	}
	for _, rt := range ep.ResponseTypes {
		if evalCondition(rt.Condition, decoded) {
			out.Type = rt.Name
			break
		}
	}
	metrics.RecordLicenseRequest(name, "ok")
	return out, nil
}

// shapeRequest runs the configured request pipeline: rename, static
// params, conditional params, transforms, grouping, exclusion.
func (c *Client) shapeRequest(ep EndpointConfig, params map[string]any) (map[string]any, error) {
	body := make(map[string]any, len(params))
	for k, v := range params {
		if renamed, ok := ep.RenameFields[k]; ok {
			body[renamed] = v
		} else {
			body[k] = v
		}
	}
	for k, v := range ep.StaticParams {
		body[k] = v
	}
	for _, cp := range ep.ConditionalParams {
		if evalCondition(cp.Condition, body) {
			body[cp.Name] = cp.Value
		}
	}
	for field, name := range ep.Transforms {
		v, ok := body[field]
		if !ok {
			continue
		}
		transformed, err := applyTransform(name, v)
		if err != nil {
			return nil, fmt.Errorf("transform field %q: %w", field, err)
		}
		body[field] = transformed
	}
	if ep.Group != nil && ep.Group.Into != "" {
		nested := make(map[string]any, len(ep.Group.Fields))
		for _, f := range ep.Group.Fields {
			if v, ok := body[f]; ok {
				nested[f] = v
				delete(body, f)
			}
		}
		body[ep.Group.Into] = nested
	}
	for _, f := range ep.ExcludeFields {
		delete(body, f)
	}
	return body, nil
}

// ResponseType pairs a type name with the condition that selects it.
type ResponseType struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
}
