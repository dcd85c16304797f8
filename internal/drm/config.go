// SPDX-License-Identifier: MIT

package drm

// ClientConfig describes how to talk to a remote DRM backend. The request
// and response shaping is deliberately data-driven so that differently
// shaped backends can be targeted from configuration alone.
type ClientConfig struct {
	// Scheme is the device scheme reported to the backend
	// (e.g. "widevine", "playready").
	Scheme string `yaml:"scheme"`

	// CommonPrivacyCert, when set, is installed as the service certificate
	// whenever a session asks for the common-privacy-cert fallback.
	CommonPrivacyCert string `yaml:"common_privacy_cert"`

	// RatePerSecond throttles outbound calls; zero disables throttling.
	RatePerSecond float64 `yaml:"rate_per_second"`

	GetRequest      EndpointConfig `yaml:"get_request"`
	DecryptResponse EndpointConfig `yaml:"decrypt_response"`
}

// Configured reports whether at least one remote endpoint is set up.
func (c ClientConfig) Configured() bool {
	return c.GetRequest.URL != "" || c.DecryptResponse.URL != ""
}

// EndpointConfig describes one remote endpoint and its wire shaping.
type EndpointConfig struct {
	URL    string     `yaml:"url"`
	Method string     `yaml:"method"` // default POST
	Auth   AuthConfig `yaml:"auth"`

	// Request shaping, applied in order: rename, static, conditional,
	// transforms, grouping, exclusion.
	RenameFields      map[string]string  `yaml:"rename_fields"`
	StaticParams      map[string]any     `yaml:"static_params"`
	ConditionalParams []ConditionalParam `yaml:"conditional_params"`
	Transforms        map[string]string  `yaml:"transforms"`
	Group             *GroupConfig       `yaml:"group"`
	ExcludeFields     []string           `yaml:"exclude_fields"`

	// Response parsing: standardized field name -> dotted path into the
	// response body, then per-field transforms.
	ResponseFields     map[string]string `yaml:"response_fields"`
	ResponseTransforms map[string]string `yaml:"response_transforms"`

	// KeyFields names the per-entry fields of a key list in the response.
	KeyFields KeyFieldConfig `yaml:"key_fields"`

	// ResponseTypes classify the response; conditions are evaluated in
	// order and the first match wins.
	ResponseTypes []ResponseType `yaml:"response_types"`

	// SuccessConditions must all hold for the call to succeed.
	SuccessConditions []string `yaml:"success_conditions"`

	// ErrorFields are dotted paths whose text is concatenated into the
	// failure message when success conditions do not hold.
	ErrorFields []string `yaml:"error_fields"`
}

// ConditionalParam adds a parameter only when its condition holds against
// the request parameters assembled so far.
type ConditionalParam struct {
	Name      string `yaml:"name"`
	Value     any    `yaml:"value"`
	Condition string `yaml:"condition"`
}

// GroupConfig nests a subset of request fields under one object key.
type GroupConfig struct {
	Into   string   `yaml:"into"`
	Fields []string `yaml:"fields"`
}

// KeyFieldConfig names the fields of one key entry in a response list.
// Zero values fall back to kid/key/type.
type KeyFieldConfig struct {
	KID  string `yaml:"kid"`
	Key  string `yaml:"key"`
	Type string `yaml:"type"`
}

func (k KeyFieldConfig) kidField() string {
	if k.KID != "" {
		return k.KID
	}
	return "kid"
}

func (k KeyFieldConfig) keyField() string {
	if k.Key != "" {
		return k.Key
	}
	return "key"
}

func (k KeyFieldConfig) typeField() string {
	if k.Type != "" {
		return k.Type
	}
	return "type"
}

// AuthConfig selects one outbound authentication strategy.
type AuthConfig struct {
	// Type is one of "", "header", "bearer", "basic", "query", "body".
	Type     string         `yaml:"type"`
	Name     string         `yaml:"name"`  // header or query parameter name
	Value    string         `yaml:"value"` // header/query/bearer value
	Username string         `yaml:"username"`
	Password string         `yaml:"password"`
	Params   map[string]any `yaml:"params"` // merged into the body for type "body"
}

// Standardized response field names the client reads.
const (
	fieldResponseKeys      = "keys"
	fieldResponseChallenge = "challenge"
	fieldResponseSessionID = "session_id"
)

// Response type names the licensing algorithm dispatches on.
const (
	ResponseCachedKeys      = "cached_keys"
	ResponseLicenseRequired = "license_required"
)
