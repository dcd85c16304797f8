// SPDX-License-Identifier: MIT

package drm

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidSession is returned for operations on unknown session ids.
var ErrInvalidSession = errors.New("drm: invalid session")

// Vault is the local persistent key store consulted before any remote
// call. Implemented by internal/vault.
type Vault interface {
	// GetKey returns the hex content key for (service, kid), "" on miss.
	GetKey(ctx context.Context, service, kid string) (string, error)
	// PutContentKeys persists normalized kid -> hex key pairs.
	PutContentKeys(ctx context.Context, service string, keys map[string]string) error
}

// Session holds the per-request licensing state. All fields are guarded
// by the owning Manager.
type Session struct {
	id              []byte
	serviceCert     []byte
	pssh            []byte
	initData        string // base64 of pssh
	requiredKIDs    []string
	vaultKeys       []Key
	cachedKeys      []Key
	keys            []Key
	challenge       []byte
	remoteSessionID string
}

// Manager owns DRM sessions for one service. Open allocates, Close frees;
// everything in between mutates one session under the manager lock.
type Manager struct {
	mu       sync.Mutex
	service  string
	client   *Client
	vault    Vault
	sessions map[string]*Session
}

// NewManager builds a session manager. vault may be nil when no local
// vault is configured.
func NewManager(service string, client *Client, vault Vault) *Manager {
	return &Manager{
		service:  service,
		client:   client,
		vault:    vault,
		sessions: make(map[string]*Session),
	}
}

// Open allocates a session and returns its 16-byte identifier.
func (m *Manager) Open() ([]byte, error) {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("drm: generate session id: %w", err)
	}
	m.mu.Lock()
	m.sessions[hex.EncodeToString(id)] = &Session{id: id}
	m.mu.Unlock()
	return id, nil
}

// Close frees all session state. Unknown ids fail with ErrInvalidSession.
func (m *Manager) Close(sessionID []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hex.EncodeToString(sessionID)
	if _, ok := m.sessions[key]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidSession, key)
	}
	delete(m.sessions, key)
	return nil
}

func (m *Manager) session(sessionID []byte) (*Session, error) {
	s, ok := m.sessions[hex.EncodeToString(sessionID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, hex.EncodeToString(sessionID))
	}
	return s, nil
}

// SetServiceCertificate stores the optional service certificate. cert may
// be raw bytes or a base64 string; nil installs the configured
// common-privacy-cert fallback when one exists. The returned string
// describes what was installed.
func (m *Manager) SetServiceCertificate(sessionID []byte, cert any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(sessionID)
	if err != nil {
		return "", err
	}

	switch c := cert.(type) {
	case nil:
		if m.client != nil && m.client.cfg.CommonPrivacyCert != "" {
			decoded, err := base64.StdEncoding.DecodeString(m.client.cfg.CommonPrivacyCert)
			if err != nil {
				return "", fmt.Errorf("drm: decode common privacy cert: %w", err)
			}
			s.serviceCert = decoded
			return "common_privacy_cert", nil
		}
		s.serviceCert = nil
		return "none", nil
	case []byte:
		s.serviceCert = c
	case string:
		decoded, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			return "", fmt.Errorf("drm: decode service certificate: %w", err)
		}
		s.serviceCert = decoded
	default:
		return "", fmt.Errorf("drm: unsupported certificate type %T", cert)
	}
	return "service_certificate", nil
}

// SetRequiredKIDs normalizes and stores the KIDs the request must cover.
func (m *Manager) SetRequiredKIDs(sessionID []byte, kids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	normalized := make([]string, 0, len(kids))
	for _, kid := range kids {
		n, err := NormalizeKID(kid)
		if err != nil {
			return fmt.Errorf("drm: required kid: %w", err)
		}
		normalized = append(normalized, n)
	}
	s.requiredKIDs = normalized
	return nil
}

// GetKeys returns the session's keys, optionally filtered by kind.
func (m *Manager) GetKeys(sessionID []byte, kind *KeyKind) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	if kind == nil {
		out := make([]Key, len(s.keys))
		copy(out, s.keys)
		return out, nil
	}
	var out []Key
	for _, k := range s.keys {
		if k.Kind == *kind {
			out = append(out, k)
		}
	}
	return out, nil
}

// HasCachedKeys reports whether the remote cache contributed keys that are
// still pending a license merge.
func (m *Manager) HasCachedKeys(sessionID []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(sessionID)
	if err != nil {
		return false, err
	}
	return len(s.cachedKeys) > 0, nil
}
