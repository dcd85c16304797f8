// SPDX-License-Identifier: MIT

package drm

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/log"
)

// GetLicenseChallenge runs the key-sourcing algorithm. It returns an empty
// byte slice when the vault (or the remote key cache) already covers every
// required KID, in which case no license round trip is needed; otherwise
// it returns the challenge to forward to the service's license endpoint.
func (m *Manager) GetLicenseChallenge(ctx context.Context, sessionID []byte, pssh []byte, licenseType string, privacyMode bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	logger := log.WithComponentFromContext(ctx, "drm")

	s.pssh = pssh
	s.initData = base64.StdEncoding.EncodeToString(pssh)

	// Vault first: a full hit means zero remote calls.
	if m.vault != nil && len(s.requiredKIDs) > 0 {
		s.vaultKeys = s.vaultKeys[:0]
		for _, kid := range s.requiredKIDs {
			keyHex, err := m.vault.GetKey(ctx, m.service, kid)
			if err != nil {
				return nil, fmt.Errorf("drm: vault lookup %s: %w", kid, err)
			}
			if keyHex == "" {
				continue
			}
			raw, err := hex.DecodeString(keyHex)
			if err != nil {
				return nil, fmt.Errorf("drm: vault key %s is not hex: %w", kid, err)
			}
			s.vaultKeys = append(s.vaultKeys, Key{KID: kid, Key: raw, Kind: KeyKindContent})
		}
		if containsAll(kidSet(s.vaultKeys), s.requiredKIDs) {
			s.keys = append([]Key(nil), s.vaultKeys...)
			logger.Info().
				Int(log.FieldKeyCount, len(s.keys)).
				Msg("all required kids served from vault")
			return []byte{}, nil
		}
		// Partial hits stay on the session for the later merge.
	}

	if m.client == nil {
		return nil, apierr.New(apierr.CodeDRMError, "no drm backend configured and vault is incomplete")
	}

	params := map[string]any{
		"scheme":    m.client.cfg.Scheme,
		"init_data": s.initData,
		"service":   m.service,
	}
	if s.serviceCert != nil {
		params["certificate"] = base64.StdEncoding.EncodeToString(s.serviceCert)
	}
	if licenseType != "" {
		params["license_type"] = licenseType
	}
	if privacyMode {
		params["privacy_mode"] = true
	}

	res, err := m.client.call(ctx, "get_request", m.client.cfg.GetRequest, params)
	if err != nil {
		return nil, err
	}

	switch res.Type {
	case ResponseCachedKeys:
		cached, err := parseKeyList(res.Fields[fieldResponseKeys], m.client.cfg.GetRequest.KeyFields)
		if err != nil {
			return nil, apierr.Newf(apierr.CodeDRMError, "parse cached keys: %v", err)
		}
		allAvailable := append([]Key(nil), s.vaultKeys...)
		have := kidSet(allAvailable)
		for _, k := range cached {
			if _, ok := have[k.KID]; ok {
				continue
			}
			allAvailable = append(allAvailable, k)
			have[k.KID] = struct{}{}
		}
		if len(s.requiredKIDs) > 0 && containsAll(have, s.requiredKIDs) {
			s.keys = allAvailable
			logger.Info().
				Int(log.FieldKeyCount, len(s.keys)).
				Msg("required kids covered by remote cache and vault")
			return []byte{}, nil
		}
		// Incomplete cache: keep the partial keys for the later merge and
		// fall through to licensing, if this response carried a challenge.
		s.cachedKeys = cached
		if raw, ok := res.Fields[fieldResponseChallenge]; ok && raw != nil {
			challenge, err := challengeBytes(raw)
			if err != nil {
				return nil, apierr.Newf(apierr.CodeDRMError, "parse challenge: %v", err)
			}
			if remoteID, _ := res.Fields[fieldResponseSessionID].(string); remoteID != "" && len(challenge) > 0 {
				s.challenge = challenge
				s.remoteSessionID = remoteID
				return challenge, nil
			}
		}
		return nil, apierr.New(apierr.CodeDRMError,
			"remote cache is missing required kids and no license challenge was returned")

	case ResponseLicenseRequired:
		challenge, err := challengeBytes(res.Fields[fieldResponseChallenge])
		if err != nil {
			return nil, apierr.Newf(apierr.CodeDRMError, "parse challenge: %v", err)
		}
		remoteID, _ := res.Fields[fieldResponseSessionID].(string)
		if remoteID == "" {
			return nil, apierr.New(apierr.CodeDRMError, "license response carried no remote session id")
		}
		s.challenge = challenge
		s.remoteSessionID = remoteID
		return challenge, nil

	default:
		return nil, apierr.Newf(apierr.CodeDRMError, "unclassified drm response (type %q)", res.Type)
	}
}

// ParseLicense decrypts a license message through the remote backend and
// merges the resulting keys with the vault and cache buckets. Keys with a
// KID already present in an earlier source are not duplicated.
func (m *Manager) ParseLicense(ctx context.Context, sessionID []byte, licenseMessage []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}

	// Fully served from vault/cache earlier; nothing to do.
	if len(s.keys) > 0 && len(s.cachedKeys) == 0 {
		return nil
	}
	if len(s.challenge) == 0 || s.remoteSessionID == "" {
		return apierr.New(apierr.CodeDRMError, "no outstanding license challenge for session")
	}

	params := map[string]any{
		"scheme":          m.client.cfg.Scheme,
		"session_id":      s.remoteSessionID,
		"init_data":       s.initData,
		"challenge":       base64.StdEncoding.EncodeToString(s.challenge),
		"license_message": base64.StdEncoding.EncodeToString(licenseMessage),
	}
	res, err := m.client.call(ctx, "decrypt_response", m.client.cfg.DecryptResponse, params)
	if err != nil {
		return err
	}

	licenseKeys, err := parseKeyList(res.Fields[fieldResponseKeys], m.client.cfg.DecryptResponse.KeyFields)
	if err != nil {
		return apierr.Newf(apierr.CodeDRMError, "parse license keys: %v", err)
	}

	allKeys := append(append([]Key(nil), s.vaultKeys...), s.cachedKeys...)
	have := kidSet(allKeys)
	for _, k := range licenseKeys {
		if _, ok := have[k.KID]; ok {
			continue
		}
		allKeys = append(allKeys, k)
		have[k.KID] = struct{}{}
	}
	s.keys = allKeys

	if m.vault != nil {
		content := make(map[string]string)
		for _, k := range allKeys {
			if k.Kind == KeyKindContent {
				content[k.KID] = k.Hex()
			}
		}
		if err := m.vault.PutContentKeys(ctx, m.service, content); err != nil {
			logger := log.WithComponentFromContext(ctx, "drm")
			logger.Warn().Err(err).
				Msg("persisting content keys to vault failed")
		}
	}

	s.cachedKeys = nil
	s.vaultKeys = nil
	return nil
}

// parseKeyList converts a response key list into normalized Keys.
func parseKeyList(v any, fields KeyFieldConfig) ([]Key, error) {
	if v == nil {
		return nil, fmt.Errorf("response carried no key list")
	}
	entries, ok := v.([]any)
	if !ok {
		if typed, isTyped := v.([]map[string]any); isTyped {
			entries = make([]any, len(typed))
			for i, e := range typed {
				entries[i] = e
			}
		} else {
			return nil, fmt.Errorf("key list has type %T", v)
		}
	}

	out := make([]Key, 0, len(entries))
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key entry %d has type %T", i, e)
		}
		kidRaw, _ := entry[fields.kidField()].(string)
		keyRaw, _ := entry[fields.keyField()].(string)
		if kidRaw == "" || keyRaw == "" {
			return nil, fmt.Errorf("key entry %d is missing kid or key", i)
		}
		kid, err := NormalizeKID(kidRaw)
		if err != nil {
			return nil, fmt.Errorf("key entry %d: %w", i, err)
		}
		keyBytes, err := hex.DecodeString(keyRaw)
		if err != nil {
			return nil, fmt.Errorf("key entry %d: key is not hex: %w", i, err)
		}
		kind := KeyKindContent
		if t, ok := entry[fields.typeField()].(string); ok && t != "" {
			candidate := KeyKind(strings.ToUpper(t))
			if candidate.IsValid() {
				kind = candidate
			}
		}
		out = append(out, Key{KID: kid, Key: keyBytes, Kind: kind})
	}
	return out, nil
}

func challengeBytes(v any) ([]byte, error) {
	switch c := v.(type) {
	case []byte:
		return c, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			return nil, fmt.Errorf("challenge is not base64: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("challenge has type %T", v)
	}
}
