/*
 * SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package validator implements the compact-JWS parse/verify/claims pipeline:
// size gate, structural parse, header decode, algorithm gate, payload
// decode, issuer match, key resolution, signature verification, and
// standard claim checks.
//
// The token's issuer claim is read from the still-unverified payload before
// signature verification, since it determines which issuer's keyset and
// algorithm allow-list apply. The algorithm gate admits HS* only when an
// issuer explicitly opts in, never by default, and never admits none.
package validator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/cuioss/nifi-extensions-sub005/internal/apperr"
	"github.com/cuioss/nifi-extensions-sub005/internal/jwkscache"
	"github.com/cuioss/nifi-extensions-sub005/internal/registry"
)

// secureDefaultAlgorithms is the allow-list used when an issuer specifies
// no algorithm-preferences of its own: asymmetric signature algorithms
// only, at 256/384/512 bit strengths. "none" never appears here, and never
// will regardless of what an issuer configures.
var secureDefaultAlgorithms = mapset.NewSet(
	"RS256", "RS384", "RS512",
	"ES256", "ES384", "ES512",
	"PS256", "PS384", "PS512",
)

var hmacAlgorithms = mapset.NewSet("HS256", "HS384", "HS512")

const defaultIATFutureTolerance = 60 * time.Second

// KeyResolver is the subset of the JWKS cache the validator depends on,
// expressed as an interface so tests can substitute a fixed keyset without
// constructing a real cache.
type KeyResolver interface {
	Lookup(ctx context.Context, issuerID, kid string) (*josejwk.JSONWebKey, error)
}

// Content is the parsed, verified content of an access token, returned on
// successful validation.
type Content struct {
	Claims     map[string]interface{}
	Subject    string
	Issuer     string
	Expiration time.Time
	Scopes     []string
	Roles      []string
	Groups     []string
}

// Validator runs the parse/verify/claims pipeline against a compact JWS string.
type Validator struct {
	Keys             KeyResolver
	MaxTokenSize     int
	ClockSkew        time.Duration
	IATFutureTolerance time.Duration
}

// New builds a Validator. A zero ClockSkew means strict boundary
// comparisons: a token whose exp equals the current instant is rejected.
func New(keys KeyResolver, maxTokenSize int, clockSkew time.Duration) *Validator {
	tol := defaultIATFutureTolerance
	return &Validator{Keys: keys, MaxTokenSize: maxTokenSize, ClockSkew: clockSkew, IATFutureTolerance: tol}
}

// Validate runs the full pipeline against a raw compact-JWS string,
// resolving the issuer against snap.
func (v *Validator) Validate(ctx context.Context, snap *registry.Snapshot, raw string) (*Content, error) {
	// 1. Size gate.
	if v.MaxTokenSize > 0 && len(raw) > v.MaxTokenSize {
		return nil, apperr.New(apperr.KindFormat, apperr.CodeOversize,
			"token length "+strconv.Itoa(len(raw))+" exceeds limit "+strconv.Itoa(v.MaxTokenSize))
	}

	// 2. Structural parse.
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, apperr.New(apperr.KindFormat, apperr.CodeMalformed, "token is not a three-segment compact JWS")
	}

	// 3. Header decode.
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, apperr.CodeMalformed, "decoding token header", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, apperr.CodeMalformed, "parsing token header json", err)
	}
	if header.Alg == "" {
		return nil, apperr.New(apperr.KindFormat, apperr.CodeMalformed, "token header is missing alg")
	}

	// 5. Payload decode (moved ahead of the algorithm gate: the gate is
	// issuer-scoped, so it runs once, after the issuer match below).
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, apperr.CodeMalformed, "decoding token payload", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, apperr.CodeMalformed, "parsing token payload json", err)
	}
	issRaw, ok := claims["iss"].(string)
	if !ok || issRaw == "" {
		return nil, apperr.New(apperr.KindClaim, apperr.CodeIssuerUnknown, "token payload is missing iss")
	}

	// 6. Issuer match.
	entry, found := snap.Lookup(issRaw)
	if !found {
		return nil, apperr.New(apperr.KindClaim, apperr.CodeIssuerUnknown, "issuer \""+issRaw+"\" is not registered")
	}

	// 4. Algorithm gate (issuer-scoped: the issuer's algorithm-preferences,
	// if any, replace the secure default; HS* only if explicitly listed;
	// "none" is never admitted regardless of configuration).
	if !algorithmAllowed(header.Alg, entry.Issuer.AlgorithmPreferences) {
		return nil, apperr.New(apperr.KindFormat, apperr.CodeMalformed, "algorithm \""+header.Alg+"\" is not in the allow-list")
	}

	// 7. Key resolution.
	key, err := v.Keys.Lookup(ctx, issRaw, header.Kid)
	if err != nil {
		if errors.Is(err, jwkscache.ErrKeysUnavailable) {
			return nil, apperr.Wrap(apperr.KindCryptographic, apperr.CodeSignatureInvalid, "jwks unavailable for issuer", err)
		}
		return nil, apperr.Wrap(apperr.KindCryptographic, apperr.CodeSignatureInvalid, "no matching key for token", err)
	}

	// 8. Signature verify.
	pubKey, err := publicKeyMaterial(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCryptographic, apperr.CodeSignatureInvalid, "unusable key material", err)
	}
	method := jwt.GetSigningMethod(header.Alg)
	if method == nil {
		return nil, apperr.New(apperr.KindFormat, apperr.CodeMalformed, "unsupported signing method \""+header.Alg+"\"")
	}
	signingInput := parts[0] + "." + parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFormat, apperr.CodeMalformed, "decoding token signature", err)
	}
	if err := method.Verify(signingInput, sig, pubKey); err != nil {
		return nil, apperr.Wrap(apperr.KindCryptographic, apperr.CodeSignatureInvalid, "signature verification failed", err)
	}

	// 9. Claim checks.
	if err := checkTimeClaims(claims, v.ClockSkew, v.IATFutureTolerance); err != nil {
		return nil, err
	}
	if len(entry.Issuer.ExpectedAudience) > 0 {
		if !audienceSatisfied(claims, entry.Issuer.ExpectedAudience) {
			return nil, apperr.New(apperr.KindClaim, apperr.CodeAudienceMismatch, "token audience does not intersect expected-audience")
		}
	}
	if entry.Issuer.ExpectedClientID != "" {
		azp, _ := claims["azp"].(string)
		clientID, _ := claims["client_id"].(string)
		if azp != entry.Issuer.ExpectedClientID && clientID != entry.Issuer.ExpectedClientID {
			return nil, apperr.New(apperr.KindClaim, apperr.CodeAudienceMismatch, "token azp/client_id does not match expected-client-id")
		}
	}

	// 10. Emit.
	content := &Content{
		Claims: claims,
		Issuer: issRaw,
	}
	if sub, ok := claims["sub"].(string); ok {
		content.Subject = sub
	}
	if expFloat, ok := claims["exp"].(float64); ok {
		content.Expiration = time.Unix(int64(expFloat), 0)
	}
	content.Scopes = stringListClaim(claims, "scope", "scp")
	content.Roles = stringListClaim(claims, "roles", "role")
	content.Groups = stringListClaim(claims, "groups")

	return content, nil
}

// algorithmAllowed decides the effective allow-list gate for alg.
// preferences, when non-empty, is the issuer's explicit opt-in list (this
// is the only way HS* ever passes); an empty preferences list falls back to
// the secure asymmetric-only default. "none" is rejected unconditionally,
// regardless of what a misconfigured preferences list might contain.
func algorithmAllowed(alg string, preferences []string) bool {
	if strings.EqualFold(alg, "none") {
		return false
	}
	if len(preferences) > 0 {
		for _, p := range preferences {
			if p == alg {
				return true
			}
		}
		return false
	}
	if hmacAlgorithms.Contains(alg) {
		return false
	}
	return secureDefaultAlgorithms.Contains(alg)
}

func publicKeyMaterial(key *josejwk.JSONWebKey) (interface{}, error) {
	if key == nil {
		return nil, errors.New("nil key")
	}
	return key.Key, nil
}

func checkTimeClaims(claims map[string]interface{}, skew, iatTolerance time.Duration) error {
	now := time.Now()

	if expFloat, ok := claims["exp"].(float64); ok {
		exp := time.Unix(int64(expFloat), 0)
		if !now.Before(exp.Add(skew)) {
			return apperr.New(apperr.KindClaim, apperr.CodeExpired, "token exp has passed")
		}
	}

	if nbfFloat, ok := claims["nbf"].(float64); ok {
		nbf := time.Unix(int64(nbfFloat), 0)
		if now.Add(skew).Before(nbf) {
			return apperr.New(apperr.KindClaim, apperr.CodeExpired, "token nbf is in the future")
		}
	}

	if iatFloat, ok := claims["iat"].(float64); ok {
		iat := time.Unix(int64(iatFloat), 0)
		if iat.After(now.Add(iatTolerance)) {
			return apperr.New(apperr.KindClaim, apperr.CodeExpired, "token iat is unreasonably far in the future")
		}
	}

	return nil
}

func audienceSatisfied(claims map[string]interface{}, expected []string) bool {
	expectedSet := mapset.NewSet(expected...)
	actual := mapset.NewSet[string]()
	switch v := claims["aud"].(type) {
	case string:
		actual.Add(v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				actual.Add(s)
			}
		}
	}
	return actual.Intersect(expectedSet).Cardinality() > 0
}

func stringListClaim(claims map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v == "" {
				continue
			}
			return strings.Fields(v)
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
