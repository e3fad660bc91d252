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

package validator

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuioss/nifi-extensions-sub005/internal/apperr"
	"github.com/cuioss/nifi-extensions-sub005/internal/jwkscache"
	"github.com/cuioss/nifi-extensions-sub005/internal/registry"
	"github.com/cuioss/nifi-extensions-sub005/internal/testsupport"
)

const testIssuer = "https://issuer.example.com"

type fakeResolver struct {
	key *josejwk.JSONWebKey
	err error
}

func (f *fakeResolver) Lookup(_ context.Context, _, _ string) (*josejwk.JSONWebKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.key, nil
}

func jwkFor(key *rsa.PrivateKey, kid string) *josejwk.JSONWebKey {
	return &josejwk.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
}

func snapshotWith(entry registry.Entry) *registry.Snapshot {
	return &registry.Snapshot{ByIssuerID: map[string]registry.Entry{entry.Issuer.IssuerID: entry}}
}

func issuerEntry(opts ...func(*registry.IssuerConfig)) registry.Entry {
	ic := registry.IssuerConfig{Name: "a", IssuerID: testIssuer}
	for _, o := range opts {
		o(&ic)
	}
	return registry.Entry{Issuer: ic}
}

func signedToken(t *testing.T, key *rsa.PrivateKey, kid string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := testsupport.BaseClaims(testIssuer, "user-1")
	if mutate != nil {
		mutate(claims)
	}
	return testsupport.SignToken(key, kid, claims)
}

func TestValidateRejectsOversizeToken(t *testing.T) {
	v := New(&fakeResolver{}, 10, 0)
	_, err := v.Validate(context.Background(), registry.New().Current(), strings.Repeat("a", 20))
	requireAppErrCode(t, err, apperr.CodeOversize)
}

func TestValidateRejectsMalformedStructure(t *testing.T) {
	v := New(&fakeResolver{}, 0, 0)
	_, err := v.Validate(context.Background(), registry.New().Current(), "not.a.jws.token")
	requireAppErrCode(t, err, apperr.CodeMalformed)
}

func TestValidateRejectsMissingAlgHeader(t *testing.T) {
	v := New(&fakeResolver{}, 0, 0)
	raw := "eyJ0eXAiOiJKV1QifQ.eyJpc3MiOiJ4In0.c2ln"
	_, err := v.Validate(context.Background(), registry.New().Current(), raw)
	requireAppErrCode(t, err, apperr.CodeMalformed)
}

func TestValidateRejectsUnregisteredIssuer(t *testing.T) {
	key := testsupport.NewRSAKey()
	raw := signedToken(t, key, "kid-1", nil)

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	_, err := v.Validate(context.Background(), registry.New().Current(), raw)
	requireAppErrCode(t, err, apperr.CodeIssuerUnknown)
}

func TestValidateRejectsNoneAlgorithmRegardlessOfPreferences(t *testing.T) {
	entry := issuerEntry(func(ic *registry.IssuerConfig) {
		ic.AlgorithmPreferences = []string{"none", "HS256"}
	})
	snap := snapshotWith(entry)

	header := `{"alg":"none"}`
	raw := base64URL(header) + "." + base64URL(`{"iss":"`+testIssuer+`"}`) + "."

	v := New(&fakeResolver{}, 0, 0)
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeMalformed)
}

func TestValidateRejectsHMACUnlessExplicitlyAllowed(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry()
	snap := snapshotWith(entry)

	raw := signedToken(t, key, "kid-1", nil)
	// Swap the header to claim HS256 without re-signing; the algorithm gate
	// must reject before any key lookup or signature check happens.
	parts := strings.SplitN(raw, ".", 3)
	forged := base64URL(`{"alg":"HS256"}`) + "." + parts[1] + "." + parts[2]

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	_, err := v.Validate(context.Background(), snap, forged)
	requireAppErrCode(t, err, apperr.CodeMalformed)
}

func TestValidateAllowsHMACWhenIssuerOptsIn(t *testing.T) {
	entry := issuerEntry(func(ic *registry.IssuerConfig) {
		ic.AlgorithmPreferences = []string{"HS256"}
	})
	snap := snapshotWith(entry)

	claims := testsupport.BaseClaims(testIssuer, "user-1")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	v := New(&fakeResolver{key: &josejwk.JSONWebKey{Key: []byte("shared-secret"), KeyID: ""}}, 0, 0)
	content, err := v.Validate(context.Background(), snap, signed)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, content.Issuer)
}

func TestValidateKeyResolutionFailureMapsToSignatureInvalid(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry()
	snap := snapshotWith(entry)
	raw := signedToken(t, key, "kid-1", nil)

	v := New(&fakeResolver{err: jwkscache.ErrKeysUnavailable}, 0, 0)
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeSignatureInvalid)
}

func TestValidateRejectsWrongSigningKey(t *testing.T) {
	signingKey := testsupport.NewRSAKey()
	otherKey := testsupport.NewRSAKey()
	entry := issuerEntry()
	snap := snapshotWith(entry)
	raw := signedToken(t, signingKey, "kid-1", nil)

	v := New(&fakeResolver{key: jwkFor(otherKey, "kid-1")}, 0, 0)
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeSignatureInvalid)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry()
	snap := snapshotWith(entry)
	raw := signedToken(t, key, "kid-1", func(c jwt.MapClaims) {
		c["exp"] = time.Now().Add(-time.Minute).Unix()
	})

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeExpired)
}

func TestValidateRejectsTokenExpiringExactlyNow(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry()
	snap := snapshotWith(entry)

	now := time.Now()
	raw := signedToken(t, key, "kid-1", func(c jwt.MapClaims) {
		c["exp"] = now.Unix()
	})

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	// exp truncates to whole seconds; evaluated against a sub-second "now"
	// in the same second, zero clock skew means no benefit of the doubt at
	// the boundary and the token is already expired.
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeExpired)
}

func TestValidateRejectsNotYetValidToken(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry()
	snap := snapshotWith(entry)
	raw := signedToken(t, key, "kid-1", func(c jwt.MapClaims) {
		c["nbf"] = time.Now().Add(time.Hour).Unix()
	})

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeExpired)
}

func TestValidateRejectsAudienceMismatch(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry(func(ic *registry.IssuerConfig) {
		ic.ExpectedAudience = []string{"svc-a"}
	})
	snap := snapshotWith(entry)
	raw := signedToken(t, key, "kid-1", func(c jwt.MapClaims) {
		c["aud"] = "svc-b"
	})

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeAudienceMismatch)
}

func TestValidateRejectsClientIDMismatch(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry(func(ic *registry.IssuerConfig) {
		ic.ExpectedClientID = "expected-client"
	})
	snap := snapshotWith(entry)
	raw := signedToken(t, key, "kid-1", func(c jwt.MapClaims) {
		c["azp"] = "other-client"
	})

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	_, err := v.Validate(context.Background(), snap, raw)
	requireAppErrCode(t, err, apperr.CodeAudienceMismatch)
}

func TestValidateSucceedsAndExtractsContent(t *testing.T) {
	key := testsupport.NewRSAKey()
	entry := issuerEntry(func(ic *registry.IssuerConfig) {
		ic.ExpectedAudience = []string{"svc-a"}
		ic.ExpectedClientID = "my-client"
	})
	snap := snapshotWith(entry)
	raw := signedToken(t, key, "kid-1", func(c jwt.MapClaims) {
		c["aud"] = []interface{}{"svc-a", "svc-b"}
		c["azp"] = "my-client"
		c["scope"] = "read write"
		c["roles"] = []interface{}{"admin", "operator"}
		c["groups"] = []interface{}{"eng"}
	})

	v := New(&fakeResolver{key: jwkFor(key, "kid-1")}, 0, 0)
	content, err := v.Validate(context.Background(), snap, raw)
	require.NoError(t, err)

	assert.Equal(t, testIssuer, content.Issuer)
	assert.Equal(t, "user-1", content.Subject)
	assert.ElementsMatch(t, []string{"read", "write"}, content.Scopes)
	assert.ElementsMatch(t, []string{"admin", "operator"}, content.Roles)
	assert.ElementsMatch(t, []string{"eng"}, content.Groups)
	assert.False(t, content.Expiration.IsZero())
}

func requireAppErrCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected a structured apperr.Error, got %T: %v", err, err)
	assert.Equal(t, code, ae.Code)
}

func base64URL(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
