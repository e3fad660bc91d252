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

// Package testsupport generates RSA test keys, JWKS fixtures and signed
// compact JWS tokens shared across this repository's tests, so every
// package's tests build tokens the same way rather than each reinventing
// JWKS JSON construction.
package testsupport

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewRSAKey generates a fresh 2048-bit RSA key for a single test.
func NewRSAKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("testsupport: generating RSA key: " + err.Error())
	}
	return key
}

// JWKSDocument renders a single-key JWKS document for publicKey under kid.
func JWKSDocument(publicKey *rsa.PublicKey, kid string) []byte {
	n := base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes())
	doc := fmt.Sprintf(`{"keys":[{"kty":"RSA","use":"sig","kid":"%s","alg":"RS256","n":"%s","e":"%s"}]}`, kid, n, e)
	return []byte(doc)
}

// MultiKeyJWKSDocument renders a JWKS document containing every given
// (kid, key) pair, for tests exercising kid-based key selection.
func MultiKeyJWKSDocument(keys map[string]*rsa.PrivateKey) []byte {
	entries := make([]string, 0, len(keys))
	for kid, key := range keys {
		n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes())
		entries = append(entries, fmt.Sprintf(`{"kty":"RSA","use":"sig","kid":"%s","alg":"RS256","n":"%s","e":"%s"}`, kid, n, e))
	}
	doc := `{"keys":[`
	for i, e := range entries {
		if i > 0 {
			doc += ","
		}
		doc += e
	}
	doc += `]}`
	return []byte(doc)
}

// SignToken signs claims as a compact RS256 JWS with the given kid.
func SignToken(key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		panic("testsupport: signing token: " + err.Error())
	}
	return signed
}

// BaseClaims returns a minimal, currently-valid claim set for issuer/subject.
func BaseClaims(issuer, subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}
