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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePropertiesAppliesDefaults(t *testing.T) {
	// require-valid-token defaults to true, which needs at least one issuer.
	parsed, err := ParseProperties(map[string]string{
		"issuer.idp1.issuer":   "https://idp1.example.com",
		"issuer.idp1.jwks-url": "https://idp1.example.com/jwks.json",
	})
	require.NoError(t, err)
	assert.Equal(t, "AUTHORIZATION_HEADER", parsed.Global.TokenLocation)
	assert.Equal(t, "Bearer ", parsed.Global.BearerPrefix)
	assert.True(t, parsed.Global.RequireValidToken)
	assert.Len(t, parsed.Entries, 1)
}

func TestParsePropertiesRejectsEmptyIssuersWhenRequired(t *testing.T) {
	_, err := ParseProperties(map[string]string{KeyRequireValidToken: "true"})
	assert.Error(t, err)
}

func TestParsePropertiesAllowsEmptyIssuersWhenNotRequired(t *testing.T) {
	parsed, err := ParseProperties(map[string]string{KeyRequireValidToken: "false"})
	require.NoError(t, err)
	assert.Empty(t, parsed.Entries)
}

func TestParsePropertiesParsesOneIssuer(t *testing.T) {
	props := map[string]string{
		"issuer.idp1.issuer":          "https://idp1.example.com",
		"issuer.idp1.jwks-type":       "url",
		"issuer.idp1.jwks-url":        "https://idp1.example.com/jwks.json",
		"issuer.idp1.audience":        "svc-a, svc-b",
		"issuer.idp1.required-scopes": "read,write",
	}
	parsed, err := ParseProperties(props)
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 1)

	e := parsed.Entries[0]
	assert.Equal(t, "https://idp1.example.com", e.Issuer.IssuerID)
	assert.Equal(t, []string{"svc-a", "svc-b"}, e.Issuer.ExpectedAudience)
	require.NotNil(t, e.Authz)
	assert.Equal(t, []string{"read", "write"}, e.Authz.RequiredScopes)
}

func TestParsePropertiesRejectsMissingIssuerIdentifier(t *testing.T) {
	props := map[string]string{
		"issuer.idp1.jwks-type": "url",
		"issuer.idp1.jwks-url":  "https://idp1.example.com/jwks.json",
	}
	_, err := ParseProperties(props)
	assert.Error(t, err)
}

func TestParsePropertiesRejectsURLTypeWithoutURL(t *testing.T) {
	props := map[string]string{
		"issuer.idp1.issuer":    "https://idp1.example.com",
		"issuer.idp1.jwks-type": "url",
	}
	_, err := ParseProperties(props)
	assert.Error(t, err)
}

func TestParsePropertiesRejectsUnknownJWKSType(t *testing.T) {
	props := map[string]string{
		"issuer.idp1.issuer":    "https://idp1.example.com",
		"issuer.idp1.jwks-type": "carrier-pigeon",
	}
	_, err := ParseProperties(props)
	assert.Error(t, err)
}

func TestParsePropertiesRejectsDuplicateIssuerIdentifierAcrossNames(t *testing.T) {
	props := map[string]string{
		"issuer.a.issuer":   "https://same.example.com",
		"issuer.a.jwks-url": "https://same.example.com/jwks.json",
		"issuer.b.issuer":   "https://same.example.com",
		"issuer.b.jwks-url": "https://same.example.com/jwks.json",
	}
	_, err := ParseProperties(props)
	assert.Error(t, err)
}

func TestParsePropertiesIssuerInheritsGlobalAlgorithmsWhenUnset(t *testing.T) {
	props := map[string]string{
		"issuer.idp1.issuer":   "https://idp1.example.com",
		"issuer.idp1.jwks-url": "https://idp1.example.com/jwks.json",
		KeyAllowedAlgorithms:   "RS256,ES256",
	}
	parsed, err := ParseProperties(props)
	require.NoError(t, err)
	assert.Equal(t, []string{"RS256", "ES256"}, parsed.Entries[0].Issuer.AlgorithmPreferences)
}

func TestParsePropertiesIssuerOwnAlgorithmsOverrideGlobal(t *testing.T) {
	props := map[string]string{
		"issuer.idp1.issuer":     "https://idp1.example.com",
		"issuer.idp1.jwks-url":   "https://idp1.example.com/jwks.json",
		"issuer.idp1.algorithms": "PS256",
		KeyAllowedAlgorithms:     "RS256,ES256",
	}
	parsed, err := ParseProperties(props)
	require.NoError(t, err)
	assert.Equal(t, []string{"PS256"}, parsed.Entries[0].Issuer.AlgorithmPreferences)
}

func TestMergeOverlaysOverrideOnBase(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}
	override := map[string]string{"b": "3", "c": "4"}
	merged := Merge(base, override)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, merged)
	// Inputs must not be mutated.
	assert.Equal(t, "2", base["b"])
}

func TestReadFileIfExistsReturnsNilForEmptyPath(t *testing.T) {
	kv, err := ReadFileIfExists("")
	require.NoError(t, err)
	assert.Nil(t, kv)
}

func TestReadFileIfExistsReturnsNilForMissingFile(t *testing.T) {
	kv, err := ReadFileIfExists(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Nil(t, kv)
}

func TestReadFileIfExistsParsesFlatKeyValueFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.yaml")
	content := "require-valid-token: \"false\"\nissuer:\n  idp1:\n    issuer: https://idp1.example.com\n    jwks-url: https://idp1.example.com/jwks.json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	kv, err := ReadFileIfExists(path)
	require.NoError(t, err)
	assert.Equal(t, "https://idp1.example.com", kv["issuer.idp1.issuer"])
	assert.Equal(t, "false", kv["require-valid-token"])
}

func TestReadFileIfExistsParsesStructuredIssuersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "structured.yaml")
	content := `
global:
  require-valid-token: "true"
issuers:
  - name: idp1
    issuer: https://idp1.example.com
    jwks-url: https://idp1.example.com/jwks.json
    audience: ["svc-a", "svc-b"]
    required-scopes: ["read"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	kv, err := ReadFileIfExists(path)
	require.NoError(t, err)
	assert.Equal(t, "https://idp1.example.com", kv["issuer.idp1.issuer"])
	assert.Equal(t, "https://idp1.example.com/jwks.json", kv["issuer.idp1.jwks-url"])
	assert.Equal(t, "svc-a,svc-b", kv["issuer.idp1.audience"])
	assert.Equal(t, "true", kv["require-valid-token"])

	parsed, err := ParseProperties(kv)
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 1)
	assert.Equal(t, []string{"svc-a", "svc-b"}, parsed.Entries[0].Issuer.ExpectedAudience)
}

func TestNewFileWatcherFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("require-valid-token: \"false\"\n"), 0o600))

	changed := make(chan map[string]string, 1)
	fw, err := NewFileWatcher(path, func(kv map[string]string) {
		changed <- kv
	})
	require.NoError(t, err)
	defer fw.Close()

	require.NoError(t, os.WriteFile(path, []byte("require-valid-token: \"true\"\n"), 0o600))

	select {
	case kv := <-changed:
		assert.Equal(t, "true", kv["require-valid-token"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for file watcher to fire")
	}
}

func TestNewFileWatcherNoopForEmptyPath(t *testing.T) {
	fw, err := NewFileWatcher("", nil)
	require.NoError(t, err)
	assert.Nil(t, fw)
}
