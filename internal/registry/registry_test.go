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

package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryStartsEmpty(t *testing.T) {
	r := New()
	snap := r.Current()
	require.NotNil(t, snap)
	_, found := snap.Lookup("anything")
	assert.False(t, found)
}

func TestRebuildInstallsEntries(t *testing.T) {
	r := New()
	entries := []Entry{
		{Issuer: IssuerConfig{Name: "a", IssuerID: "https://a.example.com"}},
		{Issuer: IssuerConfig{Name: "b", IssuerID: "https://b.example.com"}},
	}
	err := r.Rebuild(entries, "fp1", false, nil)
	require.NoError(t, err)

	snap := r.Current()
	assert.Equal(t, "fp1", snap.Fingerprint)
	e, found := snap.Lookup("https://a.example.com")
	require.True(t, found)
	assert.Equal(t, "a", e.Issuer.Name)
}

func TestRebuildRejectsDuplicateIssuerID(t *testing.T) {
	r := New()
	entries := []Entry{
		{Issuer: IssuerConfig{Name: "a", IssuerID: "https://same.example.com"}},
		{Issuer: IssuerConfig{Name: "b", IssuerID: "https://same.example.com"}},
	}
	err := r.Rebuild(entries, "fp1", false, nil)
	assert.Error(t, err)

	// Old (empty) snapshot must remain installed.
	snap := r.Current()
	_, found := snap.Lookup("https://same.example.com")
	assert.False(t, found)
}

func TestRebuildRejectsEmptyWhenRequireValidTokenSet(t *testing.T) {
	r := New()
	err := r.Rebuild(nil, "fp1", true, nil)
	assert.Error(t, err)
}

func TestRebuildAllowsEmptyWhenRequireValidTokenUnset(t *testing.T) {
	r := New()
	err := r.Rebuild(nil, "fp1", false, nil)
	assert.NoError(t, err)
}

func TestRebuildCallsEvictFnForRemovedIssuers(t *testing.T) {
	r := New()
	require.NoError(t, r.Rebuild([]Entry{
		{Issuer: IssuerConfig{Name: "a", IssuerID: "https://a.example.com"}},
		{Issuer: IssuerConfig{Name: "b", IssuerID: "https://b.example.com"}},
	}, "fp1", false, nil))

	var evicted []string
	var mu sync.Mutex
	err := r.Rebuild([]Entry{
		{Issuer: IssuerConfig{Name: "a", IssuerID: "https://a.example.com"}},
	}, "fp2", false, func(issuerID string) {
		mu.Lock()
		evicted = append(evicted, issuerID)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example.com"}, evicted)
}

func TestCurrentIsSafeForConcurrentReaders(t *testing.T) {
	r := New()
	require.NoError(t, r.Rebuild([]Entry{
		{Issuer: IssuerConfig{Name: "a", IssuerID: "https://a.example.com"}},
	}, "fp1", false, nil))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := r.Current()
			_, _ = snap.Lookup("https://a.example.com")
		}()
	}
	wg.Wait()
}

func TestFingerprintIsStableAndOrderIndependent(t *testing.T) {
	issuerProps := map[string]map[string]string{
		"a": {"issuer": "https://a.example.com", "jwks-type": "url"},
		"b": {"issuer": "https://b.example.com"},
	}
	globalProps := map[string]string{"require-valid-token": "true"}

	fp1 := Fingerprint(issuerProps, globalProps)
	fp2 := Fingerprint(issuerProps, globalProps)
	assert.Equal(t, fp1, fp2)

	globalProps["require-valid-token"] = "false"
	fp3 := Fingerprint(issuerProps, globalProps)
	assert.NotEqual(t, fp1, fp3)
}
