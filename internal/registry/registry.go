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

// Package registry holds the current immutable snapshot of issuer
// configuration behind a single atomically-replaceable pointer. Readers
// never block; the only mutation is a full-snapshot replace, serialized by
// a dedicated rebuild lock so at most one rebuild proceeds at a time.
package registry

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuioss/nifi-extensions-sub005/internal/apperr"
)

// IssuerConfig is the immutable, per-issuer configuration installed into a
// snapshot. It is never mutated after construction.
type IssuerConfig struct {
	Name                 string
	IssuerID             string
	JWKSSourceKind       string // "url" | "file" | "inline"
	JWKSURL              string
	JWKSFile             string
	JWKSContent          string
	RefreshInterval      int64 // seconds
	ConnectTimeoutMillis int64
	RequireHTTPS         bool
	ExpectedAudience     []string
	ExpectedClientID     string
	AlgorithmPreferences []string
}

// AuthorizationConfig is the immutable, optional per-issuer authorization
// policy. A nil *AuthorizationConfig on an entry means authorization is
// bypassed for that issuer: every validated token is authorized.
type AuthorizationConfig struct {
	RequiredScopes  []string
	RequiredRoles   []string
	RequiredGroups  []string
	RequiredAud     []string
	RolesMatchAll   bool
}

// Entry pairs an issuer's configuration with its optional authorization
// policy.
type Entry struct {
	Issuer IssuerConfig
	Authz  *AuthorizationConfig
}

// Snapshot is the immutable registry state observed by exactly one message;
// never mutated after construction, only replaced wholesale.
type Snapshot struct {
	ByIssuerID  map[string]Entry
	Fingerprint string
}

// Lookup finds the entry for an issuer identifier, as compared against a
// token's iss claim.
func (s *Snapshot) Lookup(issuerID string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.ByIssuerID[issuerID]
	return e, ok
}

// Registry owns the atomically-swapped snapshot pointer plus the rebuild
// lock that serializes the (comparatively expensive) rebuild path.
type Registry struct {
	snapshot    atomic.Pointer[Snapshot]
	rebuildLock sync.Mutex
}

// New builds a registry with an empty initial snapshot.
func New() *Registry {
	r := &Registry{}
	r.snapshot.Store(&Snapshot{ByIssuerID: map[string]Entry{}, Fingerprint: ""})
	return r
}

// Current returns the currently installed snapshot. Lock-free; safe to call
// from any number of concurrent message-processing goroutines.
func (r *Registry) Current() *Snapshot {
	return r.snapshot.Load()
}

// EvictFunc is invoked once per issuer id that existed in the old snapshot
// but not the new one, so the caller (the JWKS cache) can discard any
// lingering keyed state for a removed issuer.
type EvictFunc func(issuerID string)

// Rebuild installs a new snapshot built from entries, provided the
// candidate set is internally valid. Only one rebuild proceeds at a time;
// concurrent readers of Current never observe a partially built snapshot.
//
// Duplicate issuer identifiers are rejected; an empty result with
// requireValidToken=true fails the rebuild (old snapshot remains); on
// success the new snapshot and fingerprint are installed and evictFn is
// called for every issuer present in the old snapshot but absent from the
// new one.
func (r *Registry) Rebuild(entries []Entry, fingerprint string, requireValidToken bool, evictFn EvictFunc) error {
	r.rebuildLock.Lock()
	defer r.rebuildLock.Unlock()

	byIssuer := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if _, dup := byIssuer[e.Issuer.IssuerID]; dup {
			return apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
				"duplicate issuer identifier \""+e.Issuer.IssuerID+"\" in configuration")
		}
		byIssuer[e.Issuer.IssuerID] = e
	}

	if len(byIssuer) == 0 && requireValidToken {
		return apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
			"require-valid-token is set but no issuer is configured")
	}

	old := r.snapshot.Load()
	newSnapshot := &Snapshot{ByIssuerID: byIssuer, Fingerprint: fingerprint}
	r.snapshot.Store(newSnapshot)

	if old != nil && evictFn != nil {
		for issuerID := range old.ByIssuerID {
			if _, stillPresent := byIssuer[issuerID]; !stillPresent {
				evictFn(issuerID)
			}
		}
	}

	return nil
}

// Fingerprint computes a stable hash over every property that contributes
// to the registry snapshot: the sorted set of issuer definitions plus the
// sorted set of global properties. FNV-64a is used deliberately: this is a
// fixed, compile-time "hash a sorted key-value set" operation with no
// natural third-party library home.
func Fingerprint(issuerProps map[string]map[string]string, globalProps map[string]string) string {
	h := fnv.New64a()

	issuerNames := make([]string, 0, len(issuerProps))
	for name := range issuerProps {
		issuerNames = append(issuerNames, name)
	}
	sort.Strings(issuerNames)

	for _, name := range issuerNames {
		_, _ = h.Write([]byte("issuer:" + name + "\n"))
		props := issuerProps[name]
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.Write([]byte(k + "=" + props[k] + "\n"))
		}
	}

	globalKeys := make([]string, 0, len(globalProps))
	for k := range globalProps {
		globalKeys = append(globalKeys, k)
	}
	sort.Strings(globalKeys)
	for _, k := range globalKeys {
		_, _ = h.Write([]byte("global:" + k + "=" + globalProps[k] + "\n"))
	}

	return hex64(h.Sum64())
}

func hex64(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
