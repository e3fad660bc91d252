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

// Package jwkscache maintains, per issuer, at most one live JWKS entry:
// refresh on the first lookup after an entry outlives its refresh interval
// (there is no background refresh goroutine), single-flight fetch
// coalescing, and a
// fail-soft grace period that keeps serving the last-known-good keys
// through a short upstream outage rather than failing every verification.
//
// Concurrent lookups that trigger the same refresh share one outbound
// fetch via golang.org/x/sync/singleflight rather than serializing
// redundant ones.
package jwkscache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/cuioss/nifi-extensions-sub005/internal/keysource"
	"github.com/cuioss/nifi-extensions-sub005/internal/metrics"
)

// refreshRetryAttempts bounds how many fetch attempts (the first one
// included) a single refresh makes when the failure is transient
// (network/timeout) before surrendering to the fail-soft grace path; non-transient failures (not-found, forbidden,
// malformed, protocol) are never retried.
const refreshRetryAttempts = 3

// State is the freshness state of a cache entry.
type State string

const (
	StateFresh   State = "fresh"
	StateStale   State = "stale"
	StateFailing State = "failing"
)

// ErrKeysUnavailable is returned when an entry has exhausted its fail-soft
// grace period and no fresh fetch has succeeded since.
var ErrKeysUnavailable = errors.New("jwkscache: keys unavailable")

// ErrKidUnknown is returned when the JWKS has no key with the requested kid.
var ErrKidUnknown = errors.New("jwkscache: kid unknown")

const minKidMissRefreshInterval = 10 * time.Second

// entry is the per-issuer cache record. All reads through the Cache's
// public methods take the entry's mu; the fetch itself is coordinated by the
// shared singleflight.Group, never while entryMu is held.
type entry struct {
	mu sync.RWMutex

	keys map[string]josejwk.JSONWebKey // kid -> key
	// solitaryKey holds the lone key of a single-key JWKS, used when a
	// token omits kid and there is exactly one candidate.
	solitaryKey *josejwk.JSONWebKey

	state        State
	fetchedAt    time.Time
	etagOrHash   string
	lastKidMiss  time.Time
	refreshEvery time.Duration
	graceWindow  time.Duration
}

func (e *entry) isStaleLocked(now time.Time) bool {
	return now.Sub(e.fetchedAt) > e.refreshEvery
}

func (e *entry) isExpiredLocked(now time.Time) bool {
	return now.Sub(e.fetchedAt) > e.refreshEvery+e.graceWindow
}

// refreshPolicy is the per-issuer refresh cadence and grace window, captured
// at Register time so refresh() never has to fall back to a one-size-fits-
// all default.
type refreshPolicy struct {
	refreshEvery time.Duration
	graceWindow  time.Duration
}

// Cache maintains the set of per-issuer entries.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	sources  map[string]keysource.Source
	policies map[string]refreshPolicy

	group singleflight.Group

	metrics *metrics.Metrics
}

// New builds an empty cache. Sources for each issuer are registered via
// Register as the registry installs issuer configurations.
func New(m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Cache{
		entries:  make(map[string]*entry),
		sources:  make(map[string]keysource.Source),
		policies: make(map[string]refreshPolicy),
		metrics:  m,
	}
}

// Register associates an issuer with its key source and refresh policy.
// Safe to call again for the same issuer id with a new source (e.g. on
// reconfiguration); the previous entry, if any, is discarded so stale keys
// never outlive the issuer definition that produced them.
func (c *Cache) Register(issuerID string, src keysource.Source, refreshEvery, graceWindow time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[issuerID] = src
	c.policies[issuerID] = refreshPolicy{refreshEvery: refreshEvery, graceWindow: graceWindow}
	delete(c.entries, issuerID)
}

// Evict removes an issuer's cache entry, source and refresh policy entirely,
// matching the Registry's rebuild-invalidation step. After Evict, no
// subsequent Lookup for this issuer can succeed until Register is called
// again.
func (c *Cache) Evict(issuerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, issuerID)
	delete(c.sources, issuerID)
	delete(c.policies, issuerID)
}

// Lookup resolves a verification key for (issuerID, kid). An empty kid
// requests the solitary-key fallback for single-key JWKS documents.
func (c *Cache) Lookup(ctx context.Context, issuerID, kid string) (*josejwk.JSONWebKey, error) {
	c.mu.RLock()
	src, hasSrc := c.sources[issuerID]
	e, hasEntry := c.entries[issuerID]
	c.mu.RUnlock()

	if !hasSrc {
		return nil, errors.Errorf("jwkscache: issuer %q not registered", issuerID)
	}

	if !hasEntry {
		if err := c.refresh(ctx, issuerID, src); err != nil {
			return nil, err
		}
		c.mu.RLock()
		e = c.entries[issuerID]
		c.mu.RUnlock()
	}

	now := time.Now()

	e.mu.RLock()
	stale := e.isStaleLocked(now)
	expired := e.isExpiredLocked(now)
	key := lookupInEntry(e, kid)
	e.mu.RUnlock()

	if key != nil && stale {
		if err := c.refresh(ctx, issuerID, src); err != nil {
			if expired {
				return nil, ErrKeysUnavailable
			}
			c.metrics.TransientErrorsAbsorbed.Inc()
			log.Warn().Err(err).Str("issuer", issuerID).Msg("jwks refresh failed, serving stale keys within grace window")
			return key, nil
		}
		c.mu.RLock()
		e = c.entries[issuerID]
		c.mu.RUnlock()
		e.mu.RLock()
		key, stale = lookupInEntry(e, kid), false
		e.mu.RUnlock()
	}

	if key != nil {
		return key, nil
	}

	// kid-miss or proactive staleness: trigger a throttled refresh.
	e.mu.RLock()
	sinceLastKidMiss := now.Sub(e.lastKidMiss)
	e.mu.RUnlock()

	if kid != "" && sinceLastKidMiss >= minKidMissRefreshInterval {
		e.mu.Lock()
		e.lastKidMiss = now
		e.mu.Unlock()
		if err := c.refresh(ctx, issuerID, src); err != nil {
			if expired {
				return nil, ErrKeysUnavailable
			}
			c.metrics.TransientErrorsAbsorbed.Inc()
			log.Warn().Err(err).Str("issuer", issuerID).Msg("jwks refresh on kid-miss failed, serving stale keys")
		}
		c.mu.RLock()
		e = c.entries[issuerID]
		c.mu.RUnlock()
		e.mu.RLock()
		key = lookupInEntry(e, kid)
		stillExpired := e.isExpiredLocked(time.Now())
		e.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		if stillExpired {
			return nil, ErrKeysUnavailable
		}
		return nil, ErrKidUnknown
	}

	if stale {
		if err := c.refresh(ctx, issuerID, src); err != nil {
			if expired {
				return nil, ErrKeysUnavailable
			}
			c.metrics.TransientErrorsAbsorbed.Inc()
			log.Warn().Err(err).Str("issuer", issuerID).Msg("jwks refresh failed, serving stale keys within grace window")
		}
	}

	if expired {
		return nil, ErrKeysUnavailable
	}
	return nil, ErrKidUnknown
}

func lookupInEntry(e *entry, kid string) *josejwk.JSONWebKey {
	if kid == "" {
		return e.solitaryKey
	}
	if k, ok := e.keys[kid]; ok {
		return &k
	}
	return nil
}

// refresh performs (or joins an in-flight) fetch for issuerID. Concurrent
// callers for the same issuer collapse onto the same singleflight call, so
// at most one outbound fetch is issued per refresh window.
func (c *Cache) refresh(ctx context.Context, issuerID string, src keysource.Source) error {
	ranFetch := false
	_, err, shared := c.group.Do(issuerID, func() (interface{}, error) {
		ranFetch = true
		doc, etag, ferr := fetchWithRetry(ctx, src)
		if ferr != nil {
			return nil, ferr
		}
		if doc == nil {
			// Not-modified response: just bump fetchedAt on the existing entry.
			c.mu.RLock()
			e, ok := c.entries[issuerID]
			c.mu.RUnlock()
			if ok {
				e.mu.Lock()
				e.fetchedAt = time.Now()
				e.state = StateFresh
				e.mu.Unlock()
			}
			return nil, nil
		}

		var set josejwk.JSONWebKeySet
		if jerr := json.Unmarshal(doc, &set); jerr != nil {
			return nil, errors.Wrap(jerr, "decoding jwks document")
		}
		if len(set.Keys) == 0 {
			return nil, errors.Errorf("jwks document for issuer %q has no keys", issuerID)
		}

		keys := make(map[string]josejwk.JSONWebKey, len(set.Keys))
		for _, k := range set.Keys {
			keys[k.KeyID] = k
		}

		c.mu.Lock()
		policy, hasPolicy := c.policies[issuerID]
		refreshEvery, grace := policy.refreshEvery, policy.graceWindow
		if !hasPolicy {
			// Defensive fallback only: every registered issuer has a policy
			// set by Register before refresh() is ever reachable for it.
			refreshEvery = 5 * time.Minute
			grace = 2 * refreshEvery
		}
		newEntry := &entry{
			keys:         keys,
			state:        StateFresh,
			fetchedAt:    time.Now(),
			etagOrHash:   etag,
			refreshEvery: refreshEvery,
			graceWindow:  grace,
		}
		if len(set.Keys) == 1 {
			solo := set.Keys[0]
			newEntry.solitaryKey = &solo
		}
		c.entries[issuerID] = newEntry
		c.mu.Unlock()

		return nil, nil
	})

	if shared && !ranFetch {
		c.metrics.SingleFlightCollapsed.Inc()
	}
	return err
}

// fetchWithRetry retries src.Fetch on transient failures (network, timeout)
// with bounded exponential backoff; a not-found, forbidden, malformed, or
// protocol failure is returned immediately since retrying it cannot help.
func fetchWithRetry(ctx context.Context, src keysource.Source) ([]byte, string, error) {
	var doc []byte
	var etag string
	err := retry.Do(
		func() error {
			d, e, ferr := src.Fetch(ctx)
			if ferr != nil {
				return ferr
			}
			doc, etag = d, e
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(refreshRetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			var fe *keysource.FetchError
			if !errors.As(err, &fe) {
				return false
			}
			return fe.Kind == keysource.FailureNetwork || fe.Kind == keysource.FailureTimeout
		}),
		retry.LastErrorOnly(true),
	)
	return doc, etag, err
}

// MarkStale forces the next Lookup for issuerID to treat the entry as due
// for refresh, used by tests and by administrative reload hooks.
func (c *Cache) MarkStale(issuerID string) {
	c.mu.RLock()
	e, ok := c.entries[issuerID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.fetchedAt = time.Time{}
	e.mu.Unlock()
}
