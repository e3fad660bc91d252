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

package coordinator

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cuioss/nifi-extensions-sub005/internal/apperr"
	"github.com/cuioss/nifi-extensions-sub005/internal/attrs"
	"github.com/cuioss/nifi-extensions-sub005/internal/authz"
	"github.com/cuioss/nifi-extensions-sub005/internal/config"
	"github.com/cuioss/nifi-extensions-sub005/internal/jwkscache"
	"github.com/cuioss/nifi-extensions-sub005/internal/keysource"
	"github.com/cuioss/nifi-extensions-sub005/internal/metrics"
	"github.com/cuioss/nifi-extensions-sub005/internal/registry"
	"github.com/cuioss/nifi-extensions-sub005/internal/validator"
)

// Coordinator is the per-message orchestrator. It owns configuration-
// change detection and snapshot rebuild in addition to driving the
// validate/authorize/route pipeline for each message.
type Coordinator struct {
	registry *registry.Registry
	cache    *jwkscache.Cache
	metrics  *metrics.Metrics

	// fingerprint is read once per message (an atomic load) and compared
	// against the live property map's recomputed fingerprint; a mismatch
	// is the only trigger for a rebuild, so a message that sees no
	// configuration change pays just the fingerprint recomputation and
	// comparison.
	fingerprint atomic.Pointer[string]

	// confMu guards properties/global, which are written both by OnScheduled/
	// OnMessage's rebuild path and by the file-watcher goroutine.
	confMu     sync.Mutex
	properties map[string]string
	fileWatch  *config.FileWatcher
	global     config.Global
}

// New builds a Coordinator with an empty registry and cache. Call
// OnScheduled before OnMessage.
func New(m *metrics.Metrics) *Coordinator {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Coordinator{
		registry: registry.New(),
		cache:    jwkscache.New(m),
		metrics:  m,
	}
}

// Initialize is a no-op hook retained for Lifecycle symmetry; all
// meaningful setup happens in OnScheduled once properties are available.
func (c *Coordinator) Initialize(_ context.Context) error {
	return nil
}

// OnScheduled parses properties, loads any external configuration file
// override, and performs the first registry rebuild. A structural
// configuration error is returned rather than panicked; the host decides
// whether that halts scheduling.
func (c *Coordinator) OnScheduled(_ context.Context, properties map[string]string) error {
	configPath := properties[configFilePathKey]
	fileProps, err := config.ReadFileIfExists(configPath)
	if err != nil {
		return apperr.Wrap(apperr.KindConfiguration, apperr.CodeInternal, "reading external config file", err)
	}

	c.confMu.Lock()
	c.properties = config.Merge(properties, fileProps)
	c.confMu.Unlock()

	if err := c.rebuildIfNeeded(); err != nil {
		return err
	}

	if configPath != "" {
		watcher, werr := config.NewFileWatcher(configPath, func(kv map[string]string) {
			c.confMu.Lock()
			c.properties = config.Merge(properties, kv)
			c.confMu.Unlock()
			if rerr := c.rebuildIfNeeded(); rerr != nil {
				log.Error().Err(rerr).Msg("rebuild triggered by external config file change failed")
			}
		})
		if werr != nil {
			log.Warn().Err(werr).Str("path", configPath).Msg("failed to start config file watcher; mtime changes will not be picked up")
		} else {
			c.fileWatch = watcher
		}
	}

	return nil
}

const configFilePathKey = "config.file.path"

// OnStopped drops the registry snapshot and cache and stops the file
// watcher. Any in-flight fetch is abandoned; its completion is ignored by
// any subsequent message, since the host will not call OnMessage again
// after OnStopped.
func (c *Coordinator) OnStopped() {
	if c.fileWatch != nil {
		_ = c.fileWatch.Close()
	}
	c.registry = registry.New()
	c.cache = jwkscache.New(c.metrics)
}

// rebuildIfNeeded recomputes the configuration fingerprint from the live
// property map and rebuilds the registry only when it differs from the
// currently installed one: a cheap hash comparison on the hot path, with
// the actual rebuild work reserved for the (rare) case where configuration
// genuinely changed.
func (c *Coordinator) rebuildIfNeeded() error {
	c.confMu.Lock()
	props := c.properties
	c.confMu.Unlock()

	issuerProps, globalProps := propsForFingerprint(props)
	fp := registry.Fingerprint(issuerProps, globalProps)

	current := c.fingerprint.Load()
	if current != nil && *current == fp {
		return nil
	}

	parsed, err := config.ParseProperties(props)
	if err != nil {
		return err
	}

	c.confMu.Lock()
	c.global = parsed.Global
	global := c.global
	c.confMu.Unlock()

	start := time.Now()
	entries := parsed.Entries
	err = c.registry.Rebuild(entries, fp, global.RequireValidToken, c.cache.Evict)
	c.metrics.RebuildTotal.Inc()
	c.metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	for _, e := range entries {
		src, serr := buildSource(e.Issuer)
		if serr != nil {
			log.Error().Err(serr).Str("issuer", e.Issuer.IssuerID).Msg("failed to build key source for issuer; it will serve no keys until reconfigured")
			continue
		}
		refreshEvery := time.Duration(e.Issuer.RefreshInterval) * time.Second
		if refreshEvery <= 0 {
			refreshEvery = time.Duration(global.JWKSRefreshInterval) * time.Second
		}
		if refreshEvery <= 0 {
			refreshEvery = 5 * time.Minute
		}
		c.cache.Register(e.Issuer.IssuerID, src, refreshEvery, 2*refreshEvery)
	}
	c.metrics.CacheEntriesLive.Set(float64(len(entries)))

	c.fingerprint.Store(&fp)
	return nil
}

func buildSource(ic registry.IssuerConfig) (keysource.Source, error) {
	switch ic.JWKSSourceKind {
	case "url":
		connectTimeout := 5 * time.Second
		readTimeout := 5 * time.Second
		return keysource.NewURLSource(ic.JWKSURL, connectTimeout, readTimeout, ic.RequireHTTPS)
	case "file":
		return keysource.NewFileSource(ic.JWKSFile), nil
	case "inline":
		return keysource.NewInlineSource(ic.JWKSContent), nil
	default:
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeInternal, "unknown jwks source kind \""+ic.JWKSSourceKind+"\"")
	}
}

// Fingerprint parses props and returns the configuration fingerprint that
// would trigger a rebuild if it differed from the currently installed one.
// Exposed for the CLI harness's "config check" subcommand.
func Fingerprint(props map[string]string) (string, error) {
	if _, err := config.ParseProperties(props); err != nil {
		return "", err
	}
	issuerProps, globalProps := propsForFingerprint(props)
	return registry.Fingerprint(issuerProps, globalProps), nil
}

func propsForFingerprint(props map[string]string) (map[string]map[string]string, map[string]string) {
	issuerProps := map[string]map[string]string{}
	globalProps := map[string]string{}
	for k, v := range props {
		if strings.HasPrefix(k, "issuer.") {
			rest := strings.TrimPrefix(k, "issuer.")
			idx := strings.Index(rest, ".")
			if idx <= 0 {
				continue
			}
			name := rest[:idx]
			suffix := rest[idx+1:]
			if issuerProps[name] == nil {
				issuerProps[name] = map[string]string{}
			}
			issuerProps[name][suffix] = v
		} else {
			globalProps[k] = v
		}
	}
	return issuerProps, globalProps
}

// OnMessage runs the per-message state machine: rebuild-if-needed, header
// extraction, token validation, authorization, and relationship routing.
func (c *Coordinator) OnMessage(ctx context.Context, session FlowSession) error {
	if err := c.rebuildIfNeeded(); err != nil {
		// A configuration error discovered mid-flight is reported to the
		// caller (OnMessage's own return), not routed like a message
		// failure; OnScheduled should have already caught this, this is a
		// defensive re-check for runtime config file edits.
		return err
	}

	logger := log.With().Str("component", "coordinator").Logger()

	snap := c.registry.Current()

	c.confMu.Lock()
	global := c.global
	c.confMu.Unlock()

	raw, present := c.extractToken(session, global)
	if !present {
		if !global.RequireValidToken {
			c.routeSuccess(session, nil, false, false)
			return nil
		}
		c.routeFailure(session, apperr.New(apperr.KindExtraction, apperr.CodeTokenAbsent, "no bearer token present and one is required"))
		return nil
	}

	v := validator.New(c.cache, global.MaximumTokenSize, 0)
	content, err := v.Validate(ctx, snap, raw)
	if err != nil {
		c.logAndRoute(session, logger, err)
		return nil
	}

	entry, _ := snap.Lookup(content.Issuer)
	result := authz.Evaluate(entry.Authz, content)
	if !result.Authorized {
		c.routeFailure(session, apperr.New(apperr.KindAuthorization, apperr.CodeAuthorizationDenied, result.Reason))
		return nil
	}

	c.routeSuccess(session, content, true, result.Bypassed)
	return nil
}

func (c *Coordinator) extractToken(session FlowSession, global config.Global) (string, bool) {
	headerName := global.TokenHeaderName
	if global.TokenLocation == "CUSTOM_HEADER" && global.CustomHeaderName != "" {
		headerName = global.CustomHeaderName
	}

	switch global.TokenLocation {
	case "MESSAGE_BODY":
		payload, err := session.ReadPayload()
		if err != nil {
			return "", false
		}
		trimmed := strings.TrimSpace(string(payload))
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	default: // AUTHORIZATION_HEADER, CUSTOM_HEADER
		val, ok := session.GetAttribute(headerName)
		if !ok {
			return "", false
		}
		val = strings.TrimSpace(val)
		if val == "" {
			return "", false
		}
		if global.BearerPrefix != "" && hasPrefixFold(val, global.BearerPrefix) {
			val = strings.TrimSpace(val[len(global.BearerPrefix):])
		}
		if val == "" {
			return "", false
		}
		return val, true
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func (c *Coordinator) logAndRoute(session FlowSession, logger zerolog.Logger, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal("unrecognized internal failure", err)
	}
	if ae.Code == apperr.CodeInternal && ae.CorrelationID == "" {
		ae.CorrelationID = uuid.NewString()
	}
	logger.Error().
		Str("code", string(ae.Code)).
		Str("kind", string(ae.Kind)).
		Str("correlation_id", ae.CorrelationID).
		Err(ae).
		Msg("message failed validation")
	c.routeFailure(session, ae)
}

func (c *Coordinator) routeSuccess(session FlowSession, content *validator.Content, authorized, bypassed bool) {
	out := map[string]string{
		string(attrs.KeyTokenPresent):            strconv.FormatBool(content != nil),
		string(attrs.KeyAuthorizationAuthorized): strconv.FormatBool(authorized),
		string(attrs.KeyAuthorizationBypassed):   strconv.FormatBool(bypassed),
		string(attrs.KeyTokenValidatedAt):        strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if content != nil {
		out[string(attrs.KeyTokenIssuer)] = content.Issuer
		out[string(attrs.KeyTokenSubject)] = content.Subject
		if !content.Expiration.IsZero() {
			out[string(attrs.KeyTokenExpiration)] = content.Expiration.UTC().Format(time.RFC3339)
		}
		out[string(attrs.KeyContentScopes)] = strings.Join(content.Scopes, " ")
		out[string(attrs.KeyContentRoles)] = strings.Join(content.Roles, " ")
		out[string(attrs.KeyContentGroups)] = strings.Join(content.Groups, " ")
	}
	session.PutAttributes(out)
	session.TransferTo(RelationshipSuccess)
}

func (c *Coordinator) routeFailure(session FlowSession, ae *apperr.Error) {
	session.PutAttributes(map[string]string{
		string(attrs.KeyErrorCode):     string(ae.Code),
		string(attrs.KeyErrorReason):   ae.Reason,
		string(attrs.KeyErrorCategory): string(ae.Kind),
	})
	session.TransferTo(RelationshipAuthenticationFailed)
}
