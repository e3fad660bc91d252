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

// Package config turns the host's string->string property map, plus an
// optional external configuration file, into the typed configuration the
// rest of the system consumes. Structural problems are reported as
// *apperr.Error values with KindConfiguration; this package never panics
// the process, leaving that decision to the caller driving the pipeline.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/cuioss/nifi-extensions-sub005/internal/apperr"
	"github.com/cuioss/nifi-extensions-sub005/internal/registry"
)

// Static property keys in the host's property map.
const (
	KeyTokenLocation        = "token.location" // AUTHORIZATION_HEADER | CUSTOM_HEADER | MESSAGE_BODY
	KeyTokenHeaderName      = "token.header.name"
	KeyCustomHeaderName     = "token.header.custom-name"
	KeyBearerPrefix         = "token.bearer-prefix"
	KeyRequireValidToken    = "require-valid-token"
	KeyJWKSRefreshInterval  = "jwks.refresh-interval"
	KeyMaximumTokenSize     = "maximum-token-size"
	KeyAllowedAlgorithms    = "allowed-algorithms"
	KeyRequireHTTPSForJWKS  = "require-https-for-jwks"
	KeyJWKSConnectTimeout   = "jwks.connection-timeout"
)

const issuerKeyPrefix = "issuer."

// Dynamic per-issuer key suffixes: issuer.<NAME>.<suffix>.
const (
	IssuerSuffixIssuer         = "issuer"
	IssuerSuffixJWKSType       = "jwks-type"
	IssuerSuffixJWKSURL        = "jwks-url"
	IssuerSuffixJWKSFile       = "jwks-file"
	IssuerSuffixJWKSContent    = "jwks-content"
	IssuerSuffixAudience       = "audience"
	IssuerSuffixClientID       = "client-id"
	IssuerSuffixRequiredScopes = "required-scopes"
	IssuerSuffixRequiredRoles  = "required-roles"
	IssuerSuffixRequiredGroups = "required-groups"
	IssuerSuffixRolesMatchAll  = "roles-match-all"
	IssuerSuffixAlgorithms     = "algorithms"
	IssuerSuffixRequireHTTPS   = "require-https"
	IssuerSuffixRefreshInterval = "refresh-interval"
)

// Global holds the processor-wide gates that are not per-issuer.
type Global struct {
	TokenLocation       string
	TokenHeaderName     string
	CustomHeaderName    string
	BearerPrefix        string
	RequireValidToken   bool
	JWKSRefreshInterval int64 // seconds
	MaximumTokenSize    int
	AllowedAlgorithms   []string
	RequireHTTPSForJWKS bool
	JWKSConnectTimeout  int64 // seconds
}

// Parsed is the typed result of parsing a property map: the global gates
// plus every issuer's (IssuerConfig, AuthorizationConfig?) entry.
type Parsed struct {
	Global  Global
	Entries []registry.Entry
}

// ParseProperties turns a flat string->string property map into a Parsed
// configuration. It never panics; structural problems are returned as
// *apperr.Error with KindConfiguration.
func ParseProperties(props map[string]string) (*Parsed, error) {
	g := Global{
		TokenLocation:       getOr(props, KeyTokenLocation, "AUTHORIZATION_HEADER"),
		TokenHeaderName:     getOr(props, KeyTokenHeaderName, "Authorization"),
		CustomHeaderName:    getOr(props, KeyCustomHeaderName, ""),
		BearerPrefix:        getOr(props, KeyBearerPrefix, "Bearer "),
		RequireValidToken:   cast.ToBool(getOr(props, KeyRequireValidToken, "true")),
		JWKSRefreshInterval: cast.ToInt64(getOr(props, KeyJWKSRefreshInterval, "300")),
		MaximumTokenSize:    cast.ToInt(getOr(props, KeyMaximumTokenSize, "16384")),
		AllowedAlgorithms:   splitCSV(props[KeyAllowedAlgorithms]),
		RequireHTTPSForJWKS: cast.ToBool(getOr(props, KeyRequireHTTPSForJWKS, "true")),
		JWKSConnectTimeout:  cast.ToInt64(getOr(props, KeyJWKSConnectTimeout, "5")),
	}

	issuerNames := discoverIssuerNames(props)

	entries := make([]registry.Entry, 0, len(issuerNames))
	seen := make(map[string]string, len(issuerNames)) // issuer-id -> issuer-name, duplicate detection
	for _, name := range issuerNames {
		entry, err := parseIssuer(props, name, g.RequireHTTPSForJWKS)
		if err != nil {
			return nil, err
		}
		if len(entry.Issuer.AlgorithmPreferences) == 0 {
			entry.Issuer.AlgorithmPreferences = g.AllowedAlgorithms
		}
		if existingName, dup := seen[entry.Issuer.IssuerID]; dup {
			return nil, apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
				"issuers \""+existingName+"\" and \""+name+"\" both declare issuer identifier \""+entry.Issuer.IssuerID+"\"")
		}
		seen[entry.Issuer.IssuerID] = name
		entries = append(entries, entry)
	}

	if len(entries) == 0 && g.RequireValidToken {
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
			"require-valid-token is true but no issuer is configured")
	}

	return &Parsed{Global: g, Entries: entries}, nil
}

func discoverIssuerNames(props map[string]string) []string {
	set := map[string]struct{}{}
	for k := range props {
		if !strings.HasPrefix(k, issuerKeyPrefix) {
			continue
		}
		rest := strings.TrimPrefix(k, issuerKeyPrefix)
		idx := strings.Index(rest, ".")
		if idx <= 0 {
			continue
		}
		set[rest[:idx]] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseIssuer(props map[string]string, name string, requireHTTPSDefault bool) (registry.Entry, error) {
	prefix := issuerKeyPrefix + name + "."

	issuerID := props[prefix+IssuerSuffixIssuer]
	if issuerID == "" {
		return registry.Entry{}, apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
			"issuer \""+name+"\" is missing its issuer identifier")
	}

	requireHTTPS := requireHTTPSDefault
	if v, ok := props[prefix+IssuerSuffixRequireHTTPS]; ok {
		requireHTTPS = cast.ToBool(v)
	}

	ic := registry.IssuerConfig{
		Name:                 name,
		IssuerID:             issuerID,
		JWKSSourceKind:       strings.ToLower(getOr(props, prefix+IssuerSuffixJWKSType, "url")),
		JWKSURL:              props[prefix+IssuerSuffixJWKSURL],
		JWKSFile:             props[prefix+IssuerSuffixJWKSFile],
		JWKSContent:          props[prefix+IssuerSuffixJWKSContent],
		ExpectedClientID:     props[prefix+IssuerSuffixClientID],
		RequireHTTPS:         requireHTTPS,
	}
	if aud := props[prefix+IssuerSuffixAudience]; aud != "" {
		ic.ExpectedAudience = splitCSV(aud)
	}
	ic.AlgorithmPreferences = splitCSV(props[prefix+IssuerSuffixAlgorithms])
	if v, ok := props[prefix+IssuerSuffixRefreshInterval]; ok {
		ic.RefreshInterval = cast.ToInt64(v)
	}

	switch ic.JWKSSourceKind {
	case "url":
		if ic.JWKSURL == "" {
			return registry.Entry{}, apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
				"issuer \""+name+"\" declares jwks-type=url but has no jwks-url")
		}
	case "file":
		if ic.JWKSFile == "" {
			return registry.Entry{}, apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
				"issuer \""+name+"\" declares jwks-type=file but has no jwks-file")
		}
	case "inline":
		if ic.JWKSContent == "" {
			return registry.Entry{}, apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
				"issuer \""+name+"\" declares jwks-type=inline but has no jwks-content")
		}
	default:
		return registry.Entry{}, apperr.New(apperr.KindConfiguration, apperr.CodeInternal,
			"issuer \""+name+"\" has unknown jwks-type \""+ic.JWKSSourceKind+"\"")
	}

	var authz *registry.AuthorizationConfig
	scopes := splitCSV(props[prefix+IssuerSuffixRequiredScopes])
	roles := splitCSV(props[prefix+IssuerSuffixRequiredRoles])
	groups := splitCSV(props[prefix+IssuerSuffixRequiredGroups])
	if len(scopes) > 0 || len(roles) > 0 || len(groups) > 0 {
		authz = &registry.AuthorizationConfig{
			RequiredScopes: scopes,
			RequiredRoles:  roles,
			RequiredGroups: groups,
			RequiredAud:    ic.ExpectedAudience,
			RolesMatchAll:  cast.ToBool(props[prefix+IssuerSuffixRolesMatchAll]),
		}
	}

	return registry.Entry{Issuer: ic, Authz: authz}, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getOr(props map[string]string, key, def string) string {
	if v, ok := props[key]; ok && v != "" {
		return v
	}
	return def
}

// FileWatcher watches an optional external configuration file for write,
// create and rename events and invokes onChange with the file's freshly
// re-read key-value content alone. It never merges that content into the
// host's live property map itself; that merge, and the resulting rebuild, is the caller's
// responsibility, keeping "rebuild is triggered by fingerprint mismatch"
// the single path regardless of which input changed.
type FileWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFileWatcher starts watching path's containing directory (matching
// viper's own WatchConfig implementation, which watches the directory
// rather than the file itself so editors that replace-via-rename are
// handled correctly).
func NewFileWatcher(path string, onChange func(map[string]string)) (*FileWatcher, error) {
	if path == "" {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating config file watcher")
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, errors.Wrap(err, "watching config directory")
	}

	fw := &FileWatcher{path: path, watcher: w, stopCh: make(chan struct{})}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				kv, rerr := readKeyValueFile(path)
				if rerr != nil {
					log.Warn().Err(rerr).Str("path", path).Msg("failed to reload external config file")
					continue
				}
				onChange(kv)
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(werr).Msg("config file watcher error")
			case <-fw.stopCh:
				return
			}
		}
	}()

	return fw, nil
}

// Close stops the underlying watcher goroutine.
func (fw *FileWatcher) Close() error {
	if fw == nil {
		return nil
	}
	fw.stopOnce.Do(func() { close(fw.stopCh) })
	return fw.watcher.Close()
}

// nestedIssuerFile is one entry of a structured ("issuers:" list) external
// config file, as an alternative to the flat issuer.<name>.<suffix> scheme
// the host's own property map uses.
type nestedIssuerFile struct {
	Name            string   `mapstructure:"name"`
	Issuer          string   `mapstructure:"issuer"`
	JWKSType        string   `mapstructure:"jwks-type"`
	JWKSURL         string   `mapstructure:"jwks-url"`
	JWKSFile        string   `mapstructure:"jwks-file"`
	JWKSContent     string   `mapstructure:"jwks-content"`
	Audience        []string `mapstructure:"audience"`
	ClientID        string   `mapstructure:"client-id"`
	RequiredScopes  []string `mapstructure:"required-scopes"`
	RequiredRoles   []string `mapstructure:"required-roles"`
	RequiredGroups  []string `mapstructure:"required-groups"`
	RolesMatchAll   bool     `mapstructure:"roles-match-all"`
	Algorithms      []string `mapstructure:"algorithms"`
	RequireHTTPS    *bool    `mapstructure:"require-https"`
	RefreshInterval int64    `mapstructure:"refresh-interval"`
}

// nestedFileConfig is the structured top-level shape: global gates under
// "global", issuers under "issuers". Decoded with mapstructure rather than
// viper.Unmarshal directly so the decode step stays explicit and testable
// in isolation.
type nestedFileConfig struct {
	Global  map[string]string  `mapstructure:"global"`
	Issuers []nestedIssuerFile `mapstructure:"issuers"`
}

func readKeyValueFile(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	settings := v.AllSettings()
	if _, structured := settings["issuers"]; structured {
		var nested nestedFileConfig
		if err := mapstructure.Decode(settings, &nested); err != nil {
			return nil, errors.Wrap(err, "decoding structured config file")
		}
		return flattenNestedConfig(nested), nil
	}

	out := map[string]string{}
	for _, key := range v.AllKeys() {
		out[key] = cast.ToString(v.Get(key))
	}
	return out, nil
}

// flattenNestedConfig turns a structured config file into the same flat
// issuer.<name>.<suffix> / global key scheme ParseProperties consumes, so
// both file shapes feed the identical parsing path.
func flattenNestedConfig(nested nestedFileConfig) map[string]string {
	out := make(map[string]string, len(nested.Global)+len(nested.Issuers)*10)
	for k, v := range nested.Global {
		out[k] = v
	}
	for _, iss := range nested.Issuers {
		if iss.Name == "" {
			continue
		}
		prefix := issuerKeyPrefix + iss.Name + "."
		out[prefix+IssuerSuffixIssuer] = iss.Issuer
		if iss.JWKSType != "" {
			out[prefix+IssuerSuffixJWKSType] = iss.JWKSType
		}
		out[prefix+IssuerSuffixJWKSURL] = iss.JWKSURL
		out[prefix+IssuerSuffixJWKSFile] = iss.JWKSFile
		out[prefix+IssuerSuffixJWKSContent] = iss.JWKSContent
		out[prefix+IssuerSuffixAudience] = strings.Join(iss.Audience, ",")
		out[prefix+IssuerSuffixClientID] = iss.ClientID
		out[prefix+IssuerSuffixRequiredScopes] = strings.Join(iss.RequiredScopes, ",")
		out[prefix+IssuerSuffixRequiredRoles] = strings.Join(iss.RequiredRoles, ",")
		out[prefix+IssuerSuffixRequiredGroups] = strings.Join(iss.RequiredGroups, ",")
		out[prefix+IssuerSuffixRolesMatchAll] = cast.ToString(iss.RolesMatchAll)
		out[prefix+IssuerSuffixAlgorithms] = strings.Join(iss.Algorithms, ",")
		if iss.RequireHTTPS != nil {
			out[prefix+IssuerSuffixRequireHTTPS] = cast.ToString(*iss.RequireHTTPS)
		}
		if iss.RefreshInterval > 0 {
			out[prefix+IssuerSuffixRefreshInterval] = cast.ToString(iss.RefreshInterval)
		}
	}
	return out
}

// ReadFileIfExists is a convenience used at startup to seed the initial
// merge before the watcher's first event fires.
func ReadFileIfExists(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return readKeyValueFile(path)
}

// Merge overlays override on top of base, returning a new map. Used to
// apply an external config file's keys on top of the host's live property
// map.
func Merge(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
