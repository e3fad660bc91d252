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

// Package keysource abstracts retrieval of a raw JWKS document from a URL,
// a local file, or an inline configuration string. Sources keep only what
// conditional fetches need (the last ETag, or the last file modification
// time and hash); caching, refresh scheduling and rate limiting live in
// internal/jwkscache.
package keysource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
)

// FailureKind classifies why a fetch failed.
type FailureKind string

const (
	FailureNetwork  FailureKind = "network"
	FailureNotFound FailureKind = "not_found"
	FailureForbidden FailureKind = "forbidden"
	FailureMalformed FailureKind = "malformed"
	FailureTimeout  FailureKind = "timeout"
	FailureProtocol FailureKind = "protocol"
)

// FetchError wraps a FailureKind with its underlying cause.
type FetchError struct {
	Kind  FailureKind
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("jwks fetch failed (%s): %v", e.Kind, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func fail(kind FailureKind, cause error) error {
	return &FetchError{Kind: kind, Cause: cause}
}

// Source produces a raw JWKS document and an identity token (etag or
// content hash) that changes whenever the document's content changes.
type Source interface {
	Fetch(ctx context.Context) (doc []byte, etagOrHash string, err error)
}

func contentHash(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}

// URLSource fetches a JWKS document over HTTP(S), carrying its own
// http.Client for timeout and transport reuse across refreshes, plus etag
// negotiation to avoid re-downloading an unchanged document.
type URLSource struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RequireHTTPS   bool
	Client         *http.Client

	lastEtag string
}

// NewURLSource builds a URLSource with a dedicated http.Client whose
// overall request timeout is connectTimeout plus readTimeout; Fetch also
// bounds each request's context by that same sum. No separate
// connect-phase timeout is set on the transport.
func NewURLSource(rawURL string, connectTimeout, readTimeout time.Duration, requireHTTPS bool) (*URLSource, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fail(FailureMalformed, errors.Wrap(err, "parsing jwks url"))
	}
	if requireHTTPS && parsed.Scheme != "https" {
		return nil, fail(FailureProtocol, errors.Errorf("jwks url %q does not use https", rawURL))
	}
	return &URLSource{
		URL:            rawURL,
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
		RequireHTTPS:   requireHTTPS,
		Client: &http.Client{
			Timeout: connectTimeout + readTimeout,
		},
	}, nil
}

func (s *URLSource) Fetch(ctx context.Context) ([]byte, string, error) {
	deadline := s.ConnectTimeout + s.ReadTimeout
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, "", fail(FailureMalformed, errors.Wrap(err, "building jwks request"))
	}
	if s.lastEtag != "" {
		req.Header.Set("If-None-Match", s.lastEtag)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, "", fail(FailureTimeout, err)
		}
		return nil, "", fail(FailureNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, s.lastEtag, nil
	case http.StatusNotFound:
		return nil, "", fail(FailureNotFound, errors.Errorf("jwks url returned 404"))
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, "", fail(FailureForbidden, errors.Errorf("jwks url returned %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fail(FailureNetwork, errors.Errorf("jwks url returned unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fail(FailureNetwork, errors.Wrap(err, "reading jwks response body"))
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		etag = contentHash(body)
	}
	s.lastEtag = etag
	return body, etag, nil
}

// FileSource reads a JWKS document from a local file, detecting change via
// modification time: an unchanged mtime yields a nil (not-modified)
// document with the last content hash, while an advanced mtime re-reads and
// returns the file, so a touch with unchanged content still returns the
// document but with the same hash as before.
type FileSource struct {
	Path string

	lastModTime time.Time
	lastHash    string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Fetch(_ context.Context) ([]byte, string, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fail(FailureNotFound, err)
		}
		return nil, "", fail(FailureNetwork, err)
	}

	if !info.ModTime().After(s.lastModTime) && s.lastHash != "" {
		return nil, s.lastHash, nil
	}

	body, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, "", fail(FailureNetwork, errors.Wrap(err, "reading jwks file"))
	}

	s.lastModTime = info.ModTime()
	s.lastHash = contentHash(body)
	return body, s.lastHash, nil
}

// InlineSource treats a configured string as the authoritative JWKS
// document. Its hash is computed once at construction since the content
// can never change without a full issuer reconfiguration.
type InlineSource struct {
	doc  []byte
	hash string
}

func NewInlineSource(json string) *InlineSource {
	doc := []byte(json)
	return &InlineSource{doc: doc, hash: contentHash(doc)}
}

func (s *InlineSource) Fetch(_ context.Context) ([]byte, string, error) {
	return s.doc, s.hash, nil
}
