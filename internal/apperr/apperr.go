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

// Package apperr defines the error kinds and stable error codes that flow
// out of the validation pipeline, and the correlation-id plumbing for
// unrecognized internal failures.
package apperr

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kind classifies an error along the lines the processing coordinator uses
// to decide routing and propagation.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindExtraction     Kind = "extraction"
	KindFormat         Kind = "format"
	KindCryptographic  Kind = "cryptographic"
	KindClaim          Kind = "claim"
	KindAuthorization  Kind = "authorization"
	KindTransient      Kind = "transient"
	KindInternal       Kind = "internal"
)

// Code is a stable AUTH-0xx identifier surfaced to the flow host.
type Code string

const (
	CodeTokenAbsent         Code = "AUTH-001"
	CodeInternal            Code = "AUTH-002"
	CodeOversize            Code = "AUTH-003"
	CodeMalformed           Code = "AUTH-004"
	CodeExpired             Code = "AUTH-005"
	CodeSignatureInvalid    Code = "AUTH-006"
	CodeIssuerUnknown       Code = "AUTH-007"
	CodeAudienceMismatch    Code = "AUTH-008"
	CodeAuthorizationDenied Code = "AUTH-009"
)

// Error is a structured, coded error carrying the kind used for routing,
// the stable code surfaced to the host, a human-readable reason, and the
// wrapped cause (if any). Internal-kind errors also carry a correlation id
// so a support engineer can tie a log line back to a specific attribute set.
type Error struct {
	Kind          Kind
	Code          Code
	Reason        string
	Cause         error
	CorrelationID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a coded error without a cause.
func New(kind Kind, code Code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

// Wrap builds a coded error around an existing cause, preserving its chain
// via github.com/pkg/errors' WithMessage so errors.Is/As still reach it.
func Wrap(kind Kind, code Code, reason string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason, Cause: errors.WithMessage(cause, reason)}
}

// Internal builds an AUTH-002 internal error with a fresh correlation id,
// the one code shared between "no validator available" and "unknown
// processing error".
func Internal(reason string, cause error) *Error {
	return &Error{
		Kind:          KindInternal,
		Code:          CodeInternal,
		Reason:        reason,
		Cause:         cause,
		CorrelationID: uuid.NewString(),
	}
}

// As is a small convenience wrapper over errors.As for the common case of
// recovering the structured *Error from an error chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
