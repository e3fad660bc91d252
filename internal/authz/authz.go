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

// Package authz applies an issuer's authorization policy to a validated
// token's claims: required scopes (all-of), audiences, roles (any-of by
// default, all-of when an issuer opts in), and groups, in that order, with
// the first failing requirement reported as the denial reason.
package authz

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cuioss/nifi-extensions-sub005/internal/registry"
	"github.com/cuioss/nifi-extensions-sub005/internal/validator"
)

// Result is the outcome of evaluating a token's claims against an issuer's
// authorization policy.
type Result struct {
	Authorized bool
	Bypassed   bool
	Reason     string
}

// Evaluate applies cfg to content. A nil cfg means no policy was configured
// for this issuer: the result is always authorized, flagged as bypassed,
// so callers and metrics can distinguish an open issuer from an enforced one.
func Evaluate(cfg *registry.AuthorizationConfig, content *validator.Content) Result {
	if cfg == nil {
		return Result{Authorized: true, Bypassed: true}
	}

	tokenScopes := mapset.NewSet(content.Scopes...)
	tokenRoles := mapset.NewSet(content.Roles...)
	tokenGroups := mapset.NewSet(content.Groups...)
	tokenAudiences := mapset.NewSet(audienceClaims(content)...)

	if len(cfg.RequiredScopes) > 0 {
		required := mapset.NewSet(cfg.RequiredScopes...)
		if !tokenScopes.IsSuperset(required) {
			return Result{Authorized: false, Reason: "missing required scope(s)"}
		}
	}

	if len(cfg.RequiredAud) > 0 {
		required := mapset.NewSet(cfg.RequiredAud...)
		if tokenAudiences.Intersect(required).Cardinality() == 0 {
			return Result{Authorized: false, Reason: "token audience does not satisfy required audiences"}
		}
	}

	if len(cfg.RequiredRoles) > 0 {
		required := mapset.NewSet(cfg.RequiredRoles...)
		if cfg.RolesMatchAll {
			if !tokenRoles.IsSuperset(required) {
				return Result{Authorized: false, Reason: "missing required role(s)"}
			}
		} else if tokenRoles.Intersect(required).Cardinality() == 0 {
			return Result{Authorized: false, Reason: "token has none of the required roles"}
		}
	}

	if len(cfg.RequiredGroups) > 0 {
		required := mapset.NewSet(cfg.RequiredGroups...)
		if !tokenGroups.IsSuperset(required) {
			return Result{Authorized: false, Reason: "missing required group(s)"}
		}
	}

	return Result{Authorized: true}
}

func audienceClaims(content *validator.Content) []string {
	switch v := content.Claims["aud"].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
