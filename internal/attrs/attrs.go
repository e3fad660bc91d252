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

// Package attrs is the declarative metadata table for every attribute key
// this component can write to a flow message: a static table of (key,
// description, category) tuples exposed to the host at registration time.
// The Coordinator writes attributes exclusively through the typed Key
// constants below, never bare string literals.
package attrs

// Category groups related attribute keys for host-side presentation.
type Category string

const (
	CategoryContent       Category = "content"
	CategoryToken         Category = "token"
	CategoryAuthorization Category = "authorization"
	CategoryError         Category = "error"
)

// Key is a typed attribute key.
type Key string

const (
	KeyTokenPresent    Key = "jwt.token.present"
	KeyTokenIssuer     Key = "jwt.token.issuer"
	KeyTokenSubject    Key = "jwt.token.subject"
	KeyTokenExpiration Key = "jwt.token.expiration"
	KeyTokenValidatedAt Key = "jwt.token.validated-at"

	KeyAuthorizationAuthorized Key = "jwt.authorization.authorized"
	KeyAuthorizationBypassed  Key = "jwt.authorization.bypassed"
	KeyAuthorizationReason    Key = "jwt.authorization.reason"

	KeyContentScopes Key = "jwt.content.scopes"
	KeyContentRoles  Key = "jwt.content.roles"
	KeyContentGroups Key = "jwt.content.groups"

	KeyErrorCode     Key = "jwt.error.code"
	KeyErrorReason   Key = "jwt.error.reason"
	KeyErrorCategory Key = "jwt.error.category"
)

// Descriptor is one row of the declarative attribute table.
type Descriptor struct {
	Key         Key
	Description string
	Category    Category
}

// Table is the full, fixed set of attributes this component can ever emit.
// Exposed to the host at registration time (e.g. for UI autocomplete or
// documentation generation); the Coordinator never writes a key absent
// from this table.
var Table = []Descriptor{
	{KeyTokenPresent, "Whether a bearer token was present on the message.", CategoryToken},
	{KeyTokenIssuer, "The iss claim of the validated token.", CategoryToken},
	{KeyTokenSubject, "The sub claim of the validated token.", CategoryToken},
	{KeyTokenExpiration, "The exp claim of the validated token, as RFC3339.", CategoryToken},
	{KeyTokenValidatedAt, "Monotonically increasing timestamp of when validation ran.", CategoryToken},

	{KeyAuthorizationAuthorized, "Whether the message is authorized to proceed.", CategoryAuthorization},
	{KeyAuthorizationBypassed, "Whether authorization passed only because no policy was configured.", CategoryAuthorization},
	{KeyAuthorizationReason, "The reason authorization was denied, if it was.", CategoryAuthorization},

	{KeyContentScopes, "Space-joined scopes granted by the token.", CategoryContent},
	{KeyContentRoles, "Space-joined roles granted by the token.", CategoryContent},
	{KeyContentGroups, "Space-joined groups granted by the token.", CategoryContent},

	{KeyErrorCode, "Stable AUTH-0xx error code for a failed message.", CategoryError},
	{KeyErrorReason, "Human-readable reason for a failed message.", CategoryError},
	{KeyErrorCategory, "Error kind (configuration, extraction, format, cryptographic, claim, authorization, internal).", CategoryError},
}
