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

// Package coordinator owns per-message orchestration: configuration-change
// detection, token extraction, validation, authorization, attribute
// emission and routing. It also defines the small host ABI this component
// expects to be driven through, a single trait-like interface rather than
// a deep processor class hierarchy.
package coordinator

import "context"

// Relationship names this component routes messages to.
const (
	RelationshipSuccess              = "success"
	RelationshipAuthenticationFailed = "authentication-failed"
)

// FlowSession is the minimal message-primitive surface this component
// needs from the flow host: read an attribute by name, read the payload,
// write a batch of attributes, and transfer to a named relationship.
// The host implements this; this component never implements it.
type FlowSession interface {
	GetAttribute(name string) (string, bool)
	ReadPayload() ([]byte, error)
	PutAttributes(attrs map[string]string)
	TransferTo(relationship string)
}

// Lifecycle is the four host-driven lifecycle operations. The host calls
// these; this component never calls them on itself.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	OnScheduled(ctx context.Context, properties map[string]string) error
	OnStopped()
	OnMessage(ctx context.Context, session FlowSession) error
}
