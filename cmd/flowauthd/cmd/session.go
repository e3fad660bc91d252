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

package cmd

// syntheticSession is an in-memory coordinator.FlowSession standing in for
// a real flow host's message, for local testing and demonstration.
type syntheticSession struct {
	headers  map[string]string
	body     []byte
	outAttrs map[string]string
	relation string
}

func newSyntheticSession(headers map[string]string, body []byte) *syntheticSession {
	return &syntheticSession{headers: headers, body: body, outAttrs: map[string]string{}}
}

func (s *syntheticSession) GetAttribute(name string) (string, bool) {
	v, ok := s.headers[name]
	return v, ok
}

func (s *syntheticSession) ReadPayload() ([]byte, error) {
	return s.body, nil
}

func (s *syntheticSession) PutAttributes(attrs map[string]string) {
	for k, v := range attrs {
		s.outAttrs[k] = v
	}
}

func (s *syntheticSession) TransferTo(relationship string) {
	s.relation = relationship
}
