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

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var validateToken string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a single bearer token and print the routing outcome",
	RunE: func(c *cobra.Command, _ []string) error {
		token := validateToken
		if token == "" {
			data, err := io.ReadAll(bufio.NewReader(c.InOrStdin()))
			if err != nil {
				return fmt.Errorf("reading token from stdin: %w", err)
			}
			token = strings.TrimSpace(string(data))
		}
		if token == "" {
			return fmt.Errorf("no token given: pass --token or pipe one on stdin")
		}

		coord, err := newCoordinator(c.Context())
		if err != nil {
			return err
		}

		session := newSyntheticSession(map[string]string{"Authorization": "Bearer " + token}, nil)
		if err := coord.OnMessage(c.Context(), session); err != nil {
			return fmt.Errorf("processing message: %w", err)
		}

		printOutcome(c, session)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateToken, "token", "", "compact JWS to validate (default: read from stdin)")
}

func printOutcome(c *cobra.Command, s *syntheticSession) {
	fmt.Fprintf(c.OutOrStdout(), "relationship: %s\n", s.relation)
	keys := make([]string, 0, len(s.outAttrs))
	for k := range s.outAttrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(c.OutOrStdout(), "  %s = %s\n", k, s.outAttrs[k])
	}
}
