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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var serveInputPath string

// syntheticMessage is one line of the newline-delimited JSON input serve
// reads: a header set and a body, standing in for a flow message.
type syntheticMessage struct {
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Replay newline-delimited synthetic messages and print each routing decision",
	RunE: func(c *cobra.Command, _ []string) error {
		coord, err := newCoordinator(c.Context())
		if err != nil {
			return err
		}

		in := c.InOrStdin()
		if serveInputPath != "" {
			f, ferr := os.Open(serveInputPath)
			if ferr != nil {
				return fmt.Errorf("opening %s: %w", serveInputPath, ferr)
			}
			defer f.Close()
			in = f
		}

		scanner := bufio.NewScanner(in)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var msg syntheticMessage
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				fmt.Fprintf(c.OutOrStdout(), "line %d: invalid JSON: %v\n", lineNo, err)
				continue
			}

			session := newSyntheticSession(msg.Headers, []byte(msg.Body))
			if err := coord.OnMessage(c.Context(), session); err != nil {
				fmt.Fprintf(c.OutOrStdout(), "line %d: processing error: %v\n", lineNo, err)
				continue
			}
			fmt.Fprintf(c.OutOrStdout(), "line %d: ", lineNo)
			printOutcome(c, session)
		}
		return scanner.Err()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveInputPath, "input", "", "file of newline-delimited JSON messages (default: stdin)")
}
