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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuioss/nifi-extensions-sub005/internal/apperr"
	"github.com/cuioss/nifi-extensions-sub005/internal/config"
	"github.com/cuioss/nifi-extensions-sub005/internal/coordinator"
)

var configCheckCmd = &cobra.Command{
	Use:   "config check",
	Short: "Load and validate the property file, printing the resulting fingerprint",
	RunE: func(c *cobra.Command, _ []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config is required")
		}
		props, err := config.ReadFileIfExists(cfgFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", cfgFile, err)
		}
		if props == nil {
			return fmt.Errorf("config file not found: %s", cfgFile)
		}

		fp, err := coordinator.Fingerprint(props)
		if err != nil {
			if ae, ok := apperr.As(err); ok {
				return fmt.Errorf("configuration invalid [%s]: %s", ae.Code, ae.Reason)
			}
			return err
		}

		fmt.Fprintf(c.OutOrStdout(), "configuration valid\nfingerprint: %s\n", fp)
		return nil
	},
}
