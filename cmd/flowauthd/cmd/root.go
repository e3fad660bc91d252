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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuioss/nifi-extensions-sub005/internal/config"
	"github.com/cuioss/nifi-extensions-sub005/internal/coordinator"
	"github.com/cuioss/nifi-extensions-sub005/internal/metrics"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowauthd",
	Short: "Standalone harness for the JWT access-token validation component",
	Long:  "flowauthd drives the validate/authorize/route pipeline against a property file and synthetic messages, without a real flow host.",
}

// Execute runs the root command. The only place in this repository
// permitted to exit the process; everything under internal/ returns errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "property file (required): global and per-issuer keys, same schema the host would supply")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCheckCmd)
}

// newCoordinator builds and schedules a Coordinator from the --config file.
func newCoordinator(ctx context.Context) (*coordinator.Coordinator, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("--config is required")
	}
	props, err := config.ReadFileIfExists(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cfgFile, err)
	}
	if props == nil {
		return nil, fmt.Errorf("config file not found: %s", cfgFile)
	}

	c := coordinator.New(metrics.New(nil))
	if err := c.OnScheduled(ctx, props); err != nil {
		return nil, fmt.Errorf("scheduling: %w", err)
	}
	return c, nil
}
