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
package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
	"github.com/firmware-maestro/maestro/pkg/redfish"
)

var (
	probeIP       string
	probeUsername string
	probePassword string
	probeAction   string
	probeInsecure bool
)

// probeCmd is an operator tool for poking one controller directly, outside
// any job: inventory query or a graceful reboot.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Query or reboot a single management controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe()
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeIP, "controller-ip", "", "management controller IP address")
	probeCmd.Flags().StringVar(&probeUsername, "username", "", "controller username")
	probeCmd.Flags().StringVar(&probePassword, "password", "", "controller password")
	probeCmd.Flags().StringVar(&probeAction, "action", "inventory", "action to perform (inventory, reboot)")
	probeCmd.Flags().BoolVar(&probeInsecure, "insecure", true, "accept self-signed controller certificates")
}

func runProbe() error {
	h, err := host.New("probe-target", probeIP)
	if err != nil {
		return err
	}

	cred := credential.New(probeUsername, probePassword)
	if !cred.Validate() {
		return fmt.Errorf("username and password are required")
	}

	client, err := redfish.NewClient(redfish.Config{Insecure: probeInsecure})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s, err := client.Connect(ctx, h, cred)
	if err != nil {
		return fmt.Errorf("could not connect to controller %s: %w", probeIP, err)
	}
	defer s.Close()

	switch probeAction {
	case "inventory":
		inv, err := s.Inventory(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Model:            %s\n", inv.Model)
		fmt.Printf("Device class:     %s\n", inv.DeviceClass)
		fmt.Printf("Firmware version: %s\n", inv.FirmwareVersion)
		fmt.Printf("Health OK:        %t\n", inv.HealthOK)
	case "reboot":
		if err := s.Reboot(ctx); err != nil {
			return err
		}
		log.Info("Graceful restart requested")
	default:
		return fmt.Errorf("unsupported action %s", probeAction)
	}

	return nil
}
