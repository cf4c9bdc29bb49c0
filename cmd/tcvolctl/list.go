// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List volumes tcvolctl currently has mounted",
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := allMountRecords()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no volumes mounted")
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%s\t%s\t%s\tpid=%d\n", r.VolumePath, r.MountPoint, r.FrontEnd, r.PID)
		}
		return nil
	},
}

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List raw block devices that could be used as a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := os.ReadDir("/sys/block")
		if err != nil {
			return fmt.Errorf("read /sys/block: %w", err)
		}
		for _, e := range entries {
			fmt.Println("/dev/" + e.Name())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(listDevicesCmd)
}
