// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/tcvol/blockdev"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Attach or detach a container file as a raw loop block device",
}

var loopAttachCmd = &cobra.Command{
	Use:   "attach FILE",
	Short: "Attach FILE to a free /dev/loopN node and print its path",
	Long: `attach lets a regular container file stand in for a raw block
device: the result is a path suitable for create --yes or mount,
exercising the real BLKGETSIZE64/BLKSSZGET device code path without a
physical disk.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loopPath, err := blockdev.AttachLoopDevice(args[0])
		if err != nil {
			return err
		}
		fmt.Println(loopPath)
		return nil
	},
}

var loopDetachCmd = &cobra.Command{
	Use:   "detach DEVICE",
	Short: "Detach a loop device created by attach",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return blockdev.DetachLoopDevice(args[0])
	},
}

var loopFindCmd = &cobra.Command{
	Use:   "find FILE",
	Short: "Print the loop device FILE is currently attached to, if any",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loopPath, err := blockdev.FindLoopDevice(args[0])
		if err != nil {
			return err
		}
		fmt.Println(loopPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loopCmd)
	loopCmd.AddCommand(loopAttachCmd, loopDetachCmd, loopFindCmd)
}
