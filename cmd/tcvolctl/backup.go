// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/tcvol/volume"
)

var backupTo string

var backupHeadersCmd = &cobra.Command{
	Use:   "backup-headers PATH",
	Short: "Copy all four header slots of PATH, still encrypted, to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if backupTo == "" {
			return fmt.Errorf("--to is required")
		}
		f, err := os.OpenFile(backupTo, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //#nosec G304 -- operator-supplied backup destination
		if err != nil {
			return err
		}
		defer f.Close()
		if err := volume.BackupHeaders(args[0], f); err != nil {
			return err
		}
		fmt.Printf("backed up headers of %s to %s\n", args[0], backupTo)
		return nil
	},
}

var (
	restoreFromInternal bool
	restoreFromFile     string
)

var restoreHeadersCmd = &cobra.Command{
	Use:   "restore-headers PATH",
	Short: "Restore PATH's header slots from an internal backup or a backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreFromInternal == (restoreFromFile != "") {
			return fmt.Errorf("exactly one of --from-internal or --from-file is required")
		}
		if restoreFromInternal {
			if err := volume.RestoreHeaders(args[0], nil, true); err != nil {
				return err
			}
			fmt.Printf("restored headers of %s from its internal backup\n", args[0])
			return nil
		}
		f, err := os.Open(restoreFromFile) //#nosec G304 -- operator-supplied backup source
		if err != nil {
			return err
		}
		defer f.Close()
		if err := volume.RestoreHeaders(args[0], f, false); err != nil {
			return err
		}
		fmt.Printf("restored headers of %s from %s\n", args[0], restoreFromFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupHeadersCmd)
	rootCmd.AddCommand(restoreHeadersCmd)

	backupHeadersCmd.Flags().StringVar(&backupTo, "to", "", "destination file for the header backup")

	restoreHeadersCmd.Flags().BoolVar(&restoreFromInternal, "from-internal", false, "restore the primary slots from this container's own backup slots")
	restoreHeadersCmd.Flags().StringVar(&restoreFromFile, "from-file", "", "restore all four slots from a file produced by backup-headers")
	restoreHeadersCmd.MarkFlagsMutuallyExclusive("from-internal", "from-file")
}
