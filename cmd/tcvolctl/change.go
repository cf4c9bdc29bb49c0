// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/tcvol/header"
	"github.com/jeremyhahn/tcvol/volume"
)

var (
	changeOldPassword string
	changeOldKeyfiles string
	changeNewPassword string
	changeNewKeyfiles string
	changeHash        string
	changeHidden      bool
	changeUseBackup   bool
)

var changeCmd = &cobra.Command{
	Use:   "change PATH",
	Short: "Change a volume's passphrase, keyfiles and/or header KDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChange(args[0])
	},
}

func init() {
	rootCmd.AddCommand(changeCmd)
	changeCmd.Flags().StringVar(&changeOldPassword, "password", "", "current passphrase (prompted interactively if omitted)")
	changeCmd.Flags().StringVar(&changeOldKeyfiles, "keyfiles", "", "current comma-separated keyfile/directory paths")
	changeCmd.Flags().StringVar(&changeNewPassword, "new-password", "", "new passphrase (prompted interactively if omitted)")
	changeCmd.Flags().StringVar(&changeNewKeyfiles, "new-keyfiles", "", "new comma-separated keyfile/directory paths")
	changeCmd.Flags().StringVar(&changeHash, "new-hash", "sha512", "KDF the new header key is derived with: sha512, ripemd160, whirlpool, streebog, argon2id, argon2id-strong")
	changeCmd.Flags().BoolVar(&changeHidden, "hidden", false, "change the hidden volume's target instead of the outer one")
	changeCmd.Flags().BoolVar(&changeUseBackup, "use-backup-headers", false, "re-derive from the backup header slot instead of the primary one")
}

func runChange(path string) error {
	oldPass, err := promptPassphrase("Current passphrase: ", changeOldPassword)
	if err != nil {
		return err
	}
	newPass, err := promptPassphrase("New passphrase: ", changeNewPassword)
	if err != nil {
		return err
	}
	kdf, err := parseKDF(changeHash)
	if err != nil {
		return err
	}

	target := header.TargetOuter
	if changeHidden {
		target = header.TargetHidden
	}

	p := volume.ChangePasswordParams{
		Path:             path,
		Target:           target,
		UseBackupHeaders: changeUseBackup,
		Old:              volume.Credentials{Passphrase: oldPass, Keyfiles: parseKeyfiles(changeOldKeyfiles)},
		New:              volume.Credentials{Passphrase: newPass, Keyfiles: parseKeyfiles(changeNewKeyfiles)},
		NewKDF:           kdf,
	}
	if err := volume.ChangePassword(cmdContext(), p); err != nil {
		return err
	}
	fmt.Printf("changed credentials on %s\n", path)
	return nil
}
