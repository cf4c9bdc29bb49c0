// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/tcvol/sectorio"
	"github.com/jeremyhahn/tcvol/volume"
)

var (
	createSize       string
	createHidden     bool
	createHiddenSize string
	createEncryption string
	createHash       string
	createQuick      bool
	createFilesystem string
	createPassword   string
	createKeyfiles   string
	createYes        bool
)

var createCmd = &cobra.Command{
	Use:   "create VOLUME",
	Short: "Create a new encrypted container, or a hidden volume inside one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreate(args[0])
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createSize, "size", "", "container size, e.g. 10M, 2G (required for a new outer container)")
	createCmd.Flags().BoolVar(&createHidden, "hidden", false, "create a hidden volume inside an existing outer container at VOLUME")
	createCmd.Flags().StringVar(&createHiddenSize, "hidden-size", "", "hidden volume size, required with --hidden")
	createCmd.Flags().StringVar(&createEncryption, "encryption", "aes", "cascade, e.g. aes, aes-twofish-serpent")
	createCmd.Flags().StringVar(&createHash, "hash", "sha512", "header key derivation function: sha512, ripemd160, whirlpool, streebog, argon2id, argon2id-strong")
	createCmd.Flags().BoolVar(&createQuick, "quick", false, "skip the random-fill pass over the new volume's data region")
	createCmd.Flags().StringVar(&createFilesystem, "filesystem", "none", "filesystem to lay down after creation: none, fat, hfs (none is the only one this build writes)")
	createCmd.Flags().StringVar(&createPassword, "password", "", "passphrase (prompted interactively if omitted)")
	createCmd.Flags().StringVar(&createKeyfiles, "keyfiles", "", "comma-separated keyfile/directory paths mixed into the passphrase")
	createCmd.Flags().BoolVarP(&createYes, "yes", "y", false, "confirm writing to a raw block device")
}

func runCreate(path string) error {
	if createFilesystem != "" && createFilesystem != "none" {
		return fmt.Errorf("--filesystem=%s: this build only writes an unformatted volume (none)", createFilesystem)
	}

	cascade, err := parseCascade(createEncryption)
	if err != nil {
		return err
	}
	kdf, err := parseKDF(createHash)
	if err != nil {
		return err
	}

	pass, err := promptPassphrase("Passphrase: ", createPassword)
	if err != nil {
		return err
	}
	creds := volume.Credentials{Passphrase: pass, Keyfiles: parseKeyfiles(createKeyfiles)}

	p := volume.CreateParams{
		Path:          path,
		Credentials:   creds,
		Cascade:       cascade,
		KDF:           kdf,
		QuickFormat:   createQuick,
		UserConfirmed: createYes,
		SectorSize:    512,
	}

	if createHidden {
		info, err := existingOuterInfo(path, creds)
		if err != nil {
			return fmt.Errorf("open outer container to size the hidden volume: %w", err)
		}
		hiddenSize, err := parseSize(createHiddenSize)
		if err != nil {
			return err
		}
		if hiddenSize == 0 {
			return fmt.Errorf("--hidden-size is required with --hidden")
		}
		p.Hidden = true
		p.OuterScope = sectorio.Scope{Start: volume.HeaderAreaSize, Len: info.VolumeSize}
		p.HiddenSize = hiddenSize
	} else {
		size, err := parseSize(createSize)
		if err != nil {
			return err
		}
		p.TotalSize = size
	}

	if !createQuick {
		progress := &volume.Progress{}
		p.Progress = progress
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-sigCh:
				fmt.Fprintln(os.Stderr, "\naborting create, finishing the current chunk...")
				progress.Abort.Store(true)
			case <-done:
			}
		}()
	}

	if err := volume.Create(p); err != nil {
		return err
	}
	fmt.Printf("created %s\n", path)
	return nil
}

// existingOuterInfo mounts path read-only under creds just long enough
// to read back the outer volume's size, so a hidden-volume create can
// place the hidden scope at the end of it without the caller having to
// pass the outer size by hand.
func existingOuterInfo(path string, creds volume.Credentials) (volume.Info, error) {
	mv, err := volume.Open(cmdContext(), volume.OpenParams{Path: path, Outer: creds, ReadOnly: true})
	if err != nil {
		return volume.Info{}, err
	}
	defer mv.Close()
	return volume.VolumeInfo(mv), nil
}
