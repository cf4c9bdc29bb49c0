// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Terminal abstracts interactive passphrase entry so command tests can
// substitute a fake without touching a real tty.
type Terminal interface {
	ReadPassword(fd int) ([]byte, error)
}

// DefaultTerminal implements Terminal using the actual term package.
type DefaultTerminal struct{}

func (d *DefaultTerminal) ReadPassword(fd int) ([]byte, error) {
	return term.ReadPassword(fd)
}

var activeTerminal Terminal = &DefaultTerminal{}

// promptPassphrase reads a passphrase from stdin without echoing it,
// falling back to the flag value when one was already supplied on the
// command line.
func promptPassphrase(prompt string, flagValue string) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := activeTerminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pw, nil
}
