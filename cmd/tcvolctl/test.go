// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/tcvol/selftest"
)

var testDetailed bool

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the known-answer self-test suite for every registered primitive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !testDetailed {
			if err := selftest.RunAll(); err != nil {
				return err
			}
			fmt.Println("all self-tests passed")
			return nil
		}
		results := selftest.RunAllDetailed()
		failed := false
		for _, r := range results {
			status := "ok"
			if r.Err != nil {
				status = r.Err.Error()
				failed = true
			}
			fmt.Printf("%-20s %s\n", r.Name, status)
		}
		if failed {
			return fmt.Errorf("one or more self-tests failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().BoolVar(&testDetailed, "detailed", false, "report every check instead of stopping at the first failure")
}
