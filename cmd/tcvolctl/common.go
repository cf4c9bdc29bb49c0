// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import "context"

// cmdContext is the background context every command's volume-engine
// calls run under; the CLI has no per-command deadline or context
// cancellation. Signal handling lives in the mount command and in
// create's random-fill abort, not in this context.
func cmdContext() context.Context {
	return context.Background()
}
