// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Command tcvolctl is the collaborator CLI front-end for the volume
// engine: option parsing, passphrase prompting and process lifecycle
// around the mount/create/change/backup operations the volume and
// storageserver packages implement.
package main

func main() {
	Execute()
}
