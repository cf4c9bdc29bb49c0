// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/jeremyhahn/tcvol/storageserver"
	"github.com/jeremyhahn/tcvol/volume"
)

var (
	mountPassword         string
	mountKeyfiles         string
	mountProtectHidden    bool
	mountHiddenPassword   string
	mountHiddenKeyfiles   string
	mountReadOnly         bool
	mountUseBackupHeaders bool
	mountFrontEnd         string
)

var mountCmd = &cobra.Command{
	Use:   "mount VOLUME [MOUNTPOINT]",
	Short: "Mount an encrypted container as a block device at MOUNTPOINT",
	Long: `mount opens VOLUME, starts an in-process storage-server front-end
over its sector I/O translator, and mounts it onto MOUNTPOINT via the
host NFSv4 client. It blocks in the foreground until MOUNTPOINT is
unmounted (see dismount) or it receives SIGINT/SIGTERM.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountpoint := ""
		if len(args) == 2 {
			mountpoint = args[1]
		}
		return runMount(args[0], mountpoint)
	},
}

var dismountCmd = &cobra.Command{
	Use:   "dismount [VOLUME]",
	Short: "Unmount a previously mounted volume",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dismountAll {
			return runDismountAll()
		}
		if len(args) != 1 {
			return fmt.Errorf("dismount requires VOLUME or --all")
		}
		return runDismount(args[0])
	},
}

var dismountAll bool

func init() {
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(dismountCmd)

	mountCmd.Flags().StringVar(&mountPassword, "password", "", "outer passphrase (prompted interactively if omitted)")
	mountCmd.Flags().StringVar(&mountKeyfiles, "keyfiles", "", "comma-separated outer keyfile/directory paths")
	mountCmd.Flags().BoolVar(&mountProtectHidden, "protect-hidden", false, "mount the outer volume with hidden-volume write protection")
	mountCmd.Flags().StringVar(&mountHiddenPassword, "hidden-password", "", "hidden volume passphrase, required with --protect-hidden")
	mountCmd.Flags().StringVar(&mountHiddenKeyfiles, "hidden-keyfiles", "", "comma-separated hidden-volume keyfile/directory paths")
	mountCmd.Flags().BoolVar(&mountReadOnly, "read-only", false, "mount read-only")
	mountCmd.Flags().BoolVar(&mountUseBackupHeaders, "use-backup-headers", false, "try the backup header slots instead of the primary ones")
	mountCmd.Flags().StringVar(&mountFrontEnd, "front-end", "nfs", "storage-server front-end: nfs or iscsi")

	dismountCmd.Flags().BoolVar(&dismountAll, "all", false, "dismount every volume tcvolctl has recorded as mounted")
}

func runMount(volumePath, mountpoint string) error {
	pass, err := promptPassphrase("Outer passphrase: ", mountPassword)
	if err != nil {
		return err
	}
	p := volume.OpenParams{
		Path:             volumePath,
		Outer:            volume.Credentials{Passphrase: pass, Keyfiles: parseKeyfiles(mountKeyfiles)},
		UseBackupHeaders: mountUseBackupHeaders,
		ProtectHidden:    mountProtectHidden,
		ReadOnly:         mountReadOnly,
	}
	if mountProtectHidden {
		hiddenPass, err := promptPassphrase("Hidden passphrase: ", mountHiddenPassword)
		if err != nil {
			return err
		}
		p.Hidden = volume.Credentials{Passphrase: hiddenPass, Keyfiles: parseKeyfiles(mountHiddenKeyfiles)}
	}

	mv, err := volume.Open(cmdContext(), p)
	if err != nil {
		return err
	}
	defer mv.Close()

	var server storageserver.Server
	switch mountFrontEnd {
	case "nfs", "":
		server = storageserver.NewNFSv4Server()
	case "iscsi":
		server = storageserver.NewISCSITarget()
	default:
		return fmt.Errorf("unknown front-end %q (want nfs or iscsi)", mountFrontEnd)
	}

	cb := storageserver.CallbacksFromTranslator(mv.Translator)
	h, err := server.Create(cb)
	if err != nil {
		return fmt.Errorf("start storage server: %w", err)
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- server.Run(h) }()

	if mountpoint != "" {
		export, err := nfsExportAddr(server, h)
		if err != nil {
			_ = server.Stop(h)
			return err
		}
		if err := unix.Mount(export, mountpoint, "nfs", 0, ""); err != nil {
			_ = server.Stop(h)
			return fmt.Errorf("mount %s at %s: %w", export, mountpoint, err)
		}
		if err := writeMountRecord(mountRecord{VolumePath: volumePath, MountPoint: mountpoint, FrontEnd: mountFrontEnd, PID: os.Getpid()}); err != nil {
			slog.Warn("failed to record mount, dismount will need --all or a manual unmount", "error", err)
		}
		defer func() {
			_ = unix.Unmount(mountpoint, 0)
			_ = removeMountRecord(volumePath)
		}()
		fmt.Printf("mounted %s on %s\n", volumePath, mountpoint)
	} else {
		fmt.Printf("storage server listening for %s (front-end: %s); no MOUNTPOINT given, pass one to mount\n", volumePath, mountFrontEnd)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		_ = server.Stop(h)
		<-runErrCh
	case err := <-runErrCh:
		if err != nil {
			return err
		}
	}
	return server.Destroy(h)
}

// nfsExportAddr builds the "host:port:/" mount spec the OS's NFS
// client expects. Only NFSv4Server binds an address dynamically worth
// reporting (the iSCSI front-end listens on the well-known port and
// isn't mounted through this path); anything else is a programming
// error in how mount wired up its front-end.
func nfsExportAddr(server storageserver.Server, h storageserver.Handle) (string, error) {
	nfs, ok := server.(*storageserver.NFSv4Server)
	if !ok {
		return "", fmt.Errorf("MOUNTPOINT requires the nfs front-end")
	}
	addr, err := nfs.Addr(h)
	if err != nil {
		return "", err
	}
	return addr + ":/", nil
}

func runDismount(volumePath string) error {
	rec, err := readMountRecord(volumePath)
	if err != nil {
		return err
	}
	return dismountRecord(rec)
}

func runDismountAll() error {
	recs, err := allMountRecords()
	if err != nil {
		return err
	}
	var firstErr error
	for _, rec := range recs {
		if err := dismountRecord(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dismountRecord unmounts rec's mountpoint. Per the storage-server
// front-end contract, this alone is enough to finish the job: once the
// kernel NFS client disconnects, the owning mount process's Run loop
// sees its last client gone and returns on its own, which drives that
// process's deferred dismount (backend close, key zeroisation).
func dismountRecord(rec mountRecord) error {
	if err := unix.Unmount(rec.MountPoint, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", rec.MountPoint, err)
	}
	_ = removeMountRecord(rec.VolumePath)
	fmt.Printf("dismounted %s\n", rec.VolumePath)
	return nil
}
