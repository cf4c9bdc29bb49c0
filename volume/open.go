// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"context"
	"errors"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/header"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/keyfile"
	"github.com/jeremyhahn/tcvol/primitives"
	"github.com/jeremyhahn/tcvol/sectorio"
	"github.com/jeremyhahn/tcvol/selftest"
	"github.com/jeremyhahn/tcvol/xtsmode"
)

// candidate holds one successful decrypt's parsed header and the
// master-key-carrying cascade it was decrypted under, so the caller
// can rebuild a data-plane cascade from the header's own master-key
// material without re-deriving anything.
type candidate struct {
	plaintext header.Plaintext
	cascade   []primitives.Cipher
}

// tryOpenTarget implements spec step 3 for one target: it reads the
// slot at slotOffset, mixes creds' keyfile digest into the passphrase
// once, then walks {KDF × cascade} pairs fastest-first, short-circuiting
// on the first valid magic+CRC.
func tryOpenTarget(ctx context.Context, backend blockdev.Backend, slotOffset uint64, creds Credentials, target header.Target) (candidate, error) {
	var slot [header.SlotSize]byte
	if _, err := backend.ReadAt(slot[:], int64(slotOffset)); err != nil {
		return candidate{}, err
	}
	salt := slot[:header.SaltSize]
	ciphertext := slot[header.SaltSize : header.SaltSize+header.EncryptedSize]

	digest, err := keyfile.Digest(creds.Keyfiles)
	if err != nil {
		return candidate{}, err
	}
	mixedPassphrase := keyfile.Mix(creds.Passphrase, digest)
	defer func() {
		for i := range mixedPassphrase {
			mixedPassphrase[i] = 0
		}
	}()

	for _, kdf := range primitives.AllKDFs() {
		for _, kinds := range CandidateCascades() {
			select {
			case <-ctx.Done():
				return candidate{}, ctx.Err()
			default:
			}

			// deriveHeaderKey only fails on a fatal KDF condition (RNG
			// exhaustion, insufficient memory for Argon2id) — a wrong
			// password still derives 64*len(kinds) bytes, it's just the
			// wrong bytes. Propagate rather than treat as "try the next
			// candidate", so a fatal error isn't retried six KDFs times
			// and misreported as WrongCredentials.
			headerKey, err := deriveHeaderKey(kdf, mixedPassphrase, salt, kinds)
			if err != nil {
				return candidate{}, err
			}

			cascade, err := xtsmode.NewCascade(kinds, headerKey)
			for i := range headerKey {
				headerKey[i] = 0
			}
			if err != nil {
				return candidate{}, err
			}

			var decrypted [header.EncryptedSize]byte
			if err := cascade.DecryptSector(decrypted[:], ciphertext, 0); err != nil {
				return candidate{}, err
			}

			full := header.PadToFull(decrypted)
			plaintext, err := header.Parse(full, target)
			if err != nil {
				continue // bad crc/magic: this isn't the right kdf/cascade pair
			}

			return candidate{plaintext: plaintext, cascade: kinds}, nil
		}
	}

	return candidate{}, &tcerr.VolumeError{Op: "open", Kind: tcerr.KindWrongCredentials}
}

// deriveHeaderKey derives exactly len(kinds)*64 bytes of header key
// material, the amount a cascade of len(kinds) ciphers needs.
func deriveHeaderKey(kdf primitives.KDFDescriptor, passphrase, salt []byte, kinds []primitives.Cipher) ([]byte, error) {
	outLen := len(kinds) * 2 * primitives.KeySize
	return primitives.DeriveKey(kdf, passphrase, salt, outLen)
}

// fatalOpenErr reports whether err is anything other than
// tryOpenTarget's own "no kdf/cascade pair matched" sentinel — an RNG,
// memory, or cancellation failure must abort the mount outright rather
// than be folded into WrongCredentialsOrNotAVolume alongside the other
// target's result.
func fatalOpenErr(err error) bool {
	return err != nil && !errors.Is(err, tcerr.Sentinel(tcerr.KindWrongCredentials))
}

// selfTestGuard runs the primitive self-test suite once per process
// and, on failure, reports it as a VolumeError carrying the same Kind
// so the caller's error-kind check doesn't need to know the failure
// actually originated in the crypto layer.
func selfTestGuard(path, op string) error {
	err := selftest.EnsureRun()
	if err == nil {
		return nil
	}
	kind := tcerr.KindSelfTestFailure
	var ce *tcerr.CryptoError
	if errors.As(err, &ce) {
		kind = ce.Kind
	}
	return &tcerr.VolumeError{Path: path, Op: op, Kind: kind, Err: err}
}

// Open implements the mount algorithm: try the outer (and, if
// protect_hidden is set, also the hidden) target, then build a
// Translator over the mounted target's master-key scope: the outer's
// when protect_hidden is set, otherwise whichever target the single
// credential set opened.
func Open(ctx context.Context, p OpenParams) (*MountedVolume, error) {
	if err := selfTestGuard(p.Path, "open"); err != nil {
		return nil, err
	}

	backend, err := blockdev.OpenAuto(p.Path, p.ReadOnly, header.SlotSize)
	if err != nil {
		return nil, err
	}

	totalSize, err := backend.Size()
	if err != nil {
		backend.Close()
		return nil, err
	}

	outerSlot := uint64(PrimaryOuterOffset)
	hiddenSlot := uint64(PrimaryHiddenOffset)
	if p.UseBackupHeaders {
		outerSlot = BackupOuterOffset(uint64(totalSize))
		hiddenSlot = BackupHiddenOffset(uint64(totalSize))
	}

	var (
		mountCand candidate
		guard     *sectorio.HiddenGuard
		slotUsed  uint64
	)

	if p.ProtectHidden {
		outerCand, outerErr := tryOpenTarget(ctx, backend, outerSlot, p.Outer, header.TargetOuter)
		if fatalOpenErr(outerErr) {
			backend.Close()
			return nil, outerErr
		}
		hiddenCand, hiddenErr := tryOpenTarget(ctx, backend, hiddenSlot, p.Hidden, header.TargetHidden)
		if fatalOpenErr(hiddenErr) {
			backend.Close()
			return nil, hiddenErr
		}
		if outerErr != nil || hiddenErr != nil {
			backend.Close()
			return nil, &tcerr.VolumeError{Path: p.Path, Op: "open", Kind: tcerr.KindWrongCredentials}
		}
		mountCand = outerCand
		slotUsed = outerSlot
		guard = &sectorio.HiddenGuard{
			Start: hiddenCand.plaintext.MasterKeyScopeStart,
			Len:   hiddenCand.plaintext.MasterKeyScopeLen,
		}
	} else {
		// Only one credential set was supplied: the target (outer or
		// hidden) is ambiguous, so try hidden first, then outer, and
		// mount whichever succeeds.
		hiddenCand, hiddenErr := tryOpenTarget(ctx, backend, hiddenSlot, p.Outer, header.TargetHidden)
		if fatalOpenErr(hiddenErr) {
			backend.Close()
			return nil, hiddenErr
		}
		if hiddenErr == nil {
			mountCand = hiddenCand
			slotUsed = hiddenSlot
		} else {
			outerCand, outerErr := tryOpenTarget(ctx, backend, outerSlot, p.Outer, header.TargetOuter)
			if fatalOpenErr(outerErr) {
				backend.Close()
				return nil, outerErr
			}
			if outerErr != nil {
				backend.Close()
				return nil, &tcerr.VolumeError{Path: p.Path, Op: "open", Kind: tcerr.KindWrongCredentials}
			}
			mountCand = outerCand
			slotUsed = outerSlot
		}
	}

	cascade, err := xtsmode.NewCascade(mountCand.cascade, mountCand.plaintext.MasterKeyMaterial[:])
	if err != nil {
		backend.Close()
		return nil, err
	}

	scope := sectorio.Scope{Start: mountCand.plaintext.MasterKeyScopeStart, Len: mountCand.plaintext.MasterKeyScopeLen}
	translator := sectorio.New(cascade, backend, scope, mountCand.plaintext.SectorSize, p.ReadOnly, guard)

	return &MountedVolume{
		Translator: translator,
		Backend:    backend,
		SlotOffset: slotUsed,
		ReadOnly:   p.ReadOnly,
		Hidden:     mountCand.plaintext.Target == header.TargetHidden,
	}, nil
}
