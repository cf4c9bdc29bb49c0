// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

// Pool is a process-wide CSPRNG front end. It exists as a narrow type
// rather than bare calls to crypto/rand.Read so that callers which want
// to mix in extra entropy (a keyfile, a mouse-movement sample collected
// by a UI, whatever) have somewhere to put it, and so a single RNG
// failure can be latched instead of silently retried forever.
type Pool struct {
	mu     sync.Mutex
	extra  []byte
	broken bool
}

// global is the pool every primitives.* and volume.* function draws
// from unless a caller constructs its own for testing.
var global = &Pool{}

// Global returns the process-wide CSPRNG pool.
func Global() *Pool { return global }

// Add mixes additional entropy into the pool. It never replaces
// crypto/rand as the primary source; it only gets XORed into the next
// Get call's output, one time, best-effort.
func (p *Pool) Add(entropy []byte) {
	if len(entropy) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extra = append(p.extra, entropy...)
}

// Get fills out with cryptographically secure random bytes. A failure
// to read from the OS RNG is latched: once Get has failed once, it
// keeps failing (with KindRNGUnavailable) until Reseed clears the flag,
// since a process whose entropy source is broken should not quietly
// keep serving predictable bytes to callers who stopped checking the
// first error.
func (p *Pool) Get(out []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broken {
		return &tcerr.CryptoError{Op: "rand", Kind: tcerr.KindRNGUnavailable, Err: fmt.Errorf("rng pool latched broken")}
	}
	if _, err := rand.Read(out); err != nil {
		p.broken = true
		return &tcerr.CryptoError{Op: "rand", Kind: tcerr.KindRNGUnavailable, Err: err}
	}
	if len(p.extra) > 0 {
		for i := range out {
			out[i] ^= p.extra[i%len(p.extra)]
		}
		p.extra = nil
	}
	if bytes.Equal(out, make([]byte, len(out))) {
		p.broken = true
		return &tcerr.CryptoError{Op: "rand", Kind: tcerr.KindRNGUnavailable, Err: fmt.Errorf("rng produced all-zero output")}
	}
	return nil
}

// Reseed clears the latched-broken flag, allowing Get to try the OS RNG
// again. Intended for long-running server processes that want to retry
// after transient entropy starvation rather than staying wedged for the
// remainder of the process lifetime.
func (p *Pool) Reseed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broken = false
}

// Bytes is a convenience wrapper returning a freshly allocated slice of
// n random bytes from the global pool.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := global.Get(b); err != nil {
		return nil, err
	}
	return b, nil
}
