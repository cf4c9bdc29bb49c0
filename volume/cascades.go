// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import "github.com/jeremyhahn/tcvol/primitives"

// CandidateCascades lists every cascade the try-all mount algorithm
// attempts, fastest first, matching the combinations the real format
// supports: the three single ciphers, then the double- and
// triple-cipher cascades.
func CandidateCascades() [][]primitives.Cipher {
	aes, serpent, twofish := primitives.CipherAES, primitives.CipherSerpent, primitives.CipherTwofish
	return [][]primitives.Cipher{
		{aes},
		{serpent},
		{twofish},
		{aes, twofish},
		{serpent, aes},
		{twofish, serpent},
		{serpent, twofish, aes},
		{aes, twofish, serpent},
	}
}
