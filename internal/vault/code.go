// Package vault provides the security primitives of the service: invite code
// generation and the self-signed TLS certificate of the TCP listener.
package vault

import (
	"crypto/rand"
	"io"
)

// CodeAlphabet is base32 without the visually ambiguous 0/O/1/I.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters produced by GenerateCode.
const CodeLength = 8

// GenerateCode reads 5 random bytes from r (crypto/rand when nil) and encodes
// them as CodeLength characters of CodeAlphabet, 5 bits per character.
func GenerateCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, CodeLength*5/8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	var (
		acc  uint64
		bits uint
		out  = make([]byte, 0, CodeLength)
	)
	for _, b := range buf {
		acc = acc<<8 | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out = append(out, CodeAlphabet[(acc>>bits)&31])
		}
	}
	return string(out), nil
}
