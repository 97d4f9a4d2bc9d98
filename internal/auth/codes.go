// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/samber/oops"
)

// urlSafeAlphabet has exactly 64 symbols so each random byte maps to one
// symbol through its low six bits without modulo bias.
const urlSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Lengths of generated identifiers.
const (
	SessionIDLength   = 32
	ResetTokenLength  = 48
	InviteCodeLength  = 12
	NumericCodeDigits = 6
)

var numericCodeSpace = big.NewInt(1_000_000)

// CodeGenerator produces unpredictable strings for out-of-band verification.
type CodeGenerator interface {
	// OpaqueToken returns a URL-safe random string of exactly length characters.
	OpaqueToken(length int) (string, error)

	// NumericCode returns a zero-padded six digit code.
	NumericCode() (string, error)
}

// SecureCodeGenerator implements CodeGenerator on crypto/rand.
type SecureCodeGenerator struct{}

// NewSecureCodeGenerator creates a SecureCodeGenerator.
func NewSecureCodeGenerator() *SecureCodeGenerator {
	return &SecureCodeGenerator{}
}

// OpaqueToken returns a URL-safe random string of exactly length characters.
func (g *SecureCodeGenerator) OpaqueToken(length int) (string, error) {
	if length <= 0 {
		return "", oops.Code("CODE_INVALID_LENGTH").
			With("length", length).
			Errorf("token length must be positive")
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("CODE_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", length).
			Wrap(err)
	}

	for i, b := range buf {
		buf[i] = urlSafeAlphabet[b&63]
	}
	return string(buf), nil
}

// NumericCode returns a code uniform over 000000-999999.
func (g *SecureCodeGenerator) NumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, numericCodeSpace)
	if err != nil {
		return "", oops.Code("CODE_GENERATE_FAILED").
			With("operation", "crypto/rand.Int").
			Wrap(err)
	}
	return fmt.Sprintf("%0*d", NumericCodeDigits, n.Int64()), nil
}
