package utils

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")

// ValidateAddress validates a base58 Solana public key.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// Solana address validation - base58, typically 32-44 characters
	if len(address) < 32 || len(address) > 44 {
		return fmt.Errorf("Solana address has invalid length")
	}
	if !isBase58String(address) {
		return fmt.Errorf("Solana address must be valid base58")
	}

	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}

	return nil
}

// ParseAddress validates and decodes a base58 Solana public key.
func ParseAddress(address string) (solana.PublicKey, error) {
	if err := ValidateAddress(address); err != nil {
		return solana.PublicKey{}, err
	}
	return solana.MustPublicKeyFromBase58(address), nil
}

// ValidateSignature validates a base58 transaction signature.
func ValidateSignature(sig string) error {
	if sig == "" {
		return fmt.Errorf("transaction signature cannot be empty")
	}

	// Solana transaction signature - base58 encoded, typically 87-88 characters
	if len(sig) < 80 || len(sig) > 90 {
		return fmt.Errorf("Solana transaction signature has invalid length")
	}
	if !isBase58String(sig) {
		return fmt.Errorf("Solana transaction signature must be valid base58")
	}

	if _, err := solana.SignatureFromBase58(sig); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	return nil
}

// ValidatePercentage checks that a percentage lies in [0, 100].
func ValidatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() {
		return fmt.Errorf("percentage cannot be negative")
	}
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("percentage cannot exceed 100")
	}
	return nil
}

// ValidateAmount checks if an amount string is a non-negative integer
// that fits in a uint64.
func ValidateAmount(amount string) (uint64, error) {
	if amount == "" {
		return 0, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return 0, fmt.Errorf("amount cannot be negative")
	}

	if !dec.Equal(dec.Truncate(0)) {
		return 0, fmt.Errorf("amount must be an integer in minor units")
	}

	bi := dec.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount overflows uint64")
	}

	return bi.Uint64(), nil
}

// FormatAmount renders an amount in minor units as a decimal string with
// the given number of decimals.
func FormatAmount(amount uint64, decimals int) string {
	dec := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
	return dec.String()
}

// Helper function to check if a string is valid base58
func isBase58String(s string) bool {
	// Base58 alphabet: 123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz
	return base58Pattern.MatchString(s)
}
