// Package derivation computes keyless vault addresses.
//
// A vault address is derived from a domain tag, an authority key and a one-byte
// bump using the platform's program-address function. The canonical bump is the
// highest value, probing down from 255, whose address has no private key.
// Reproducing the address from (tag, authority, bump) is what authorizes the
// program to move funds out of the vault.
package derivation

import (
	"fmt"

	"github.com/devrev/treasury/internal/errors"
	"github.com/gagliardetto/solana-go"
)

// MaxSeedLength is the platform limit for a single seed
const MaxSeedLength = 32

// TreasurySeed is the domain tag for treasury vaults
var TreasurySeed = []byte("treasury")

// AddressFunc derives a program address from seeds. It fails when the
// resulting point lies on the ed25519 curve.
type AddressFunc func(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, error)

// Deriver derives and verifies program addresses for one program ID
type Deriver struct {
	programID     solana.PublicKey
	createAddress AddressFunc
}

// NewDeriver creates a deriver using the platform derivation function
func NewDeriver(programID solana.PublicKey) *Deriver {
	return NewDeriverWithAddressFunc(programID, solana.CreateProgramAddress)
}

// NewDeriverWithAddressFunc creates a deriver with a custom derivation function
func NewDeriverWithAddressFunc(programID solana.PublicKey, fn AddressFunc) *Deriver {
	return &Deriver{
		programID:     programID,
		createAddress: fn,
	}
}

// ProgramID returns the program the addresses are derived for
func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// Seeds returns the full seed list, bump included, that signs for the vault
func Seeds(tag []byte, authority solana.PublicKey, bump uint8) [][]byte {
	return [][]byte{tag, authority.Bytes(), {bump}}
}

// Derive finds the canonical (address, bump) for tag and authority
func (d *Deriver) Derive(tag []byte, authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	if err := validateTag(tag); err != nil {
		return solana.PublicKey{}, 0, err
	}

	for bump := 255; bump >= 0; bump-- {
		address, err := d.createAddress(Seeds(tag, authority, uint8(bump)), d.programID)
		if err == nil {
			return address, uint8(bump), nil
		}
	}

	return solana.PublicKey{}, 0, errors.DerivationExhausted(authority.String())
}

// Address recomputes the address for a known bump
func (d *Deriver) Address(tag []byte, authority solana.PublicKey, bump uint8) (solana.PublicKey, error) {
	if err := validateTag(tag); err != nil {
		return solana.PublicKey{}, err
	}

	address, err := d.createAddress(Seeds(tag, authority, bump), d.programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("bump %d does not produce a program address: %w", bump, err)
	}
	return address, nil
}

// Verify reports whether (tag, authority, bump) reproduces claimed
func (d *Deriver) Verify(tag []byte, authority solana.PublicKey, bump uint8, claimed solana.PublicKey) bool {
	address, err := d.Address(tag, authority, bump)
	if err != nil {
		return false
	}
	return address.Equals(claimed)
}

// TreasuryVault derives the vault address and bump for an authority
func (d *Deriver) TreasuryVault(authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return d.Derive(TreasurySeed, authority)
}

func validateTag(tag []byte) error {
	if len(tag) == 0 {
		return errors.InvalidArgument("derivation tag is empty", nil)
	}
	if len(tag) > MaxSeedLength {
		return errors.InvalidArgument(
			fmt.Sprintf("derivation tag is %d bytes, limit is %d", len(tag), MaxSeedLength), nil)
	}
	return nil
}
