package model

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	// DiscriminatorSize is the account header identifying the record type
	DiscriminatorSize = 8

	// TreasuryRecordSize is discriminator + authority + bump
	TreasuryRecordSize = DiscriminatorSize + solana.PublicKeyLength + 1
)

// TreasuryDiscriminator tags accounts holding a TreasuryRecord
var TreasuryDiscriminator = AccountDiscriminator("Treasury")

// AccountDiscriminator returns sha256("account:<name>")[:8]
func AccountDiscriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// TreasuryRecord binds an authority to the bump of its derived vault.
// Both fields are written once at initialization and never change.
type TreasuryRecord struct {
	Authority solana.PublicKey
	Bump      uint8
}

// MarshalAccountData encodes the record as discriminator || borsh(record)
func (r *TreasuryRecord) MarshalAccountData() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(TreasuryDiscriminator[:])

	enc := bin.NewBorshEncoder(buf)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode treasury record: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalTreasuryRecord decodes account data produced by MarshalAccountData
func UnmarshalTreasuryRecord(data []byte) (*TreasuryRecord, error) {
	if len(data) != TreasuryRecordSize {
		return nil, fmt.Errorf("account data is %d bytes, want %d", len(data), TreasuryRecordSize)
	}
	if !bytes.Equal(data[:DiscriminatorSize], TreasuryDiscriminator[:]) {
		return nil, fmt.Errorf("account discriminator mismatch")
	}

	var rec TreasuryRecord
	dec := bin.NewBorshDecoder(data[DiscriminatorSize:])
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode treasury record: %w", err)
	}

	return &rec, nil
}
