package model

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreasuryRecord_Layout(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	rec := &TreasuryRecord{Authority: authority, Bump: 254}

	data, err := rec.MarshalAccountData()
	require.NoError(t, err)

	require.Len(t, data, TreasuryRecordSize)
	assert.Equal(t, TreasuryDiscriminator[:], data[:DiscriminatorSize])
	assert.Equal(t, authority.Bytes(), data[DiscriminatorSize:DiscriminatorSize+32])
	assert.Equal(t, byte(254), data[TreasuryRecordSize-1])

	decoded, err := UnmarshalTreasuryRecord(data)
	require.NoError(t, err)
	assert.True(t, decoded.Authority.Equals(authority))
	assert.Equal(t, uint8(254), decoded.Bump)
}

func TestUnmarshalTreasuryRecord_Rejects(t *testing.T) {
	good, err := (&TreasuryRecord{Authority: solana.NewWallet().PublicKey(), Bump: 1}).MarshalAccountData()
	require.NoError(t, err)

	wrongTag := append([]byte(nil), good...)
	wrongTag[0] ^= 0xFF

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", good[:TreasuryRecordSize-1]},
		{"long", append(append([]byte(nil), good...), 0)},
		{"wrong discriminator", wrongTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalTreasuryRecord(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestAccountDiscriminator_Distinct(t *testing.T) {
	assert.NotEqual(t, AccountDiscriminator("Treasury"), AccountDiscriminator("Vault"))
	assert.Equal(t, AccountDiscriminator("Treasury"), TreasuryDiscriminator)
}

func TestAccount_CloneAndAllocation(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	acct := NewSystemAccount(addr)
	assert.False(t, acct.IsAllocated())

	acct.Data = []byte{1, 2, 3}
	assert.True(t, acct.IsAllocated())

	clone := acct.Clone()
	clone.Data[0] = 9
	clone.Lamports = 10
	assert.Equal(t, byte(1), acct.Data[0])
	assert.Equal(t, uint64(0), acct.Lamports)
}

func TestLamportsToSOL(t *testing.T) {
	assert.Equal(t, "1", LamportsToSOL(solana.LAMPORTS_PER_SOL).String())
	assert.Equal(t, "0.0000004", LamportsToSOL(400).String())
	assert.Equal(t, "18446744073.709551615", LamportsToSOL(^uint64(0)).String())
	assert.Equal(t, "0", LamportsToSOL(0).String())
}
