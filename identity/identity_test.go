package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSeed_Deterministic(t *testing.T) {
	a, err := FromSeed("client key three", 0)
	require.NoError(t, err)
	b, err := FromSeed("client key three", 0)
	require.NoError(t, err)

	assert.Equal(t, a.Address(), b.Address())
	assert.True(t, strings.HasPrefix(a.Address(), AddressPrefix))
	assert.Equal(t, strings.ToLower(a.Address()), a.Address())
	assert.Equal(t, a.Address(), a.String())
}

func TestFromSeed_IndexAndSeedChangeAddress(t *testing.T) {
	base, err := FromSeed("seed", 0)
	require.NoError(t, err)
	other, err := FromSeed("seed", 1)
	require.NoError(t, err)
	diff, err := FromSeed("seed2", 0)
	require.NoError(t, err)

	assert.NotEqual(t, base.Address(), other.Address())
	assert.NotEqual(t, base.Address(), diff.Address())
}

func TestFromSeed_Empty(t *testing.T) {
	_, err := FromSeed("   ", 0)
	assert.ErrorIs(t, err, ErrEmptySeed)
}

func TestAddressRoundTrip(t *testing.T) {
	id, err := FromSeed("weather agent", 0)
	require.NoError(t, err)

	pub, err := PublicKeyFromAddress(id.Address())
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), pub)
	assert.True(t, ValidAddress(id.Address()))
}

func TestPublicKeyFromAddress_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{"empty", ""},
		{"wrong prefix", "fetch1abcdef"},
		{"bad alphabet", AddressPrefix + "!!!!"},
		{"short key", AddressPrefix + "mfrgg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PublicKeyFromAddress(tt.address)
			assert.ErrorIs(t, err, ErrInvalidAddress)
			assert.False(t, ValidAddress(tt.address))
		})
	}
}

func TestSignVerify(t *testing.T) {
	id, err := FromSeed("signer", 7)
	require.NoError(t, err)
	other, err := FromSeed("someone else", 7)
	require.NoError(t, err)

	msg := []byte("hello weather")
	sig := id.Sign(msg)

	assert.NoError(t, Verify(id.Address(), msg, sig))
	assert.Error(t, Verify(id.Address(), []byte("hello weathe"), sig))
	assert.Error(t, Verify(other.Address(), msg, sig))
	assert.ErrorIs(t, Verify("nope", msg, sig), ErrInvalidAddress)
}
