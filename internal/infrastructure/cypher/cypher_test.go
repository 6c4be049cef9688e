package cypher_test

import (
	"context"
	"testing"

	"github.com/shiro-wallet/shirod/internal/infrastructure/cypher"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	crypto := cypher.New()
	ctx := context.Background()

	fixtures := []struct {
		name     string
		seed     []byte
		password string
	}{
		{
			name:     "bip39 seed",
			seed:     make([]byte, 64),
			password: "password",
		},
		{
			name:     "binary seed",
			seed:     []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD, 0xFC},
			password: "very long password with special chars !@#$%^&*()",
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			encrypted, err := crypto.Encrypt(ctx, f.seed, f.password)
			require.NoError(t, err)
			require.NotEqual(t, f.seed, encrypted)

			decrypted, err := crypto.Decrypt(ctx, encrypted, f.password)
			require.NoError(t, err)
			require.Equal(t, f.seed, decrypted)

			again, err := crypto.Encrypt(ctx, f.seed, f.password)
			require.NoError(t, err)
			require.NotEqual(t, encrypted, again)
		})
	}
}

func TestDecryptInvalid(t *testing.T) {
	crypto := cypher.New()
	ctx := context.Background()

	encrypted, err := crypto.Encrypt(ctx, []byte("seed"), "password")
	require.NoError(t, err)

	_, err = crypto.Decrypt(ctx, encrypted, "wrong")
	require.ErrorIs(t, err, cypher.ErrInvalidPassword)

	_, err = crypto.Decrypt(ctx, encrypted[:10], "password")
	require.Error(t, err)

	_, err = crypto.Decrypt(ctx, nil, "password")
	require.Error(t, err)

	_, err = crypto.Encrypt(ctx, []byte("seed"), "")
	require.Error(t, err)
}
