package unlocker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	envunlocker "github.com/shiro-wallet/shirod/internal/infrastructure/unlocker/env"
	fileunlocker "github.com/shiro-wallet/shirod/internal/infrastructure/unlocker/file"
	"github.com/stretchr/testify/require"
)

func TestEnvUnlocker(t *testing.T) {
	_, err := envunlocker.NewService("")
	require.Error(t, err)

	unlocker, err := envunlocker.NewService("password")
	require.NoError(t, err)
	password, err := unlocker.GetPassword(context.Background())
	require.NoError(t, err)
	require.Equal(t, "password", password)
}

func TestFileUnlocker(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "password")

	_, err := fileunlocker.NewService(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("password\n"), 0600))
	unlocker, err := fileunlocker.NewService(path)
	require.NoError(t, err)

	password, err := unlocker.GetPassword(ctx)
	require.NoError(t, err)
	require.Equal(t, "password", password)

	require.NoError(t, os.WriteFile(path, []byte(" \n"), 0600))
	_, err = unlocker.GetPassword(ctx)
	require.Error(t, err)
}
