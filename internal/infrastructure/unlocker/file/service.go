package fileunlocker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shiro-wallet/shirod/internal/core/ports"
)

type service struct {
	filePath string
}

func NewService(filePath string) (ports.Unlocker, error) {
	if len(filePath) <= 0 {
		return nil, fmt.Errorf("missing password file path")
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("invalid password file path: %s", err)
	}
	return &service{filePath}, nil
}

// GetPassword reads the file on every call so the password can be rotated without restart.
func (s *service) GetPassword(_ context.Context) (string, error) {
	buf, err := os.ReadFile(s.filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read password file: %w", err)
	}
	password := strings.TrimSpace(string(buf))
	if len(password) <= 0 {
		return "", fmt.Errorf("password file is empty")
	}
	return password, nil
}
