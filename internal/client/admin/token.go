package admin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/leasekeeper/internal/filex"
)

const tokenFile = "token"

// DefaultStateDir is where leasectl keeps its token.
func DefaultStateDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "leasekeeper"), nil
}

func SaveToken(dir, token string) error {
	return filex.WritePrivate(filepath.Join(dir, tokenFile), []byte(token))
}

// LoadToken returns the saved token, or "" when there is none.
func LoadToken(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, tokenFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
