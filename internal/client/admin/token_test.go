package admin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "leasekeeper")

	tok, err := LoadToken(dir)
	require.NoError(t, err)
	require.Empty(t, tok, "missing file means no token")

	require.NoError(t, SaveToken(dir, "abc.def.ghi"))

	tok, err = LoadToken(dir)
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", tok)
}

func TestLoadTokenTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tokenFile), []byte(" tok \n"), 0o600))

	tok, err := LoadToken(dir)
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
}
