package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known Hardhat account #0.
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestSealOpenRoundTrip(t *testing.T) {
	sealed, err := SealKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := OpenKey(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = OpenKey(sealed, "wrong")
	assert.Error(t, err)
}

func TestSealRejectsBadInput(t *testing.T) {
	_, err := SealKey(testKey, "")
	assert.Error(t, err)
	_, err = SealKey("abcd", "pw")
	assert.Error(t, err)
	_, err = SealKey("zz", "pw")
	assert.Error(t, err)
}

func TestResolvePrefersRawKey(t *testing.T) {
	got, err := Resolve(KeySource{RawHex: "0x" + testKey, FilePath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = Resolve(KeySource{})
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestLoadWalletFromFile(t *testing.T) {
	sealed, err := SealKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	w, err := LoadWallet(KeySource{FilePath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testAddress, w.Address)
	require.NotNil(t, w.Key)
}
