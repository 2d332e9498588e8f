package secretbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New([]byte("server-secret"))
	require.NoError(t, err)

	sealed, err := box.Seal("sk-test-1234567890")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "sk-test")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-1234567890", opened)
}

func TestSealUsesFreshNonce(t *testing.T) {
	box, err := New([]byte("server-secret"))
	require.NoError(t, err)

	a, err := box.Seal("same")
	require.NoError(t, err)
	b, err := box.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsForeignOrTamperedInput(t *testing.T) {
	box, err := New([]byte("server-secret"))
	require.NoError(t, err)
	other, err := New([]byte("another-secret"))
	require.NoError(t, err)

	sealed, err := box.Seal("value")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = box.Open("v1:" + "AAAA")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = box.Open("plaintext")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
