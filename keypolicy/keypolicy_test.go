package keypolicy

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/ota-server/updateserver/errors"
)

func TestCheckRSAKeyRejectsNil(t *testing.T) {
	err := CheckRSAKey(nil)
	require.Error(t, err)
	assert.Equal(t, berrors.Validation, berrors.TypeOf(err))
}

func TestCheckRSAKeyRejectsWeakModulus(t *testing.T) {
	weak, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	err = CheckRSAKey(weak)
	require.Error(t, err)
	assert.Equal(t, berrors.Validation, berrors.TypeOf(err))
}

func TestCheckRSAKeyAcceptsAt2048(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	assert.NoError(t, CheckRSAKey(key))
}
