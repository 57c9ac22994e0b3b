package oauthstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	token, err := Encode("state-secret", "3e1f9a52-0c5b-4f2d-9d6e-0a1b2c3d4e5f", "sandbox")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := Decode("state-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "3e1f9a52-0c5b-4f2d-9d6e-0a1b2c3d4e5f", claims.ClientID)
	assert.Equal(t, "sandbox", claims.Environment)
}

func TestStateTamperedSecret(t *testing.T) {
	token, err := Encode("state-secret", "client-id", "prod")
	require.NoError(t, err)

	_, err = Decode("another-secret", token)
	assert.Error(t, err)
}

func TestStateGarbage(t *testing.T) {
	_, err := Decode("state-secret", "not-a-jwt")
	assert.Error(t, err)
}
