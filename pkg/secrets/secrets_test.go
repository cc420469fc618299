package secrets_test

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/secrets"
)

func TestParseKey(t *testing.T) {
	t.Parallel()

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, secrets.KeySize)

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "hex", input: hex.EncodeToString(key)},
		{name: "base64", input: base64.StdEncoding.EncodeToString(key)},
		{name: "surrounding whitespace", input: " " + hex.EncodeToString(key) + "\n"},
		{name: "empty", input: "", wantErr: secrets.ErrEmptyKey},
		{name: "not encoded", input: "!!!", wantErr: secrets.ErrInvalidKeyEncoding},
		{name: "too short", input: hex.EncodeToString(key[:16]), wantErr: secrets.ErrInvalidKeySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := secrets.ParseKey(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, key, got)
		})
	}
}

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	master, err := secrets.GenerateKey()
	require.NoError(t, err)

	github, err := secrets.DeriveKey(master, "github")
	require.NoError(t, err)
	assert.Len(t, github, secrets.KeySize)

	again, err := secrets.DeriveKey(master, "github")
	require.NoError(t, err)
	assert.Equal(t, github, again, "derivation is deterministic")

	stripe, err := secrets.DeriveKey(master, "stripe")
	require.NoError(t, err)
	assert.NotEqual(t, github, stripe, "purposes get independent keys")
	assert.NotEqual(t, master, github)

	other, err := secrets.GenerateKey()
	require.NoError(t, err)
	otherGithub, err := secrets.DeriveKey(other, "github")
	require.NoError(t, err)
	assert.NotEqual(t, github, otherGithub)

	_, err = secrets.DeriveKey(master[:10], "github")
	assert.ErrorIs(t, err, secrets.ErrInvalidKeySize)
	_, err = secrets.DeriveKey(master, "")
	assert.ErrorIs(t, err, secrets.ErrEmptyPurpose)
}
