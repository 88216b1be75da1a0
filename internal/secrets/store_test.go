package secrets

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"
)

func withArrayKeyring(t *testing.T) *keyring.ArrayKeyring {
	t.Helper()

	ring := keyring.NewArrayKeyring(nil)
	prev := openKeyringFunc
	openKeyringFunc = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyringFunc = prev })

	return ring
}

func TestPasswordRoundTrip(t *testing.T) {
	withArrayKeyring(t)

	_, err := GetPassword("User@imap.example.com")
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, SetPassword(" User@imap.example.com ", "secret"))

	password, err := GetPassword("user@imap.example.com")
	require.NoError(t, err)
	require.Equal(t, "secret", password)

	require.NoError(t, DeletePassword("user@imap.example.com"))

	_, err = GetPassword("user@imap.example.com")
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.ErrorIs(t, SetPassword("", "secret"), errMissingUsername)
	require.ErrorIs(t, SetPassword("@imap.example.com", "secret"), errMissingUsername)
	require.ErrorIs(t, SetPassword("user@imap.example.com", ""), errMissingPassword)
}

func TestBackends(t *testing.T) {
	tests := []struct {
		name, goos, dbus string
		want             []keyring.BackendType
	}{
		{" File ", "darwin", "", []keyring.BackendType{keyring.FileBackend}},
		{"keychain", "darwin", "", []keyring.BackendType{keyring.KeychainBackend}},
		{"auto", "darwin", "", nil},
		{"", "linux", "unix:path=/run/bus", nil},
		{"auto", "linux", "", []keyring.BackendType{keyring.FileBackend}},
	}

	for _, tc := range tests {
		got, err := backends(tc.name, tc.goos, tc.dbus)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}

	_, err := backends("vault", "linux", "")
	require.ErrorIs(t, err, errInvalidKeyringBackend)
}

func TestOpenKeyringUsesConfiguredBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MAILFOLDERS_AUTH_KEYRING_BACKEND", "file")
	t.Setenv(keyringPasswordEnv, "")

	var got keyring.Config
	prev := keyringOpenFunc
	keyringOpenFunc = func(cfg keyring.Config) (keyring.Keyring, error) {
		got = cfg
		return keyring.NewArrayKeyring(nil), nil
	}
	t.Cleanup(func() { keyringOpenFunc = prev })

	_, err := openKeyring()
	require.NoError(t, err)
	require.Equal(t, []keyring.BackendType{keyring.FileBackend}, got.AllowedBackends)
	require.Equal(t, "mailfolders", got.ServiceName)
	require.Equal(t, filepath.Join(home, ".config", "mailfolders", "keyring"), got.FileDir)

	t.Setenv("MAILFOLDERS_AUTH_KEYRING_BACKEND", "vault")
	_, err = openKeyring()
	require.ErrorIs(t, err, errInvalidKeyringBackend)
}

func TestFileKeyringPrompt(t *testing.T) {
	password, err := fileKeyringPasswordFuncFrom("", true, false)("prompt")
	require.NoError(t, err)
	require.Empty(t, password)

	_, err = fileKeyringPasswordFuncFrom("", false, false)("prompt")
	require.ErrorIs(t, err, errNoTTY)
}

func TestSecretErrors(t *testing.T) {
	withArrayKeyring(t)

	require.ErrorIs(t, SetSecret("  ", []byte("x")), errMissingSecretKey)

	_, err := GetSecret("missing")
	require.ErrorIs(t, err, ErrSecretNotFound)

	failure := errors.New("keyring locked")
	prev := openKeyringFunc
	openKeyringFunc = func() (keyring.Keyring, error) { return nil, failure }
	t.Cleanup(func() { openKeyringFunc = prev })

	_, err = GetSecret("key")
	require.ErrorIs(t, err, failure)
}
