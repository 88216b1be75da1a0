package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"mailfolders/internal/config"
)

var keyringPasswordEnv = strings.ToUpper(config.AppName) + "_KEYRING_PASSWORD"

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingSecretKey      = errors.New("missing secret key")
	errMissingUsername       = errors.New("missing username")
	errMissingPassword       = errors.New("missing password")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	openKeyringFunc          = openKeyring
	keyringOpenFunc          = keyring.Open
)

const keyringBackendAuto = "auto"

// backends maps the configured backend name to the keyring backends to try. On Linux an
// auto setting without a D-Bus session falls back to the file backend, since SecretService
// cannot be reached.
func backends(name, goos, dbusAddr string) ([]keyring.BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", keyringBackendAuto:
		if goos == "linux" && dbusAddr == "" {
			return []keyring.BackendType{keyring.FileBackend}, nil
		}
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, keychain, or file)", errInvalidKeyringBackend, name, keyringBackendAuto)
	}
}

func fileKeyringPasswordFuncFrom(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	// Treat "set to empty string" as intentional; empty passphrase is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}
	if isTTY {
		return keyring.TerminalPrompt
	}
	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func openKeyring() (keyring.Keyring, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("resolve keyring backend: %w", err)
	}

	allowed, err := backends(cfg.Auth.KeyringBackend, runtime.GOOS, os.Getenv("DBUS_SESSION_BUS_ADDRESS"))
	if err != nil {
		return nil, err
	}

	dir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, err
	}

	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	ring, err := keyringOpenFunc(keyring.Config{
		ServiceName:      config.AppName,
		AllowedBackends:  allowed,
		FileDir:          dir,
		FilePasswordFunc: fileKeyringPasswordFuncFrom(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd()))),
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

// withKeyring opens the keyring and runs fn with the trimmed key.
func withKeyring(key string, fn func(ring keyring.Keyring, key string) error) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errMissingSecretKey
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}

	if err := fn(ring, key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrSecretNotFound
		}
		return err
	}
	return nil
}

func SetSecret(key string, value []byte) error {
	return withKeyring(key, func(ring keyring.Keyring, key string) error {
		err := ring.Set(keyring.Item{Key: key, Data: value, Label: config.AppName})
		if err != nil {
			return fmt.Errorf("store secret: %w", err)
		}
		return nil
	})
}

func GetSecret(key string) ([]byte, error) {
	var data []byte
	err := withKeyring(key, func(ring keyring.Keyring, key string) error {
		item, err := ring.Get(key)
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		data = item.Data
		return nil
	})
	return data, err
}

func DeleteSecret(key string) error {
	return withKeyring(key, func(ring keyring.Keyring, key string) error {
		if err := ring.Remove(key); err != nil {
			return fmt.Errorf("remove secret: %w", err)
		}
		return nil
	})
}

// Passwords are stored per principal, the "user@host" string that also keys the folder
// cache, so two servers with the same login do not share a secret.

func SetPassword(principal, password string) error {
	if password == "" {
		return errMissingPassword
	}
	key, err := passwordKey(principal)
	if err != nil {
		return err
	}
	return SetSecret(key, []byte(password))
}

func GetPassword(principal string) (string, error) {
	key, err := passwordKey(principal)
	if err != nil {
		return "", err
	}
	data, err := GetSecret(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DeletePassword(principal string) error {
	key, err := passwordKey(principal)
	if err != nil {
		return err
	}
	return DeleteSecret(key)
}

func passwordKey(principal string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(principal))
	if p == "" || strings.HasPrefix(p, "@") {
		return "", errMissingUsername
	}
	return "imap:password:" + p, nil
}
