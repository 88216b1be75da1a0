package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppName = "mailfolders"

// Dir is ~/.config/mailfolders. The config file and the file keyring live below it.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home dir: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

func EnsureDir() (string, error) {
	return ensure("config")
}

// EnsureKeyringDir creates the directory the keyring "file" backend stores entries in.
func EnsureKeyringDir() (string, error) {
	return ensure("keyring", "keyring")
}

func ensure(what string, sub ...string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(append([]string{dir}, sub...)...)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure %s dir: %w", what, err)
	}
	return dir, nil
}
