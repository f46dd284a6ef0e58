package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvAPIKey    = "OX_API_KEY"
	EnvAPISecret = "OX_API_SECRET"
)

// LoadEnv reads a .env file into the process environment.
// Missing files are ignored and variables already set are never overwritten.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

type Credentials struct {
	APIKey    string
	APISecret string
}

func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		APIKey:    strings.TrimSpace(os.Getenv(EnvAPIKey)),
		APISecret: strings.TrimSpace(os.Getenv(EnvAPISecret)),
	}
	if creds.APIKey == "" {
		return Credentials{}, errors.New(EnvAPIKey + " is required")
	}
	if creds.APISecret == "" {
		return Credentials{}, errors.New(EnvAPISecret + " is required")
	}
	return creds, nil
}
