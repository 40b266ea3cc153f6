package cli

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName   = "io.btserial"
	keyringSecretService = "proxySecret"
	keyringDirectory     = "~/.btserial_keys"
	// SecretLength is the number of random bytes in secrets generated by NewSecret.
	SecretLength = 32
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	if c.Debug {
		keyring.Debug = true
	}
	return keyring.Open(c.Backend)
}

func (c *Config) fullSecretName() string {
	return keyringSecretService + "." + c.KeyringSecretName
}

// NewSecret returns a random token signing secret. The secret is hex encoded so that it survives
// being stored in a text file.
func NewSecret() ([]byte, error) {
	raw := make([]byte, SecretLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	secret := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(secret, raw)
	return secret, nil
}

// Secret loads the proxy's token signing secret from the location specified in c. The file takes
// precedence over the keyring. The secret is cached after it is first loaded.
func (c *Config) Secret() ([]byte, error) {
	if c.secret != nil {
		return c.secret, nil
	}
	if c.SecretFilename == "" && c.KeyringSecretName == "" {
		return nil, ErrNoSecretSpecified
	}
	var secret []byte
	var err error
	if c.SecretFilename != "" {
		secret, err = os.ReadFile(c.SecretFilename)
		if err == nil {
			secret = bytes.TrimSpace(secret)
		} else if !errors.Is(err, os.ErrNotExist) || c.KeyringSecretName == "" {
			return nil, err
		}
	}
	if secret == nil {
		if secret, err = c.LoadSecretFromKeyring(); err != nil {
			return nil, err
		}
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	c.secret = secret
	return secret, nil
}

// LoadSecretFromKeyring reads the signing secret from the system keyring.
func (c *Config) LoadSecretFromKeyring() ([]byte, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return nil, err
	}
	item, err := kr.Get(c.fullSecretName())
	if err != nil {
		return nil, fmt.Errorf("could not load secret: %w", err)
	}
	return item.Data, nil
}

// SaveSecret writes secret to the system keyring or file, depending on what options are
// configured. The method prefers the keyring if both options are available.
func (c *Config) SaveSecret(secret []byte) error {
	if c.KeyringSecretName != "" {
		return c.saveSecretToKeyring(secret)
	}
	if c.SecretFilename != "" {
		return os.WriteFile(c.SecretFilename, secret, 0600)
	}
	return ErrNoSecretSpecified
}

func (c *Config) saveSecretToKeyring(secret []byte) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:   c.fullSecretName(),
		Label: "btserial proxy signing secret",
		Data:  secret,
	}); err != nil {
		return fmt.Errorf("failed to enroll secret in keyring: %s", err)
	}
	return nil
}

// DeleteSecret removes the signing secret from the system keyring.
func (c *Config) DeleteSecret() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullSecretName())
}
