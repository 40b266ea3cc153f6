// Utility for managing the proxy's token signing secret and minting bearer tokens

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rfcommd/btserial/internal/authentication"
	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/cli"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Manages the secret btserial-proxy uses to authenticate clients, and mints and checks the bearer
tokens clients present.

  create                 Generates a secret and saves it in the system keyring (or -secret-file).
                         An existing secret is kept unless invoked with -f.
  delete                 Removes the secret from the system keyring.
  migrate                Moves the secret in -secret-file into the keyring entry -secret-name.
  sign SUBJECT [JSON]    Prints a token for SUBJECT. Claims in the JSON file ("-" for stdin) are
                         added to the token.
  verify [TOKEN_FILE]    Checks a token (read from stdin if no file is given) and prints its claims.

Commands that print a secret only ever print its fingerprint.`

var (
	ErrMissingSubject = errors.New("missing SUBJECT")
	ErrMigrateArgs    = errors.New("must provide path of existing secret (-secret-file) and name of new secret (-secret-name)")
)

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] create|delete|migrate|sign|verify [ARG...]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func fingerprint(secret []byte) string {
	digest := sha256.Sum256(secret)
	return hex.EncodeToString(digest[:8])
}

func readStdinOrFile(filename string) ([]byte, error) {
	if filename == "" || filename == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(filename)
}

func readClaims(filename string) (jwt.MapClaims, error) {
	if filename == "" {
		return nil, nil
	}
	jsonBytes, err := readStdinOrFile(filename)
	if err != nil {
		return nil, err
	}
	var claims jwt.MapClaims
	if err := json.Unmarshal(jsonBytes, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

type tool struct {
	config    *cli.Config
	overwrite bool
	lifetime  time.Duration
	out       io.Writer
}

func (t *tool) create() error {
	if !t.overwrite {
		if secret, err := t.config.Secret(); err == nil {
			fmt.Fprintln(t.out, fingerprint(secret))
			return nil
		}
	}
	secret, err := cli.NewSecret()
	if err != nil {
		return fmt.Errorf("failed to generate secret: %w", err)
	}
	if err := t.config.SaveSecret(secret); err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	fmt.Fprintln(t.out, fingerprint(secret))
	return nil
}

func (t *tool) migrate() error {
	if t.config.SecretFilename == "" || t.config.KeyringSecretName == "" {
		return ErrMigrateArgs
	}
	secret, err := os.ReadFile(t.config.SecretFilename)
	if err != nil {
		return fmt.Errorf("unable to read secret: %w", err)
	}
	secret = []byte(strings.TrimSpace(string(secret)))
	if err := t.config.SaveSecret(secret); err != nil {
		return fmt.Errorf("failed to save secret to keyring: %w", err)
	}
	fmt.Fprintln(t.out, fingerprint(secret))
	return nil
}

func (t *tool) sign(subject, claimsFile string) error {
	if subject == "" {
		return ErrMissingSubject
	}
	secret, err := t.config.Secret()
	if err != nil {
		return fmt.Errorf("failed to load secret: %w", err)
	}
	claims, err := readClaims(claimsFile)
	if err != nil {
		return fmt.Errorf("error reading JSON: %w", err)
	}
	token, err := authentication.SignToken(secret, subject, t.lifetime, claims)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	fmt.Fprintln(t.out, token)
	return nil
}

func (t *tool) verify(tokenFile string) error {
	secret, err := t.config.Secret()
	if err != nil {
		return fmt.Errorf("failed to load secret: %w", err)
	}
	tokenBytes, err := readStdinOrFile(tokenFile)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	claims, err := authentication.VerifyToken(secret, strings.TrimSpace(string(tokenBytes)))
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to encode claims as JSON: %w", err)
	}
	fmt.Fprintf(t.out, "%s\n", encoded)
	return nil
}

func (t *tool) run(args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch args[0] {
	case "create":
		return t.create()
	case "delete":
		return t.config.DeleteSecret()
	case "migrate":
		return t.migrate()
	case "sign":
		return t.sign(arg(1), arg(2))
	case "verify":
		return t.verify(arg(1))
	}
	return fmt.Errorf("unrecognized command: %s", args[0])
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	t := tool{out: os.Stdout}
	config, err := cli.NewConfig(cli.FlagSecret)
	if err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}
	t.config = config
	config.RegisterCommandLineFlags()
	flag.Usage = cliUsage
	flag.BoolVar(&t.overwrite, "f", false, "Overwrite existing secret if it exists")
	flag.DurationVar(&t.lifetime, "lifetime", 24*time.Hour, "Token lifetime; zero mints a token that never expires")
	flag.Parse()
	config.ReadFromEnvironment()
	if config.Verbose || config.Debug {
		log.SetLevel(log.LevelDebug)
	}
	if err := config.LoadFile(); err != nil {
		writeErr("Error loading configuration: %s", err)
		return
	}

	if flag.NArg() == 0 {
		usage(os.Stderr)
		return
	}
	if err := t.run(flag.Args()); err != nil {
		writeErr("%s", err)
		return
	}
	status = 0
}
