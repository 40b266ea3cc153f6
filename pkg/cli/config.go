/*
Package cli facilitates building command-line applications around a serial session. It defines a
[Config] type that can be used to register common command-line flags (using the Golang flag
package), environment variable equivalents and a YAML configuration file.

The package uses [keyring]'s platform-agnostic interface for storing the proxy's token signing
secret in an OS-dependent credential store.

# Examples

	config, err := NewConfig(FlagAdapter | FlagSession)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for the adapter, session tuning, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	if err := config.LoadFile(); err != nil { // Fills in remaining fields from $BTSERIAL_CONFIG
		panic(err)
	}

	session, err := config.Open(ctx, nil) // A fully wired facade.Facade
	if err != nil {
		panic(err)
	}
	defer session.Close()

Precedence is command line, then environment, then configuration file, then package defaults.
*/
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"gopkg.in/yaml.v3"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/connector/bluez"
	"github.com/rfcommd/btserial/pkg/connector/sim"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/permission"
)

// CapabilityList is used to translate capabilities provided at the command line into
// permission.Capability values.
type CapabilityList []permission.Capability

// Set updates a CapabilityList from a command-line argument. The argument may be a
// comma-separated list.
func (l *CapabilityList) Set(value string) error {
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c, err := permission.ParseCapability(name)
		if err != nil {
			return err
		}
		if !l.contains(c) {
			*l = append(*l, c)
		}
	}
	return nil
}

func (l *CapabilityList) contains(c permission.Capability) bool {
	for _, existing := range *l {
		if existing == c {
			return true
		}
	}
	return false
}

func (l *CapabilityList) String() string {
	var names []string
	for _, c := range *l {
		names = append(names, string(c))
	}
	return strings.Join(names, ",")
}

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvConfigFile     = "BTSERIAL_CONFIG"
	EnvAdapterBackend = "BTSERIAL_ADAPTER_BACKEND"
	EnvAdapterID      = "BTSERIAL_ADAPTER"
	EnvChannel        = "BTSERIAL_RFCOMM_CHANNEL"
	EnvAuthorizer     = "BTSERIAL_AUTHORIZER"
	EnvGranted        = "BTSERIAL_GRANT"
	EnvScanTimeout    = "BTSERIAL_SCAN_TIMEOUT"
	EnvSecretName     = "BTSERIAL_SECRET_NAME"
	EnvSecretFile     = "BTSERIAL_SECRET_FILE"
	EnvProxyURL       = "BTSERIAL_PROXY_URL"
	EnvTokenFile      = "BTSERIAL_TOKEN_FILE"
	EnvKeyringType    = "BTSERIAL_KEYRING_TYPE"
	EnvKeyringPass    = "BTSERIAL_KEYRING_PASSWORD"
	EnvKeyringPath    = "BTSERIAL_KEYRING_PATH"
	EnvKeyringDebug   = "BTSERIAL_KEYRING_DEBUG"
	EnvVerbose        = "BTSERIAL_VERBOSE"
)

const (
	defaultProxyPort      = 4443
	defaultAdapterBackend = BackendBlueZ
)

// Adapter backends.
const (
	BackendBlueZ = "bluez"
	BackendSim   = "sim"
)

// Authorizers.
const (
	AuthorizerCapabilities = "capabilities"
	AuthorizerPolicy       = "policy"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagAdapter Flag = 1 // Enable adapter options.
	FlagSession Flag = 2 // Enable session tuning and permission options.
	FlagSecret  Flag = 4 // Enable proxy signing secret options.
	FlagProxy   Flag = 8 // Enable proxy client options (URL and bearer token).
	FlagAll     Flag = FlagAdapter | FlagSession | FlagSecret | FlagProxy
)

var (
	ErrNoSecretSpecified = errors.New("signing secret location not provided")
	ErrUnknownBackend    = errors.New("unknown adapter backend")
	ErrUnknownAuthorizer = errors.New("unknown authorizer")
	ErrKeyNotFound       = keyring.ErrKeyNotFound
)

// Config fields determine how a session reaches the Bluetooth adapter and how tools authenticate
// to the proxy.
type Config struct {
	Flags          Flag // Controls which set of environment variables/CLI flags to use.
	ConfigFilename string
	Verbose        bool

	AdapterBackend string
	AdapterID      string
	Channel        int
	SimPeers       []SimPeer

	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	BufferSize     int
	PoolSize       int
	Authorizer     string
	Granted        CapabilityList

	KeyringSecretName string // Name of the proxy signing secret in system keyring
	SecretFilename    string
	ProxyHost         string
	ProxyPort         int
	ProxyTimeout      time.Duration
	ProxyURL          string
	TokenFilename     string

	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	password *string
	secret   []byte
	token    string
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	flag.StringVar(&c.ConfigFilename, "config", "", "YAML configuration `file`. Defaults to $BTSERIAL_CONFIG.")
	flag.BoolVar(&c.Verbose, "debug", false, "Enable verbose logging. Defaults to $BTSERIAL_VERBOSE.")
	if c.Flags.isSet(FlagAdapter) {
		flag.StringVar(&c.AdapterBackend, "backend", "", "Adapter `backend` ("+BackendBlueZ+"|"+BackendSim+"). Defaults to $BTSERIAL_ADAPTER_BACKEND.")
		c.registerCommandLineFlagsOsSpecific()
	}
	if c.Flags.isSet(FlagSession) {
		flag.DurationVar(&c.ScanTimeout, "scan-timeout", 0, "Upper bound on a discovery session. Defaults to $BTSERIAL_SCAN_TIMEOUT.")
		flag.DurationVar(&c.ConnectTimeout, "connect-timeout", 0, "Upper bound on an RFCOMM handshake")
		flag.DurationVar(&c.PollInterval, "poll-interval", 0, "How long a read waits for data before reporting none")
		flag.IntVar(&c.BufferSize, "buffer-size", 0, "Read buffer capacity in `bytes`")
		flag.IntVar(&c.PoolSize, "workers", 0, "Number of concurrent background operations")
		flag.StringVar(&c.Authorizer, "authorizer", "", "Permission `source` ("+AuthorizerCapabilities+"|"+AuthorizerPolicy+"). Defaults to $BTSERIAL_AUTHORIZER.")
		flag.Var(&c.Granted, "grant", "Capabilities granted by the policy authorizer (connect,scan,location). Defaults to $BTSERIAL_GRANT.")
	}
	if c.Flags.isSet(FlagSecret) {
		flag.StringVar(&c.KeyringSecretName, "secret-name", "", "System keyring `name` for the token signing secret. Defaults to $BTSERIAL_SECRET_NAME.")
		flag.StringVar(&c.SecretFilename, "secret-file", "", "A `file` containing the token signing secret. Defaults to $BTSERIAL_SECRET_FILE.")
	}
	if c.Flags.isSet(FlagProxy) {
		flag.StringVar(&c.ProxyURL, "proxy", "", "Proxy base `URL`; tools drive the remote session instead of a local adapter. Defaults to $BTSERIAL_PROXY_URL.")
		flag.StringVar(&c.TokenFilename, "token-file", "", "`File` containing a proxy bearer token. Defaults to $BTSERIAL_TOKEN_FILE.")
	}
	if c.Flags.isSet(FlagSecret) {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $BTSERIAL_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.ConfigFilename == "" {
		c.ConfigFilename = os.Getenv(EnvConfigFile)
	}
	if !c.Verbose {
		_, c.Verbose = os.LookupEnv(EnvVerbose)
	}
	if c.Flags.isSet(FlagAdapter) {
		if c.AdapterBackend == "" {
			c.AdapterBackend = os.Getenv(EnvAdapterBackend)
			log.Debug("Set adapter backend to '%s'", c.AdapterBackend)
		}
		if c.AdapterID == "" {
			c.AdapterID = os.Getenv(EnvAdapterID)
			log.Debug("Set adapter to '%s'", c.AdapterID)
		}
		if c.Channel == 0 {
			if value, ok := os.LookupEnv(EnvChannel); ok {
				if channel, err := strconv.Atoi(value); err == nil {
					c.Channel = channel
					log.Debug("Set RFCOMM channel to %d", c.Channel)
				} else {
					log.Warning("Ignoring invalid %s: %s", EnvChannel, value)
				}
			}
		}
	}
	if c.Flags.isSet(FlagSession) {
		if c.Authorizer == "" {
			c.Authorizer = os.Getenv(EnvAuthorizer)
			log.Debug("Set authorizer to '%s'", c.Authorizer)
		}
		if len(c.Granted) == 0 {
			if err := c.Granted.Set(os.Getenv(EnvGranted)); err != nil {
				log.Warning("Ignoring invalid %s: %s", EnvGranted, err)
			}
		}
		if c.ScanTimeout == 0 {
			if value, ok := os.LookupEnv(EnvScanTimeout); ok {
				if timeout, err := time.ParseDuration(value); err == nil {
					c.ScanTimeout = timeout
				} else {
					log.Warning("Ignoring invalid %s: %s", EnvScanTimeout, value)
				}
			}
		}
	}
	if c.Flags.isSet(FlagSecret) {
		if c.KeyringSecretName == "" && c.SecretFilename == "" {
			c.KeyringSecretName = os.Getenv(EnvSecretName)
			log.Debug("Set secret name to '%s'", c.KeyringSecretName)

			c.SecretFilename = os.Getenv(EnvSecretFile)
			log.Debug("Set secret file to '%s'", c.SecretFilename)
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
	if c.Flags.isSet(FlagProxy) {
		if c.ProxyURL == "" {
			c.ProxyURL = os.Getenv(EnvProxyURL)
			log.Debug("Set proxy URL to '%s'", c.ProxyURL)
		}
		if c.TokenFilename == "" {
			c.TokenFilename = os.Getenv(EnvTokenFile)
			log.Debug("Set token file to '%s'", c.TokenFilename)
		}
	}
}

// File is the layout of the YAML configuration file.
type File struct {
	LogLevel string `yaml:"log_level"`
	Adapter  struct {
		Backend string `yaml:"backend"`
		ID      string `yaml:"id"`
		Channel int    `yaml:"channel"`
	} `yaml:"adapter"`
	Session struct {
		ScanTimeout    time.Duration `yaml:"scan_timeout"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		BufferSize     int           `yaml:"buffer_size"`
		Workers        int           `yaml:"workers"`
	} `yaml:"session"`
	Permissions struct {
		Authorizer string   `yaml:"authorizer"`
		Granted    []string `yaml:"granted"`
	} `yaml:"permissions"`
	Proxy struct {
		Host       string        `yaml:"host"`
		Port       int           `yaml:"port"`
		Timeout    time.Duration `yaml:"timeout"`
		URL        string        `yaml:"url"`
		TokenFile  string        `yaml:"token_file"`
		SecretName string        `yaml:"secret_name"`
		SecretFile string        `yaml:"secret_file"`
	} `yaml:"proxy"`
	Sim struct {
		Peers []SimPeer `yaml:"peers"`
	} `yaml:"sim"`
}

// LoadFile fills fields that are still unset from c.ConfigFilename. It does nothing if no file is
// configured.
func (c *Config) LoadFile() error {
	if c.ConfigFilename == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFilename)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.ConfigFilename, err)
	}
	log.Debug("Loaded configuration from %s", c.ConfigFilename)
	return c.apply(&f)
}

func (c *Config) apply(f *File) error {
	if f.LogLevel != "" && !c.Verbose {
		level, err := log.ParseLevel(f.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	setString(&c.AdapterBackend, f.Adapter.Backend)
	setString(&c.AdapterID, f.Adapter.ID)
	if c.Channel == 0 {
		c.Channel = f.Adapter.Channel
	}
	if len(c.SimPeers) == 0 {
		c.SimPeers = f.Sim.Peers
	}

	setDuration(&c.ScanTimeout, f.Session.ScanTimeout)
	setDuration(&c.ConnectTimeout, f.Session.ConnectTimeout)
	setDuration(&c.PollInterval, f.Session.PollInterval)
	setInt(&c.BufferSize, f.Session.BufferSize)
	setInt(&c.PoolSize, f.Session.Workers)
	setString(&c.Authorizer, f.Permissions.Authorizer)
	if len(c.Granted) == 0 {
		for _, name := range f.Permissions.Granted {
			if err := c.Granted.Set(name); err != nil {
				return err
			}
		}
	}

	setString(&c.ProxyHost, f.Proxy.Host)
	setInt(&c.ProxyPort, f.Proxy.Port)
	setDuration(&c.ProxyTimeout, f.Proxy.Timeout)
	setString(&c.ProxyURL, f.Proxy.URL)
	setString(&c.TokenFilename, f.Proxy.TokenFile)
	if c.KeyringSecretName == "" && c.SecretFilename == "" {
		c.KeyringSecretName = f.Proxy.SecretName
		c.SecretFilename = f.Proxy.SecretFile
	}
	return nil
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

func setDuration(field *time.Duration, value time.Duration) {
	if *field == 0 {
		*field = value
	}
}

// ProxyAddress returns the host:port the proxy server listens on.
func (c *Config) ProxyAddress() string {
	host := c.ProxyHost
	if host == "" {
		host = "localhost"
	}
	port := c.ProxyPort
	if port == 0 {
		port = defaultProxyPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Adapter opens the configured adapter backend.
func (c *Config) Adapter(ctx context.Context) (connector.Adapter, error) {
	backend := c.AdapterBackend
	if backend == "" {
		backend = defaultAdapterBackend
	}
	switch backend {
	case BackendBlueZ:
		if c.Channel < 0 || c.Channel > 30 {
			return nil, fmt.Errorf("invalid RFCOMM channel %d", c.Channel)
		}
		log.Debug("Opening BlueZ adapter %q", c.AdapterID)
		adapter, err := bluez.NewAdapter(ctx, c.AdapterID, uint8(c.Channel))
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case BackendSim:
		peers, err := simPeers(c.SimPeers)
		if err != nil {
			return nil, err
		}
		log.Debug("Using simulated adapter with %d peers", len(peers))
		return sim.New(peers...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
}

// PermissionAuthorizer returns the configured permission source. The capabilities authorizer checks
// the process's Linux capabilities; the policy authorizer grants c.Granted.
func (c *Config) PermissionAuthorizer() (permission.Authorizer, error) {
	switch c.Authorizer {
	case "", AuthorizerCapabilities:
		return permission.NewCapabilityAuthorizer(), nil
	case AuthorizerPolicy:
		granted := c.Granted
		if len(granted) == 0 {
			granted = permission.Required
		}
		return permission.NewPolicy(granted...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAuthorizer, c.Authorizer)
}

// FacadeOptions returns the session tuning in c.
func (c *Config) FacadeOptions() facade.Options {
	return facade.Options{
		PoolSize:       c.PoolSize,
		ConnectTimeout: c.ConnectTimeout,
		ScanTimeout:    c.ScanTimeout,
		PollInterval:   c.PollInterval,
		BufferSize:     c.BufferSize,
	}
}

// Open builds a session around the configured adapter. onChange, if not nil, observes connection
// state transitions.
func (c *Config) Open(ctx context.Context, onChange func(connection.Status)) (*facade.Facade, error) {
	authorizer, err := c.PermissionAuthorizer()
	if err != nil {
		return nil, err
	}
	adapter, err := c.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	options := c.FacadeOptions()
	options.OnStateChange = onChange
	return facade.Build(adapter, authorizer, options), nil
}

// Token returns the proxy bearer token from c.TokenFilename, or an empty string if no token file is
// configured.
func (c *Config) Token() (string, error) {
	if c.token != "" || c.TokenFilename == "" {
		return c.token, nil
	}
	data, err := os.ReadFile(c.TokenFilename)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	c.token = strings.TrimSpace(string(data))
	return c.token, nil
}
