package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/caarlos0/env/v11"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// session store.
	DefaultBadgerFile = "badger_db"

	// DefaultSQLiteFile is the default name of the SQLite persistence file.
	DefaultSQLiteFile = "icore.db"

	// DefaultCallTokenKeyfile is the default name of the file containing the
	// call token secret.
	DefaultCallTokenKeyfile = "call_token.key"
)

// Session store backends.
const (
	StoreInmem  = "inmem"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// Persistence backends.
const (
	PersistenceInmem  = "inmem"
	PersistenceSQLite = "sqlite"
)

// Default configuration values.
const (
	DefaultLogLevel          = "debug"
	DefaultBindAddr          = "127.0.0.1:8080"
	DefaultStore             = StoreInmem
	DefaultPersistence       = PersistenceInmem
	DefaultRedisURL          = "redis://127.0.0.1:6379/0"
	DefaultSessionTTL        = 12 * time.Hour
	DefaultStoreTimeout      = 2 * time.Second
	DefaultCallTokenLifetime = time.Hour
	DefaultSendBuffer        = 128
	DefaultMessageRateLimit  = 30
	DefaultMessageRateWindow = time.Minute
	DefaultRateLimit         = false
	DefaultWAMP              = false
	DefaultWAMPAddr          = "127.0.0.1:8081"
	DefaultWAMPRealm         = "icore"
	DefaultICEAddress        = "stun:stun.l.google.com:19302"
	DefaultICEAddress2       = "stun:stun1.l.google.com:19302"
)

// Config contains all the configuration properties of an Icore node.
type Config struct {
	// DataDir is the top-level directory containing Icore configuration and
	// data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogDir, when set, receives one log file per level in addition to the
	// console output.
	LogDir string `mapstructure:"log-dir"`

	// BindAddr is the address:port of the HTTP service, which also accepts the
	// WebSocket connections of clients on /ws.
	BindAddr string `mapstructure:"listen"`

	// Store selects the backend of the call session store: inmem, badger or
	// redis. Only redis allows several Icore nodes to share call state.
	Store string `mapstructure:"store"`

	// DatabaseDir is the directory containing the Badger session store.
	DatabaseDir string `mapstructure:"db"`

	// RedisURL is the URL of the Redis server used by the redis session store
	// and by the rate limiter.
	RedisURL string `mapstructure:"redis-url"`

	// Persistence selects the reference Persistence Service: inmem or sqlite.
	Persistence string `mapstructure:"persistence"`

	// SQLitePath is the path of the SQLite database used when Persistence is
	// sqlite.
	SQLitePath string `mapstructure:"sqlite"`

	// SessionTTL is the lifetime of call sessions, SDP records and ICE queues.
	// It is refreshed on every mutation of a session.
	SessionTTL time.Duration `mapstructure:"session-ttl"`

	// StoreTimeout bounds every call to the session store and to the
	// Persistence Service.
	StoreTimeout time.Duration `mapstructure:"store-timeout"`

	// CallTokenLifetime is the validity of call tokens. It is independent of
	// SessionTTL.
	CallTokenLifetime time.Duration `mapstructure:"call-token-lifetime"`

	// SendBuffer is the number of outbound frames buffered per connection. A
	// connection that overflows its buffer is closed.
	SendBuffer int `mapstructure:"send-buffer"`

	// RateLimit shares the message:send limit of users across nodes through
	// Redis. Without it, and without the redis store, each node enforces the
	// limit on its own.
	RateLimit bool `mapstructure:"rate-limit"`

	// MessageRateLimit is the number of messages a user may send within
	// MessageRateWindow.
	MessageRateLimit int `mapstructure:"message-rate-limit"`

	// MessageRateWindow is the window of MessageRateLimit.
	MessageRateWindow time.Duration `mapstructure:"message-rate-window"`

	// WAMP enables the WAMP relay, which mirrors every broadcast as a WAMP
	// publication for sidecar services.
	WAMP bool `mapstructure:"wamp"`

	// WAMPAddr is the address:port of the WAMP websocket server.
	WAMPAddr string `mapstructure:"wamp-addr"`

	// WAMPRealm is the WAMP realm in which publications are routed.
	WAMPRealm string `mapstructure:"wamp-realm"`

	// ICEAddresses are the URIs of the STUN servers handed to clients along
	// with call invitations.
	// https://developer.mozilla.org/en-US/docs/Web/API/RTCIceServer/urls
	ICEAddresses []string `mapstructure:"ice-addr"`

	// TURNAddress, TURNUsername and TURNPassword describe an optional TURN
	// server with password-based authentication. They are read from the
	// environment.
	TURNAddress  string `mapstructure:"-"`
	TURNUsername string `mapstructure:"-"`
	TURNPassword string `mapstructure:"-"`

	// AuthSecret is the HMAC key used to verify access tokens presented by
	// clients when they connect.
	AuthSecret string `mapstructure:"-"`

	// CallTokenSecret is the HMAC key used to sign and verify call tokens.
	CallTokenSecret string `mapstructure:"-"`

	logger *logrus.Logger
}

// secretsEnv holds raw env values before they are merged into Config.
type secretsEnv struct {
	AuthSecret      string `env:"ICORE_AUTH_SECRET"`
	CallTokenSecret string `env:"ICORE_CALL_TOKEN_SECRET"`
	TURNAddress     string `env:"ICORE_TURN_URL"`
	TURNUsername    string `env:"ICORE_TURN_USERNAME"`
	TURNPassword    string `env:"ICORE_TURN_PASSWORD"`
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		BindAddr:          DefaultBindAddr,
		Store:             DefaultStore,
		DatabaseDir:       DefaultDatabaseDir(),
		RedisURL:          DefaultRedisURL,
		Persistence:       DefaultPersistence,
		SQLitePath:        DefaultSQLitePath(),
		SessionTTL:        DefaultSessionTTL,
		StoreTimeout:      DefaultStoreTimeout,
		CallTokenLifetime: DefaultCallTokenLifetime,
		SendBuffer:        DefaultSendBuffer,
		RateLimit:         DefaultRateLimit,
		MessageRateLimit:  DefaultMessageRateLimit,
		MessageRateWindow: DefaultMessageRateWindow,
		WAMP:              DefaultWAMP,
		WAMPAddr:          DefaultWAMPAddr,
		WAMPRealm:         DefaultWAMPRealm,
		ICEAddresses:      []string{DefaultICEAddress, DefaultICEAddress2},
	}

	return config
}

// NewTestConfig returns a config object with default values, test secrets,
// and a special logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.AuthSecret = "test-auth-secret"
	config.CallTokenSecret = "test-call-token-secret"
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level Icore directory, and updates the database
// paths if they are currently set to their default value. If a path is not
// the default, the user has explicitely set it to something else, so avoid
// changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
	if c.SQLitePath == DefaultSQLitePath() {
		c.SQLitePath = filepath.Join(dataDir, DefaultSQLiteFile)
	}
}

// CallTokenKeyfile returns the full path of the file containing the call
// token secret.
func (c *Config) CallTokenKeyfile() string {
	return filepath.Join(c.DataDir, DefaultCallTokenKeyfile)
}

// LoadSecrets reads secrets from the environment. Values found in the
// environment override the current ones. When no call token secret is set,
// it falls back to the key file written by icore keygen.
func (c *Config) LoadSecrets() error {
	var raw secretsEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse secrets env: %w", err)
	}

	if s := strings.TrimSpace(raw.AuthSecret); s != "" {
		c.AuthSecret = s
	}
	if s := strings.TrimSpace(raw.CallTokenSecret); s != "" {
		c.CallTokenSecret = s
	}
	if s := strings.TrimSpace(raw.TURNAddress); s != "" {
		c.TURNAddress = s
		c.TURNUsername = raw.TURNUsername
		c.TURNPassword = raw.TURNPassword
	}

	if c.CallTokenSecret == "" {
		key, err := ioutil.ReadFile(c.CallTokenKeyfile())
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read call token key file: %w", err)
		}
		c.CallTokenSecret = strings.TrimSpace(string(key))
	}

	return nil
}

// Validate checks that the configuration can run a node.
func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("ICORE_AUTH_SECRET is required")
	}
	if c.CallTokenSecret == "" {
		return fmt.Errorf("ICORE_CALL_TOKEN_SECRET is required (or run icore keygen)")
	}
	switch c.Store {
	case StoreInmem, StoreBadger, StoreRedis:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Persistence {
	case PersistenceInmem, PersistenceSQLite:
	default:
		return fmt.Errorf("unknown persistence %q", c.Persistence)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session-ttl must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store-timeout must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send-buffer must be positive")
	}
	return nil
}

// ICEServers returns the list of ICE servers handed to call participants. It
// contains one entry with every configured STUN address and, when a TURN
// server is configured, a second entry with its credentials.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{}

	if len(c.ICEAddresses) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs: c.ICEAddresses,
		})
	}

	if c.TURNAddress != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{c.TURNAddress},
			Username:       c.TURNUsername,
			Credential:     c.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}

	return servers
}

// Logger returns a formatted logrus Entry, with prefix set to "icore".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "icore")
}

// SetLogger replaces the underlying logrus Logger.
func (c *Config) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultSQLitePath returns the default path for the SQLite database file.
func DefaultSQLitePath() string {
	return filepath.Join(DefaultDataDir(), DefaultSQLiteFile)
}

// DefaultDataDir return the default directory name for top-level Icore config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Icore")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Icore")
		} else {
			return filepath.Join(home, ".icore")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
