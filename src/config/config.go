package config

import (
	"crypto/ed25519"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"

	lfshook "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/hearthnet/hearth/src/common"
	"github.com/hearthnet/hearth/src/federation"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the server's
	// signing key.
	DefaultKeyfile = "signing_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database.
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the default name of the file receiving a copy of the
	// logs when file logging is enabled.
	DefaultLogFile = "hearth.log"
)

// Default configuration values.
const (
	DefaultLogLevel    = "debug"
	DefaultServiceAddr = "127.0.0.1:8090"
	DefaultCacheSize   = 10000
	DefaultStore       = false
	DefaultNoFetch     = false
	DefaultRoomVersion = "4"
)

// Config contains all the configuration properties of a Hearth node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogToFile mirrors the logs into a file under DataDir.
	LogToFile bool `mapstructure:"log-file"`

	// ServerName is the federation name this node signs events under. It
	// must match the domain part of local user ids.
	ServerName string `mapstructure:"server-name"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP API service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// Bootstrap loads the node from an existing database file. Forces
	// Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// NoFetch disables pulling missing ancestors over federation. Events
	// with unresolved dependencies stay parked until the dependencies
	// arrive on their own.
	NoFetch bool `mapstructure:"no-fetch"`

	// RoomVersion is the default version for locally created rooms.
	RoomVersion string `mapstructure:"room-version"`

	// Moniker defines the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	// Key is the server's signing key.
	Key ed25519.PrivateKey

	// Client is the federation client used to fetch missing events and
	// keys. Embedding applications provide their own transport here; when
	// nil the node runs isolated.
	Client federation.Client

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:     DefaultDataDir(),
		LogLevel:    DefaultLogLevel,
		ServiceAddr: DefaultServiceAddr,
		CacheSize:   DefaultCacheSize,
		Store:       DefaultStore,
		NoFetch:     DefaultNoFetch,
		DatabaseDir: DefaultDatabaseDir(),
		RoomVersion: DefaultRoomVersion,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	config.logger.Level = level
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the signing key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// LogFile returns the full path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, DefaultLogFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "hearth".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogToFile {
			c.logger.Hooks.Add(lfshook.NewHook(
				c.LogFile(),
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "hearth")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level Hearth
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Hearth")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Hearth")
		} else {
			return filepath.Join(home, ".hearth")
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
