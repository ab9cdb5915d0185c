// Package config loads knoldeck settings from, in increasing precedence,
// built-in defaults, an optional YAML file, KNOLDECK_* environment variables
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// EnvPrefix prefixes every environment variable read by Load. The first
// underscore after the prefix separates the section from the key, so
// KNOLDECK_CLIENT_SERVER_URL sets client.server_url.
const EnvPrefix = "KNOLDECK_"

type Config struct {
	Server  Server  `koanf:"server"`
	Storage Storage `koanf:"storage"`
	Client  Client  `koanf:"client"`
	Sync    Sync    `koanf:"sync"`
	Import  Import  `koanf:"import"`
	Log     Log     `koanf:"log"`
}

type Server struct {
	Addr string `koanf:"addr" validate:"required"`
}

type Storage struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

type Client struct {
	ServerURL string        `koanf:"server_url" validate:"required,url"`
	User      string        `koanf:"user"`
	Timeout   time.Duration `koanf:"timeout" validate:"gte=0"`
}

type Sync struct {
	// Delays are the waits between the four delivery attempts of one review.
	Delays []time.Duration `koanf:"delays" validate:"len=3,dive,gte=0"`
}

type Import struct {
	// ReposDir is where git sources are cloned.
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server:  Server{Addr: ":8080"},
		Storage: Storage{Driver: "sqlite", DSN: "knoldeck.db"},
		Client:  Client{ServerURL: "http://localhost:8080", Timeout: 10 * time.Second},
		Sync:    Sync{Delays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}},
		Import:  Import{ReposDir: "repos"},
		Log:     Log{Level: "info", Format: "text"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration. path may be empty to skip the file layer;
// a named file that does not exist is an error. flags may be nil; only flags
// whose names appear in FlagKeys are read.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return Config{}, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("%w: config file: %w", domain.ErrInvalidInput, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("%w: config file %s: %w", domain.ErrInvalidInput, path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		cb := func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, cb), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: config: %w", domain.ErrInvalidInput, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: config: %w", domain.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: config: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
}

func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"server.addr":       d.Server.Addr,
		"storage.driver":    d.Storage.Driver,
		"storage.dsn":       d.Storage.DSN,
		"client.server_url": d.Client.ServerURL,
		"client.user":       d.Client.User,
		"client.timeout":    d.Client.Timeout,
		"sync.delays":       d.Sync.Delays,
		"import.repos_dir":  d.Import.ReposDir,
		"log.level":         d.Log.Level,
		"log.format":        d.Log.Format,
	}
}

// envValue maps KNOLDECK_SECTION_KEY to section.key. List values are comma
// separated.
func envValue(name, value string) (string, interface{}) {
	key := strings.Replace(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_", ".", 1)
	if _, ok := listKeys[key]; ok {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

var listKeys = map[string]struct{}{
	"sync.delays": {},
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"addr":       "server.addr",
	"db-driver":  "storage.driver",
	"db":         "storage.dsn",
	"server":     "client.server_url",
	"user":       "client.user",
	"timeout":    "client.timeout",
	"repos-dir":  "import.repos_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

