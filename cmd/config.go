// Package cmd provides the small set of utilities shared by this service's
// single entrypoint: configuration loading, logger/signal bootstrap, and the
// JSON-friendly wrapper types config values are expressed in.
package cmd

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores every configuration parameter the service needs. Unlike the
// teacher's multi-service Config, there is exactly one service here, so this
// stays flat.
//
// Note: NO DEFAULTS are provided except where called out below.
type Config struct {
	// ListenAddress is the address the HTTP server binds (e.g. ":8080").
	ListenAddress string

	// PublicURL is the base URL used when constructing the asset URLs in
	// synthesized manifests (spec §6).
	PublicURL string

	// Environment is informational only; it is echoed from the health
	// endpoint and logged once at startup.
	Environment string

	// UploadSecretKey, if non-empty, is compared against the upload-key
	// header on POST /upload. Empty disables the check (spec §6, §9).
	UploadSecretKey ConfigSecret

	// ShutdownTimeout bounds how long the server waits for in-flight
	// requests to finish during a graceful shutdown.
	ShutdownTimeout ConfigDuration

	Debug bool

	Meta  MetaConfig
	Blob  BlobConfig
	Cache CacheConfig
}

// MetaConfig configures the Meta store (app and upload records).
type MetaConfig struct {
	Driver string // e.g. "mysql"
	DSN    ConfigSecret
}

// BlobConfig configures the Blob store (archives, extracted assets).
type BlobConfig struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty to target an S3-compatible store instead of AWS
}

// CacheConfig configures the Cache store (resolved-manifest cache).
type CacheConfig struct {
	Address  string
	Password ConfigSecret
	DB       int
}

// LoadConfig binds environment variables into a Config via viper's
// AutomaticEnv, matching spec.md §6 (PUBLIC_URL, ENVIRONMENT,
// UPLOAD_SECRET_KEY) plus the Meta/Blob/Cache connection settings this
// expanded service also needs.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_address", ":8080")
	v.SetDefault("environment", "development")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("meta.driver", "mysql")
	v.SetDefault("cache.db", 0)

	uploadSecretKey, err := resolveSecret(v.GetString("upload_secret_key"))
	if err != nil {
		return Config{}, err
	}
	metaDSN, err := resolveSecret(v.GetString("meta_dsn"))
	if err != nil {
		return Config{}, err
	}
	cachePassword, err := resolveSecret(v.GetString("cache_password"))
	if err != nil {
		return Config{}, err
	}

	c := Config{
		ListenAddress:   v.GetString("listen_address"),
		PublicURL:       v.GetString("public_url"),
		Environment:     v.GetString("environment"),
		UploadSecretKey: ConfigSecret(uploadSecretKey),
		Debug:           v.GetBool("debug"),
		Meta: MetaConfig{
			Driver: v.GetString("meta.driver"),
			DSN:    ConfigSecret(metaDSN),
		},
		Blob: BlobConfig{
			Bucket:   v.GetString("blob_bucket"),
			Region:   v.GetString("blob_region"),
			Endpoint: v.GetString("blob_endpoint"),
		},
		Cache: CacheConfig{
			Address:  v.GetString("cache_address"),
			Password: ConfigSecret(cachePassword),
			DB:       v.GetInt("cache.db"),
		},
	}

	shutdownTimeout, err := time.ParseDuration(v.GetString("shutdown_timeout"))
	if err != nil {
		return Config{}, err
	}
	c.ShutdownTimeout = ConfigDuration{shutdownTimeout}

	if c.PublicURL == "" {
		return Config{}, errors.New("cmd: PUBLIC_URL is required")
	}
	if c.Meta.DSN == "" {
		return Config{}, errors.New("cmd: META_DSN is required")
	}
	if c.Blob.Bucket == "" {
		return Config{}, errors.New("cmd: BLOB_BUCKET is required")
	}
	if c.Cache.Address == "" {
		return Config{}, errors.New("cmd: CACHE_ADDRESS is required")
	}

	return c, nil
}

// ConfigDuration is just an alias for time.Duration that allows
// serialization to JSON, carried from the teacher's cmd.ConfigDuration.
type ConfigDuration struct {
	time.Duration
}

// ErrDurationMustBeString is returned when a non-string value is presented
// to be deserialized as a ConfigDuration.
var ErrDurationMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigDuration")

func (d *ConfigDuration) UnmarshalJSON(b []byte) error {
	s := ""
	err := json.Unmarshal(b, &s)
	if err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return ErrDurationMustBeString
		}
		return err
	}
	dd, err := time.ParseDuration(s)
	d.Duration = dd
	return err
}

func (d ConfigDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Duration.String() + `"`), nil
}

// ConfigSecret represents a string-valued config field. It may be given
// directly or, if it starts with "secret:", its contents are read from the
// filename that comes after "secret:", trailing newlines removed — carried
// from the teacher's cmd.ConfigSecret, useful for DSNs and upload keys
// mounted into a container as files.
type ConfigSecret string

const secretPrefix = "secret:"

func (d *ConfigSecret) UnmarshalJSON(b []byte) error {
	s := ""
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	resolved, err := resolveSecret(s)
	if err != nil {
		return err
	}
	*d = ConfigSecret(resolved)
	return nil
}

func resolveSecret(s string) (string, error) {
	if !strings.HasPrefix(s, secretPrefix) {
		return s, nil
	}
	contents, err := ioutil.ReadFile(s[len(secretPrefix):])
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(contents), "\n"), nil
}
