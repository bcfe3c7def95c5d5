// Package config loads the attachvault runtime configuration. Values are
// layered defaults -> environment (ATTACHVAULT_*) and validated before use.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names before they are
// lowercased into config keys, so ATTACHVAULT_DATA_DIR sets data_dir.
const EnvPrefix = "ATTACHVAULT_"

// Remote kinds.
const (
	RemoteNone = "none"
	RemoteHTTP = "http"
	RemoteS3   = "s3"
	RemoteFile = "file"
)

type Config struct {
	DataDir   string `koanf:"data_dir" validate:"required,safe_path"`
	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json text"`

	CacheTTL            time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	MaxAge              time.Duration `koanf:"max_age" validate:"gt=0"`
	JanitorInterval     time.Duration `koanf:"janitor_interval" validate:"gt=0"`
	MasterKDFIterations int           `koanf:"master_kdf_iterations" validate:"gte=1000"`
	RecordKDFIterations int           `koanf:"record_kdf_iterations" validate:"gte=1"`
	Compress            bool          `koanf:"compress"`
	MaxAttachmentBytes  ByteSize      `koanf:"max_attachment_bytes" validate:"gte=0"`

	Remote        string        `koanf:"remote" validate:"oneof=none http s3 file"`
	RemoteBaseURL string        `koanf:"remote_base_url" validate:"omitempty,url"`
	RemoteToken   string        `koanf:"remote_token"`
	RemoteTimeout time.Duration `koanf:"remote_timeout" validate:"gt=0"`
	RemoteDir     string        `koanf:"remote_dir" validate:"omitempty,safe_path"`
	S3Bucket      string        `koanf:"s3_bucket"`
	S3Region      string        `koanf:"s3_region"`
	S3Endpoint    string        `koanf:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKey   string        `koanf:"s3_access_key"`
	S3SecretKey   string        `koanf:"s3_secret_key"`
	S3Prefix      string        `koanf:"s3_prefix"`

	MetricsAddr          string        `koanf:"metrics_addr" validate:"ip_port"`
	MetricsToken         string        `koanf:"metrics_token"`
	MetricsFlushInterval time.Duration `koanf:"metrics_flush_interval" validate:"gt=0"`
}

var DefaultAppConfig = Config{
	DataDir:              "data",
	LogLevel:             "info",
	LogFormat:            "json",
	CacheTTL:             30 * time.Minute,
	MaxAge:               30 * 24 * time.Hour,
	JanitorInterval:      time.Hour,
	MasterKDFIterations:  100_000,
	RecordKDFIterations:  10_000,
	Compress:             false,
	MaxAttachmentBytes:   100 << 20,
	Remote:               RemoteNone,
	RemoteTimeout:        60 * time.Second,
	S3Region:             "us-east-1",
	MetricsAddr:          "127.0.0.1:8787",
	MetricsFlushInterval: 5 * time.Second,
}

// SQLiteDSN returns the DSN of the vault database inside DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, "attachvault.db") +
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate"
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil)
}

var registerValidators = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("safe_path", validSafePath)
}

// Load builds the configuration from defaults and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToByteSize(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.crossCheck(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) crossCheck() error {
	if c.RecordKDFIterations >= c.MasterKDFIterations {
		return errors.New("record_kdf_iterations must be less than master_kdf_iterations")
	}
	switch c.Remote {
	case RemoteHTTP:
		if c.RemoteBaseURL == "" {
			return errors.New("remote_base_url is required when remote is http")
		}
	case RemoteS3:
		if c.S3Bucket == "" {
			return errors.New("s3_bucket is required when remote is s3")
		}
		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return errors.New("s3_access_key and s3_secret_key must be set together")
		}
	case RemoteFile:
		if c.RemoteDir == "" {
			return errors.New("remote_dir is required when remote is file")
		}
	}
	return nil
}

// validIPPort accepts host:port where host is empty or a literal IP and port
// is in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	host, port, err := net.SplitHostPort(s)
	if err != nil || port == "" {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}

// validSafePath rejects empty paths, the filesystem root, the current
// directory and anything containing a ".." element.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}
