package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`   // 0.0.0.0
		HTTPPort string `mapstructure:"http_port"` // 8080
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`   // file path prefix, empty = stdout only
	} `mapstructure:"logs"`

	Database struct {
		Driver string `mapstructure:"driver"` // "postgres" | "mysql"
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Policy struct {
		ScanInterval           time.Duration `mapstructure:"scan_interval"`           // between compliance scans
		EvalConcurrency        int           `mapstructure:"eval_concurrency"`        // concurrent evaluation jobs
		RemediationConcurrency int           `mapstructure:"remediation_concurrency"` // concurrent remediation jobs
	} `mapstructure:"policy"`
}

// Load reads config from env and an optional YAML file with defaults.
func Load() (*Config, error) {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.address", "0.0.0.0")
	viper.SetDefault("server.http_port", "8080")

	viper.SetDefault("logs.level", "info")
	viper.SetDefault("logs.format", "text")
	viper.SetDefault("logs.file", "")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.dsn", "")

	viper.SetDefault("policy.scan_interval", "15m")
	viper.SetDefault("policy.eval_concurrency", 4)
	viper.SetDefault("policy.remediation_concurrency", 5)

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			viper.AddConfigPath(filepath.Join(xdg, "breeze"))
		}
		viper.AddConfigPath("/etc/breeze")
	}

	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if strings.TrimSpace(c.Server.HTTPPort) == "" {
		return errors.New("server.http_port must not be empty")
	}
	if strings.TrimSpace(c.Database.Driver) == "" {
		return errors.New("database.driver must be set")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn must be set")
	}
	if c.Policy.ScanInterval <= 0 {
		return errors.New("policy.scan_interval must be positive")
	}
	if c.Policy.EvalConcurrency < 1 {
		return errors.New("policy.eval_concurrency must be at least 1")
	}
	if c.Policy.RemediationConcurrency < 1 {
		return errors.New("policy.remediation_concurrency must be at least 1")
	}
	return nil
}
