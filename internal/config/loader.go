package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches standard locations for
// pace-gate.yaml/.yml. The search requires an explicit YAML extension so the
// binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("pace-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: PACE_GATE_SECURITY_ALLOWED_ORIGINS
	viper.SetEnvPrefix("PACE_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a pace-gate config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".pace-gate"),
		"/etc/pace-gate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "pace-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// overrides.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("security.allowed_origins")
	_ = viper.BindEnv("security.cookie_domain")
	_ = viper.BindEnv("security.production")
	// Note: security.trusted_csrf_prefixes is an array; use the config file.

	_ = viper.BindEnv("directory.path")

	_ = viper.BindEnv("rate_limit.window")
	_ = viper.BindEnv("rate_limit.max_ip")
	_ = viper.BindEnv("rate_limit.max_account")

	_ = viper.BindEnv("redis.addr")
	_ = viper.BindEnv("redis.password")
	_ = viper.BindEnv("redis.db")

	_ = viper.BindEnv("audit.buffer_size")
}

// LoadConfig reads the configuration file, applies environment overrides and
// defaults, and validates. A missing file is fine (pure env configuration);
// a missing origin allow-list is not — validation fails and startup stops.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env vars deliver the origin list as one comma-separated value.
	if len(cfg.Security.AllowedOrigins) == 1 && strings.Contains(cfg.Security.AllowedOrigins[0], ",") {
		cfg.Security.AllowedOrigins = splitAndTrim(cfg.Security.AllowedOrigins[0])
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or ""
// when running on environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
