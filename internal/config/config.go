// Package config loads service configuration from an optional YAML file,
// SECMA_-prefixed environment variables and a docker-style secrets
// directory, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSecretsDir is where container orchestrators mount file secrets.
const DefaultSecretsDir = "/run/secrets"

// Config carries everything the service needs to start.
type Config struct {
	HTTPAddr string

	PGDSN       string
	TablePrefix string
	DBSchema    string

	// TokenSecrets is the HS256 keyring, newest first. The first entry
	// signs; the rest only verify, which keeps tokens valid across a
	// rotation window.
	TokenSecrets []string
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration

	SuperUserLogin    string
	SuperUserPassword string

	BcryptCost int

	// LoginRate and LoginBurst bound password attempts per client IP.
	LoginRate  float64
	LoginBurst int

	SecretsDir string
}

// fileConfig mirrors Config with YAML-friendly types.
type fileConfig struct {
	HTTPAddr          string   `yaml:"http_addr"`
	PGDSN             string   `yaml:"pg_dsn"`
	TablePrefix       string   `yaml:"table_prefix"`
	DBSchema          string   `yaml:"db_schema"`
	TokenSecrets      []string `yaml:"token_secrets"`
	Issuer            string   `yaml:"issuer"`
	AccessTTL         string   `yaml:"access_ttl"`
	RefreshTTL        string   `yaml:"refresh_ttl"`
	SuperUserLogin    string   `yaml:"superuser_login"`
	SuperUserPassword string   `yaml:"superuser_password"`
	BcryptCost        int      `yaml:"bcrypt_cost"`
	LoginRate         float64  `yaml:"login_rate"`
	LoginBurst        int      `yaml:"login_burst"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		TablePrefix: "secma_",
		Issuer:      "secma",
		AccessTTL:   30 * time.Minute,
		RefreshTTL:  14 * 24 * time.Hour,
		LoginRate:   1,
		LoginBurst:  5,
		SecretsDir:  DefaultSecretsDir,
	}
}

// Load builds the effective configuration. path may be empty, in which case
// only defaults, environment and secrets apply. A missing file at an
// explicit path is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.applySecrets(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if fc.HTTPAddr != "" {
		c.HTTPAddr = fc.HTTPAddr
	}
	if fc.PGDSN != "" {
		c.PGDSN = fc.PGDSN
	}
	if fc.TablePrefix != "" {
		c.TablePrefix = fc.TablePrefix
	}
	if fc.DBSchema != "" {
		c.DBSchema = fc.DBSchema
	}
	if len(fc.TokenSecrets) > 0 {
		c.TokenSecrets = fc.TokenSecrets
	}
	if fc.Issuer != "" {
		c.Issuer = fc.Issuer
	}
	if fc.AccessTTL != "" {
		d, err := time.ParseDuration(fc.AccessTTL)
		if err != nil {
			return fmt.Errorf("parse access_ttl: %w", err)
		}
		c.AccessTTL = d
	}
	if fc.RefreshTTL != "" {
		d, err := time.ParseDuration(fc.RefreshTTL)
		if err != nil {
			return fmt.Errorf("parse refresh_ttl: %w", err)
		}
		c.RefreshTTL = d
	}
	if fc.SuperUserLogin != "" {
		c.SuperUserLogin = fc.SuperUserLogin
	}
	if fc.SuperUserPassword != "" {
		c.SuperUserPassword = fc.SuperUserPassword
	}
	if fc.BcryptCost != 0 {
		c.BcryptCost = fc.BcryptCost
	}
	if fc.LoginRate != 0 {
		c.LoginRate = fc.LoginRate
	}
	if fc.LoginBurst != 0 {
		c.LoginBurst = fc.LoginBurst
	}
	return nil
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("SECMA_HTTP_ADDR", &c.HTTPAddr)
	setString("SECMA_PG_DSN", &c.PGDSN)
	setString("SECMA_TABLE_PREFIX", &c.TablePrefix)
	setString("SECMA_DB_SCHEMA", &c.DBSchema)
	setString("SECMA_ISSUER", &c.Issuer)
	setString("SECMA_SUPERUSER_LOGIN", &c.SuperUserLogin)
	setString("SECMA_SUPERUSER_PASSWORD", &c.SuperUserPassword)
	setString("SECMA_SECRETS_DIR", &c.SecretsDir)

	if v := os.Getenv("SECMA_TOKEN_SECRETS"); v != "" {
		c.TokenSecrets = splitSecrets(v)
	}
	if v := os.Getenv("SECMA_ACCESS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.AccessTTL = d
		}
	}
	if v := os.Getenv("SECMA_REFRESH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RefreshTTL = d
		}
	}
	if v := os.Getenv("SECMA_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BcryptCost = n
		}
	}
	if v := os.Getenv("SECMA_LOGIN_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LoginRate = f
		}
	}
	if v := os.Getenv("SECMA_LOGIN_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LoginBurst = n
		}
	}
}

// applySecrets reads file secrets for the sensitive fields. Secret files win
// over both the config file and the environment.
func (c *Config) applySecrets() error {
	if c.SecretsDir == "" {
		return nil
	}
	read := func(name string) (string, error) {
		data, err := os.ReadFile(filepath.Join(c.SecretsDir, name))
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("read secret %s: %w", name, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if _, err := os.Stat(c.SecretsDir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if v, err := read("secma_pg_dsn"); err != nil {
		return err
	} else if v != "" {
		c.PGDSN = v
	}
	if v, err := read("secma_token_secrets"); err != nil {
		return err
	} else if v != "" {
		c.TokenSecrets = splitSecrets(v)
	}
	if v, err := read("secma_superuser_password"); err != nil {
		return err
	} else if v != "" {
		c.SuperUserPassword = v
	}
	return nil
}

// Validate rejects configurations the service cannot safely run with.
func (c Config) Validate() error {
	if len(c.TokenSecrets) == 0 {
		return errors.New("config: at least one token secret is required")
	}
	for _, secret := range c.TokenSecrets {
		if strings.TrimSpace(secret) == "" {
			return errors.New("config: token secrets must be non-empty")
		}
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.RefreshTTL < c.AccessTTL {
		return errors.New("config: refresh_ttl must not be shorter than access_ttl")
	}
	if c.SuperUserLogin != "" && c.SuperUserPassword == "" {
		return errors.New("config: superuser_login set without a password")
	}
	return nil
}

func splitSecrets(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
