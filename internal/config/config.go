package config

import (
	"fmt"
	"os"

	"modelregistry/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// DefaultAllowedHosts is the URL Admission allowlist used when a config
// does not override it.
var DefaultAllowedHosts = []string{"huggingface.co", "civitai.com", "127.0.0.1", "localhost"}

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml") and returns the populated Config. A missing or malformed
// file is non-fatal: the caller gets the zero-value-filled-with-defaults
// Config plus a warning, leaving individual commands to decide whether
// the fields they need are present.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}

	cfg := defaults()

	if _, err := os.Stat(configFilePath); err != nil {
		if os.IsNotExist(err) {
			log.Warnf("Config file %s not found, using defaults", configFilePath)
			return cfg, nil
		}
		return cfg, fmt.Errorf("stat config file %s: %w", configFilePath, err)
	}

	if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
		return defaults(), fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if cfg.BasePath == "" {
		log.Warn("BasePath is not set in config, commands requiring a base directory will fail")
	}
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = DefaultAllowedHosts
	}
	if cfg.NetworkTimeoutSec <= 0 {
		cfg.NetworkTimeoutSec = 60
	}
	if cfg.CredentialTTLMinutes <= 0 {
		cfg.CredentialTTLMinutes = 60
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8188"
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

func defaults() models.Config {
	return models.Config{
		AllowedHosts:         DefaultAllowedHosts,
		ListenAddr:           ":8188",
		NetworkTimeoutSec:    60,
		CredentialTTLMinutes: 60,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}
