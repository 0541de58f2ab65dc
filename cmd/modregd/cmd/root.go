package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modelregistry/internal/config"
	"modelregistry/internal/models"
)

// errBasePathRequired is returned by any subcommand that needs a
// storage root but was run without one configured.
var errBasePathRequired = errors.New("base path is not configured; set BasePath in config.toml or pass --base-path")

// cfgFile holds the path to the config file specified by the user.
var cfgFile string

// basePathFlag overrides Config.BasePath when set.
var basePathFlag string

// globalConfig holds the loaded configuration, populated by
// loadGlobalConfig before any subcommand runs.
var globalConfig models.Config

var rootCmd = &cobra.Command{
	Use:   "modregd",
	Short: "Content-addressed model registry for generative workflow assets",
	Long: `modregd serves and maintains a content-addressed store of model
weight files, deduplicating identical content across workflows while
keeping each dependency's requested filename intact.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and runs it. Called
// once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&basePathFlag, "base-path", "", "Root directory for model storage (overrides config)")
	viper.BindPFlag("base-path", rootCmd.PersistentFlags().Lookup("base-path"))
	viper.SetEnvPrefix("modregd")
	viper.AutomaticEnv()
}

func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		log.WithError(err).Warnf("failed to load configuration from %s", cfgFile)
	}

	if basePath := viper.GetString("base-path"); basePath != "" {
		globalConfig.BasePath = basePath
	}

	switch globalConfig.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if level, parseErr := log.ParseLevel(globalConfig.LogLevel); parseErr == nil {
		log.SetLevel(level)
	}

	return nil
}
