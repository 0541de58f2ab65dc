package cmd

import (
	"net/http"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modelregistry/internal/api"
	"modelregistry/internal/catalog"
	"modelregistry/internal/credential"
	"modelregistry/internal/downloader"
	"modelregistry/internal/httpapi"
	"modelregistry/internal/pathpolicy"
	"modelregistry/internal/resolver"
	"modelregistry/internal/search"
	"modelregistry/internal/urladmit"
)

var listenAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP registry server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddrFlag, "listen", "", "HTTP bind address (overrides config)")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalConfig.BasePath == "" {
		return errBasePathRequired
	}

	policy := pathpolicy.New(globalConfig.BasePath)

	idx, err := search.Open(policy.SearchIndexPath())
	if err != nil {
		return err
	}
	defer idx.Close()

	cat, err := catalog.Open(policy.CatalogPath(), idx)
	if err != nil {
		return err
	}
	defer cat.Close()

	transport := http.DefaultTransport
	if globalConfig.LogApiRequests {
		logged, err := api.NewRedactingTransport(transport, filepath.Join(globalConfig.BasePath, "api.log"))
		if err != nil {
			log.WithError(err).Warn("failed to initialize redacting transport, API traffic will not be logged")
		} else {
			transport = logged
			defer logged.Close()
		}
	}
	httpClient := &http.Client{
		Transport: transport,
	}

	admitter := urladmit.New(globalConfig.AllowedHosts)
	broker := credential.New(time.Duration(globalConfig.CredentialTTLMinutes) * time.Minute)
	idleTimeout := time.Duration(globalConfig.NetworkTimeoutSec) * time.Second
	engine := downloader.New(policy, cat, admitter, broker, httpClient, idleTimeout)
	res := resolver.New(cat, policy)

	server := httpapi.New(cat, res, engine, broker)

	sweepTicker := time.NewTicker(time.Minute)
	defer sweepTicker.Stop()
	sweepDone := make(chan struct{})
	defer close(sweepDone)
	go func() {
		for {
			select {
			case <-sweepTicker.C:
				broker.Sweep()
			case <-sweepDone:
				return
			}
		}
	}()

	addr := globalConfig.ListenAddr
	if viperAddr := viper.GetString("listen"); viperAddr != "" {
		addr = viperAddr
	}

	log.Infof("modregd listening on %s (base path %s)", addr, globalConfig.BasePath)
	return http.ListenAndServe(addr, server.Routes())
}
