package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudrive/drive-stream-proxy/internal/config"
	"github.com/cloudrive/drive-stream-proxy/internal/monitoring"
	"github.com/cloudrive/drive-stream-proxy/internal/proxy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Build information injected at build time
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "drive-stream-proxy",
		Short: "Drive Stream Proxy streams cloud drive files to local players",
		Long: `Drive Stream Proxy is a loopback HTTP proxy that sits between local media
players (and WebDAV clients) and a cloud drive's CDN. It resolves file
identities into signed upstream URLs through the vendor API, caches them,
and streams the content back, transparently decrypting files that were
encrypted on upload.

Requests carry the file identity as query parameters; the proxy handles
range requests by seeking the stream cipher to the requested byte offset,
so players can scrub through encrypted media without ever seeing
ciphertext. Upstream redirects are rewritten to loop back through the
proxy for the same reason.

All configuration is done through YAML configuration files. Use --config to
specify a configuration file, or the proxy will look for configuration in
standard locations.`,
		Run: runProxy,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")
}

func initConfig() {
	config.InitConfig(cfgFile)
}

func runProxy(cmd *cobra.Command, args []string) {
	logrus.WithFields(logrus.Fields{
		"version":   version,
		"commit":    commit,
		"buildTime": buildTime,
	}).Info("Drive Stream Proxy build information")

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Security.Password == "" {
		logrus.Warn("No passphrase configured; password-encrypted files will not decrypt unless the request supplies one")
	}

	monitoring.SetServerInfo(version, commit, buildTime)

	proxyServer, err := proxy.NewServer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create proxy server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitoring.Enabled {
		monitoringServer := monitoring.NewServer(&monitoring.Config{
			BindAddress: cfg.Monitoring.BindAddress,
			MetricsPath: cfg.Monitoring.MetricsPath,
		})
		go func() {
			if err := monitoringServer.Start(ctx); err != nil {
				logrus.WithError(err).Error("Monitoring server failed")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := proxyServer.Start(ctx); err != nil {
			logrus.WithError(err).Fatal("Proxy server failed")
		}
	}()

	<-sigChan
	logrus.Info("Received shutdown signal, gracefully shutting down...")

	cancel()

	logrus.Info("Server stopped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
