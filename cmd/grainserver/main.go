// Grain Size Analysis Service
// Segments grains in uploaded micrographs and reports their geometry.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"grain-size-analysis/internal/config"
	"grain-size-analysis/internal/core"
	imageio "grain-size-analysis/internal/io"
	"grain-size-analysis/internal/server"
)

const AppVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	debugMode := flag.Bool("debug", false, "Enable debug mode with verbose logging")
	writeConfig := flag.String("write-config", "", "Write the effective configuration to this path and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *debugMode {
		cfg.Logging.Debug = true
	}

	if *writeConfig != "" {
		if err := config.SaveConfig(cfg, *writeConfig); err != nil {
			logrus.WithError(err).Fatal("Failed to write configuration")
		}
		logrus.WithField("path", *writeConfig).Info("Configuration written")
		return
	}

	logger := initLogger(cfg.Logging.Debug)
	logger.WithFields(logrus.Fields{
		"version":        AppVersion,
		"config":         *configPath,
		"debug_mode":     cfg.Logging.Debug,
		"max_concurrent": cfg.Server.MaxConcurrent,
	}).Info("Starting Grain Size Analysis service")

	if cfg.Logging.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	pipeline := core.NewPipeline(imageio.NewImageLoader(logger), core.SettingsFromConfig(cfg), logger)
	srv := server.New(cfg, pipeline, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.WithError(err).Fatal("HTTP server failed")
	}

	logger.Info("Service shut down gracefully")
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}
