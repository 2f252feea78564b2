package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signalflow/config"
	"signalflow/internal/auth"
	"signalflow/internal/engine"
	"signalflow/internal/exchange"
	"signalflow/internal/metadata"
	"signalflow/internal/notify"
	"signalflow/internal/replay"
	"signalflow/internal/tunnel"
	"signalflow/internal/validate"
	"signalflow/internal/webhook"
	"signalflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	mode := "LIVE"
	if cfg.Trading.TestMode {
		mode = "TEST"
	}
	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Signalflow.Name,
		"version":     cfg.Signalflow.Version,
		"mode":        mode,
		"environment": env,
	}).Info("starting signalflow")

	if config.IsProductionLike(env) {
		if cfg.Webhook.AuthDisabled {
			log.Error("webhook authentication is disabled in a production-like environment")
			os.Exit(1)
		}
		if !cfg.Trading.TestMode && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "") {
			log.Error("live trading requires exchange credentials")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.CloudWatch.Region, cfg.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	venue := exchange.NewBybit(cfg)

	var stream *exchange.TickerStream
	if cfg.Exchange.TickerStream.Enabled {
		stream = exchange.NewTickerStream(cfg)
		if err := stream.Start(ctx); err != nil {
			log.WithError(err).Warn("ticker stream failed to start, falling back to REST quotes")
		} else {
			venue.AttachTickerStream(stream)
		}
	}

	meta := metadata.NewCache(venue, cfg.Metadata.TTL, cfg.Metadata.HardTTL)
	window := replay.NewWindow(cfg.Replay.MaxEntries, cfg.Webhook.MaxSkew)
	validator := validate.New(cfg.Trading, window)
	authn := auth.New(cfg.Webhook.Secret, cfg.Webhook.MaxSkew, cfg.Webhook.AllowBodyKey, cfg.Webhook.AuthDisabled)

	var notifier notify.Notifier
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			log.WithError(err).Warn("telegram notifier unavailable, using log notifier")
			notifier = notify.NewLogNotifier()
		} else {
			notifier = tg
		}
	} else {
		notifier = notify.NewLogNotifier()
	}

	backend := engine.NewBackend(venue, cfg.Trading.TestMode)
	eng := engine.New(venue, backend, meta, engine.PolicyFromConfig(cfg.Retry))

	server, err := webhook.NewServer(cfg.Server, authn, validator, eng, notifier)
	if err != nil {
		log.WithError(err).Error("Failed to build webhook server")
		os.Exit(1)
	}

	var tn *tunnel.Tunnel
	if cfg.Tunnel.Enabled {
		localURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		tn = tunnel.New(cfg.Tunnel.Bin, localURL, func(url string) {
			notifier.SystemEvent(fmt.Sprintf("webhook endpoint live at %s/webhook (%s mode)", url, mode))
		})
		if err := tn.Start(ctx); err != nil {
			log.WithError(err).Warn("tunnel failed to start, endpoint stays local")
			tn = nil
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("webhook server failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("webhook server shutdown incomplete")
	}

	if tn != nil {
		tn.Stop()
	}
	if stream != nil {
		stream.Stop()
	}

	log.Info("signalflow stopped")
}
