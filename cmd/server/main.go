package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/clock"
	"github.com/biztrack/notifier/internal/dispatch"
	"github.com/biztrack/notifier/internal/engine"
	"github.com/biztrack/notifier/internal/model"
	"github.com/biztrack/notifier/internal/monitor"
	"github.com/biztrack/notifier/internal/source"
	"github.com/biztrack/notifier/internal/store"
	"github.com/biztrack/notifier/internal/transport"
)

// cronLogger adapts zap.Logger to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Create notification history storage
	history, err := store.NewSQLiteHistory(logger, viper.GetString("storage.db_path"))
	if err != nil {
		logger.Fatal("Failed to create notification history storage", zap.Error(err))
	}
	defer history.Close()

	// Wire channel senders
	senders := map[model.ChannelType]dispatch.Sender{
		model.ChannelInApp:   transport.NewInAppSender(logger, js),
		model.ChannelWebhook: transport.NewWebhookSender(logger),
		model.ChannelSlack:   transport.NewSlackSender(logger),
		model.ChannelTeams:   transport.NewSlackSender(logger),
	}
	if viper.GetString("email.host") != "" {
		senders[model.ChannelEmail] = transport.NewEmailSender(logger, transport.EmailConfig{
			Host:     viper.GetString("email.host"),
			Port:     viper.GetInt("email.port"),
			Username: viper.GetString("email.username"),
			Password: viper.GetString("email.password"),
			From:     viper.GetString("email.from"),
		})
	}

	// Assemble the engine
	entitySource := source.NewNATSSource(logger, nc)
	eng := engine.New(logger, js, clock.Real(), entitySource, history, senders, dispatch.Config{
		MaxRetries:  viper.GetInt("dispatch.max_retries"),
		SendTimeout: viper.GetDuration("dispatch.send_timeout"),
	})

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to start notification engine", zap.Error(err))
	}
	defer eng.Stop()

	// Start health monitor
	healthMonitor := monitor.NewHealthMonitor(logger, js, eng,
		viper.GetDuration("monitor.interval"))
	if err := healthMonitor.Start(ctx); err != nil {
		logger.Fatal("Failed to start health monitor", zap.Error(err))
	}
	defer healthMonitor.Stop()

	// Drive the deadline scan on a cron schedule
	scheduler := cron.New(cron.WithChain(cron.Recover(&cronLogger{logger: logger.Named("cron")})))
	scanSpec := viper.GetString("scan.schedule")
	if _, err := scheduler.AddFunc(scanSpec, func() {
		scanCtx, scanCancel := context.WithTimeout(ctx, time.Minute)
		defer scanCancel()

		alerts, err := eng.CheckDeadlines(scanCtx)
		if err != nil {
			logger.Error("Deadline scan failed", zap.Error(err))
			return
		}
		logger.Info("Deadline scan finished", zap.Int("alerts", len(alerts)))
	}); err != nil {
		logger.Fatal("Failed to schedule deadline scan",
			zap.String("schedule", scanSpec),
			zap.Error(err))
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	// Cleanup old history periodically
	go func() {
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()

		retention := viper.GetInt("storage.retention_days")
		if retention <= 0 {
			retention = 30
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				cutoff := time.Now().AddDate(0, 0, -retention)
				if err := history.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to cleanup old notification history", zap.Error(err))
				}
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("Server shutting down gracefully")
}
