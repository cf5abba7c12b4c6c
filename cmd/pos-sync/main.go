package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/app"
	"github.com/vladislavdragonenkov/posync/internal/version"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// readConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл
// из POS_CONFIG_FILE, затем переменные окружения POS_*.
func readConfig(lookup envLookup) (app.Config, []string, error) {
	cfg := app.DefaultConfig()
	if path, ok := lookup(app.EnvConfigFile); ok && path != "" {
		loaded, err := app.LoadConfig(path)
		if err != nil {
			return cfg, nil, err
		}
		cfg = loaded
	}
	cfg, warnings := app.ApplyEnv(cfg, lookup)
	return cfg, warnings, cfg.Validate()
}

func main() {
	cfg, warnings, err := readConfig(os.LookupEnv)
	setupLogger(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"device_id":     cfg.DeviceID,
		"local_db":      cfg.LocalDBPath,
		"remote_driver": cfg.RemoteDriver,
		"http_addr":     cfg.HTTPAddr,
		"grpc_addr":     cfg.GRPCAddr,
		"metrics_addr":  cfg.MetricsAddr,
		"build":         version.Info().String(),
	}).Info("запускаем pos-sync")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("pos-sync остановлен")
}
