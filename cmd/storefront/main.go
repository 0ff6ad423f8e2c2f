package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

// loadDotEnv подхватывает переменные из файлов .env; отсутствие файла не ошибка.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parsed)
	return nil
}

func main() {
	if err := loadDotEnv(); err != nil {
		log.WithError(err).Fatal("failed to load .env")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"postgres":     cfg.PostgresDSN != "",
		"redis":        cfg.RedisAddr != "",
		"kafka":        len(cfg.Brokers()) > 0,
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
