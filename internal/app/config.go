package app

import (
	"time"

	"github.com/gong8/cramkit-sub000/internal/platform/envutil"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type Config struct {
	Port            string
	Environment     string
	Version         string
	ShutdownTimeout time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	log.Info("Loading environment variables...")
	return Config{
		Port:            envutil.String("PORT", "8080"),
		Environment:     envutil.String("APP_ENV", "development"),
		Version:         envutil.String("APP_VERSION", "dev"),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 20*time.Second),
	}
}
