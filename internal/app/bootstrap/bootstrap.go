package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/config"
	"github.com/ivankudzin/creditpay/internal/infra/logger"
)

const defaultConfigPath = "configs/config.yaml"

func ConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("APP_CONFIG")); v != "" {
		return v
	}
	return defaultConfigPath
}

// Load reads the config at path and builds the logger it describes.
func Load(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}

	return cfg, log.With(zap.String("env", cfg.Env)), nil
}
