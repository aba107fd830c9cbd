package migration

import (
	"strings"

	"github.com/smallbiznis/admitpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
			log.Warn("skipping embedded migrations for non-postgres database", zap.String("type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		result, err := RunMigrations(sqlDB)
		if err != nil {
			log.Error("embedded migrations failed", zap.Uint("version", result.Version), zap.Error(err))
			return err
		}
		log.Info("payment schema ready", zap.Uint("version", result.Version), zap.Bool("applied", result.Applied))
		return nil
	}),
)
