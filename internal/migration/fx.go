package migration

import (
	"github.com/smallbiznis/classpay/internal/config"
	"github.com/smallbiznis/classpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if !cfg.MigrateOnStart {
			log.Info("migrations skipped", zap.String("reason", "disabled"))
			return nil
		}
		if cfg.DBType != db.DialectPostgres {
			log.Info("migrations skipped", zap.String("reason", "unsupported dialect"), zap.String("dialect", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		res, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		if res.Applied() {
			log.Info("migrations applied", zap.Uint("from", res.From), zap.Uint("to", res.To))
		} else {
			log.Info("schema up to date", zap.Uint("version", res.To))
		}
		return nil
	}),
)
