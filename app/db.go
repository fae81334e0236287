package app

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lunen/jobwatch/config"
	"github.com/lunen/jobwatch/lib/models"
)

func NewDatabase(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		log.Sugar().Panic("failed to connect database", "err", err)
	}
	log.Info("Database started")

	log.Info("Starting migrations")
	db.AutoMigrate(
		&models.SavedSearch{},
		&models.SearchDigest{},
		&models.PartnerSearch{},
		&models.Partner{},
		&models.Contact{},
		&models.ContactRecord{},
		&models.Tag{},
	)
	return db
}
