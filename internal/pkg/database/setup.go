package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// SetupDatabase connects to MySQL, retrying while the server comes up. In dev
// the ledger tables are auto migrated; other environments run cmd/migrate.
func SetupDatabase(cfg config.Database, appEnv string) error {
	gormConfig := &gorm.Config{
		// Duplicate key violations surface as gorm.ErrDuplicatedKey
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
	if appEnv != "dev" {
		gormConfig.Logger = logger.Default.LogMode(logger.Warn)
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       cfg.DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), gormConfig)
		if err == nil {
			break
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	if appEnv == "dev" {
		if err := db.AutoMigrate(
			&models.SubscriptionAgreement{},
			&models.OutgoingTransaction{},
			&models.Response{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	DB = db
	log.Infof("[Database] Connected to %s:%s/%s", cfg.Host, cfg.Port, cfg.Name)
	return nil
}

func GetDB() *gorm.DB {
	return DB
}

// Ping checks the connection for the health endpoint.
func Ping(ctx context.Context) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
