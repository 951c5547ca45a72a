package mysql

import (
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open creates a GORM *DB backed by MySQL with a pooled connection and
// verifies it with a ping.
func Open(dsn string, maxOpen, maxIdle int, maxLife time.Duration) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("mysql: empty dsn")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLife)
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}
