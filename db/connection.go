package db

import (
	"database/sql"
	stdlog "log"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DatabaseConnection struct {
	db    *gorm.DB
	sqlDb *sql.DB
}

var (
	connection  *DatabaseConnection
	connectOnce sync.Once
)

// Connection returns the process-wide database connection, initializing it on
// first use.
func Connection() *DatabaseConnection {
	connectOnce.Do(func() {
		connection = InitDb()
	})
	return connection
}

func InitDb() *DatabaseConnection {
	viper.AutomaticEnv()

	dbType := viper.GetString("DATABASE_TYPE")
	if dbType == "" {
		dbType = "sqlite"
	}

	var dialector gorm.Dialector
	switch dbType {
	case "sqlite":
		dialector = sqlite.Open("securescan.db")
	case "postgres":
		dsn := viper.GetString("POSTGRES_DSN")
		if dsn == "" {
			log.Error().Msg("POSTGRES_DSN environment variable not set")
			os.Exit(1)
		}
		dialector = postgres.Open(dsn)
	default:
		log.Error().Str("type", dbType).Msg("Unknown database type")
		os.Exit(1)
	}

	newLogger := logger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
	database, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		os.Exit(1)
	}
	if err := database.AutoMigrate(&Scan{}); err != nil {
		log.Error().Err(err).Msg("Failed to migrate database")
		os.Exit(1)
	}
	sqlDB, err := database.DB()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get underlying database connection")
		os.Exit(1)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(80)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &DatabaseConnection{db: database, sqlDb: sqlDB}
}

// DB exposes the underlying gorm handle.
func (d *DatabaseConnection) DB() *gorm.DB {
	return d.db
}
