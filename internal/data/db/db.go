package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/gong8/cramkit-sub000/internal/platform/envutil"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type Service struct {
	db      *gorm.DB
	dialect string
	log     *logger.Logger
}

// NewFromEnv opens postgres when DATABASE_URL or POSTGRES_HOST is set,
// and falls back to a local sqlite file otherwise so the service runs
// without any infrastructure in development.
func NewFromEnv(logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "DBService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	if dsn := postgresDSN(); dsn != "" {
		gdb, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		return &Service{db: gdb, dialect: "postgres", log: serviceLog}, nil
	}

	path := envutil.String("CRAMKIT_SQLITE_PATH", "cramkit.db")
	gdb, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
	}
	serviceLog.Warn("no postgres configured, using local sqlite", "path", path)
	return &Service{db: gdb, dialect: "sqlite", log: serviceLog}, nil
}

func postgresDSN() string {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		envutil.String("POSTGRES_USER", "postgres"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		envutil.String("POSTGRES_PORT", "5432"),
		envutil.String("POSTGRES_NAME", "cramkit"),
		envutil.String("POSTGRES_SSLMODE", "disable"),
	)
}

func (s *Service) DB() *gorm.DB    { return s.db }
func (s *Service) Dialect() string { return s.dialect }

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
