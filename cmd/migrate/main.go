package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"gymcoach/internal/database"
	"gymcoach/internal/pkg/logger"
)

// migrate applies migrations/ to DATABASE_URL.
//
//	migrate [up|down|steps N|version]
func main() {
	if err := godotenv.Load(); err != nil {
		logger.Logger.Debug("no .env file found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Logger.Fatal("DATABASE_URL environment variable is required")
	}
	if !database.IsPostgres(dbURL) {
		logger.Logger.Fatal("migrations target PostgreSQL; SQLite schemas are created by AutoMigrate")
	}

	dir, err := findMigrations()
	if err != nil {
		logger.Logger.WithError(err).Fatal("migrations directory not found")
	}

	m, err := migrate.New("file://"+dir, dbURL)
	if err != nil {
		logger.Logger.WithError(err).Fatal("failed to initialise migrate")
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(os.Args) < 3 {
			logger.Logger.Fatal("usage: migrate steps N")
		}
		n, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Logger.WithError(convErr).Fatal("invalid step count")
		}
		err = m.Steps(n)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Logger.WithError(verr).Fatal("failed to read version")
		}
		logger.Logger.WithField("version", v).WithField("dirty", dirty).Info("current schema version")
		return
	default:
		logger.Logger.WithField("command", cmd).Fatal("unknown command, want up|down|steps|version")
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Logger.WithError(err).Fatalf("migration %s failed", cmd)
	}
	logger.Logger.Infof("migration %s successful", cmd)
}

// findMigrations looks for a migrations directory above the working
// directory and next to the executable.
func findMigrations() (string, error) {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		current := cwd
		for i := 0; i < 6; i++ {
			candidates = append(candidates, filepath.Join(current, "migrations"))
			parent := filepath.Dir(current)
			if parent == current {
				break
			}
			current = parent
		}
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "migrations"),
			filepath.Join(dir, "..", "migrations"),
		)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return filepath.Abs(c)
		}
	}
	return "", os.ErrNotExist
}
