package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/database"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/ndewijer/portfolio-snapshot/internal/version"
)

// SystemService handles system-related operations
type SystemService struct {
	db   *sql.DB
	runs *repository.RunRepository
}

// NewSystemService creates a new SystemService
func NewSystemService(db *sql.DB, runs *repository.RunRepository) *SystemService {
	return &SystemService{
		db:   db,
		runs: runs,
	}
}

// CheckHealth pings the store and loads the most recent run.
func (s *SystemService) CheckHealth(ctx context.Context) (model.HealthReport, error) {
	if err := database.HealthCheck(ctx, s.db); err != nil {
		return model.HealthReport{}, err
	}

	runs, err := s.runs.ListRuns(ctx, 1)
	if err != nil {
		return model.HealthReport{}, err
	}

	var report model.HealthReport
	if len(runs) > 0 {
		report.LastRun = &runs[0]
	}
	return report, nil
}

// CheckVersion reports the application version and whether the database
// schema is behind the migrations embedded in this binary.
func (s *SystemService) CheckVersion(ctx context.Context) (model.VersionInfo, error) {
	current, latest, err := database.SchemaStatus(ctx, s.db)
	if err != nil {
		return model.VersionInfo{}, fmt.Errorf("%w: %w", apperrors.ErrFailedToGetVersionInfo, err)
	}

	info := model.VersionInfo{
		AppVersion: version.Version,
		DbVersion:  strconv.FormatInt(current, 10),
	}
	if current < latest {
		msg := fmt.Sprintf("database schema %d is behind %d, run migrations", current, latest)
		info.MigrationNeeded = true
		info.MigrationMessage = &msg
	}
	return info, nil
}
