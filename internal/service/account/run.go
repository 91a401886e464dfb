package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"landingzone/internal/models"
)

const defaultRunListLimit = 20

var ErrRunNotFound = errors.New("run not found")

// RunOutcome is how a run ended. Kind and Message are empty on success.
type RunOutcome struct {
	DatasetID string
	SpaceID   string
	Kind      string
	Message   string
}

// StartRun records a run as in progress.
func (s *Service) StartRun(ctx context.Context, userID int64, project string) (*models.ProvisionRun, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	run := &models.ProvisionRun{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProjectName: project,
		Status:      models.RunRunning,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provision_runs (id, user_id, project_name, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.ProjectName, string(run.Status), run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// FinishRun stores the outcome of a run.
func (s *Service) FinishRun(ctx context.Context, runID string, out RunOutcome) error {
	status := models.RunSucceeded
	if out.Kind != "" {
		status = models.RunFailed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE provision_runs SET status = ?, dataset_id = ?, space_id = ?, error_kind = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(status), out.DatasetID, out.SpaceID, out.Kind, out.Message, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRuns returns the user's most recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, userID int64, limit int) ([]models.ProvisionRun, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, project_name, status, dataset_id, space_id, error_kind, error_message, created_at, finished_at
		FROM provision_runs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ProvisionRun
	for rows.Next() {
		var (
			run      models.ProvisionRun
			status   string
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.UserID, &run.ProjectName, &status, &run.DatasetID, &run.SpaceID,
			&run.ErrorKind, &run.ErrorMessage, &run.CreatedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = models.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
