package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ProvisionRun records one submission of the landing zone form.
type ProvisionRun struct {
	ID           string     `json:"id"`
	UserID       int64      `json:"user_id"`
	ProjectName  string     `json:"project_name"`
	Status       RunStatus  `json:"status"`
	DatasetID    string     `json:"dataset_id,omitempty"`
	SpaceID      string     `json:"space_id,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
