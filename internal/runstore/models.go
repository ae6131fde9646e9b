package runstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// Run statuses.
const (
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// RunRecord is one persisted pipeline run. Written once the workflow
// finishes; idempotent by workflow id.
type RunRecord struct {
	ID          uuid.UUID  `db:"id"`
	WorkflowID  string     `db:"workflow_id"`
	Question    string     `db:"question"`
	BackendID   string     `db:"backend_id"`
	Status      string     `db:"status"`
	FinalAnswer *string    `db:"final_answer"`
	Warnings    JSONB      `db:"warnings"`
	Metrics     JSONB      `db:"metrics"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// RedFlagRecord is one persisted red flag from a review pass.
type RedFlagRecord struct {
	ID          uuid.UUID `db:"id"`
	WorkflowID  string    `db:"workflow_id"`
	FlagID      string    `db:"flag_id"`
	Severity    string    `db:"severity"`
	Category    string    `db:"category"`
	Issue       string    `db:"issue"`
	Location    string    `db:"location"`
	RequiredFix string    `db:"required_fix"`
	Resolved    bool      `db:"resolved"`
	CreatedAt   time.Time `db:"created_at"`
}
