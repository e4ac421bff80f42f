// Package response records submitted answers and guarantees at most one
// response per task and session.
package response

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

// Status is the validation outcome of a response.
type Status string

const (
	// StatusPending means the response awaits evaluation.
	StatusPending Status = "pending_review"
	// StatusAccepted means the evaluator accepted the response.
	StatusAccepted Status = "accepted"
	// StatusRejected means the evaluator rejected the response.
	StatusRejected Status = "rejected"
)

// Statuses returns every status.
func Statuses() []Status {
	return []Status{StatusPending, StatusAccepted, StatusRejected}
}

// QualityLevel buckets a quality score.
type QualityLevel string

const (
	QualityHigh   QualityLevel = "high"
	QualityMedium QualityLevel = "medium"
	QualityLow    QualityLevel = "low"
	QualitySpam   QualityLevel = "spam"
)

// QualityLevels returns every level from best to worst.
func QualityLevels() []QualityLevel {
	return []QualityLevel{QualityHigh, QualityMedium, QualityLow, QualitySpam}
}

// LevelFor maps a score in [0,1] to its quality level.
func LevelFor(score float64) QualityLevel {
	switch {
	case score >= 0.8:
		return QualityHigh
	case score >= 0.5:
		return QualityMedium
	case score >= 0.2:
		return QualityLow
	default:
		return QualitySpam
	}
}

// Response is one submitted answer.
type Response struct {
	ID           string          `json:"response_id"`
	TaskID       string          `json:"task_id"`
	SessionID    string          `json:"session_id"`
	TrackID      string          `json:"track_id"`
	Payload      json.RawMessage `json:"response_data"`
	LatencyMS    int64           `json:"response_time_ms"`
	Metadata     map[string]any  `json:"client_metadata,omitempty"`
	Status       Status          `json:"status"`
	QualityScore *float64        `json:"quality_score,omitempty"`
	QualityLevel QualityLevel    `json:"quality_level,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	EvaluatedAt  *time.Time      `json:"evaluated_at,omitempty"`
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	cp := *r
	cp.Payload = slices.Clone(r.Payload)
	cp.Metadata = maps.Clone(r.Metadata)
	if r.QualityScore != nil {
		s := *r.QualityScore
		cp.QualityScore = &s
	}
	if r.EvaluatedAt != nil {
		at := *r.EvaluatedAt
		cp.EvaluatedAt = &at
	}
	return &cp
}

// Submission is a client's answer to an assigned task.
type Submission struct {
	TaskID    string          `json:"task_id"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"response_data"`
	LatencyMS int64           `json:"response_time_ms"`
	Metadata  map[string]any  `json:"client_metadata,omitempty"`
}

// Validate checks the caller-supplied fields.
func (s *Submission) Validate() error {
	if s.TaskID == "" {
		return herrors.NewValidationError("task id is required").WithField("task_id")
	}
	if s.SessionID == "" {
		return herrors.NewValidationError("session id is required").WithField("session_id")
	}
	if len(s.Payload) == 0 || !json.Valid(s.Payload) {
		return herrors.NewValidationError("must be valid JSON").WithField("response_data")
	}
	if s.LatencyMS < 0 {
		return herrors.NewValidationError("must be non-negative").WithField("response_time_ms").WithValue(s.LatencyMS)
	}
	return nil
}

// Evaluation is the evaluator's verdict on a response.
type Evaluation struct {
	Status      Status
	Score       float64
	Level       QualityLevel
	Reason      string
	EvaluatedAt time.Time
}

// BatchItemResult reports the outcome of one submission in a batch.
type BatchItemResult struct {
	TaskID     string `json:"task_id"`
	ResponseID string `json:"response_id,omitempty"`
	Err        error  `json:"-"`
}

// Counts are response totals by status and quality level.
type Counts struct {
	Total    int                  `json:"total"`
	ByStatus map[Status]int       `json:"by_status"`
	ByLevel  map[QualityLevel]int `json:"by_quality"`
}

func newCounts() Counts {
	return Counts{ByStatus: make(map[Status]int), ByLevel: make(map[QualityLevel]int)}
}

func notFound(id string) error {
	return herrors.NewNotFoundError("response", id)
}

func alreadySubmitted(taskID, sessionID string) error {
	return herrors.NewAssignmentError("response already submitted", herrors.ErrAlreadySubmitted).
		WithTaskID(taskID).
		WithSessionID(sessionID)
}
