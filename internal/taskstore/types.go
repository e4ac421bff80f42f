package taskstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

// State represents where a task is in its lifecycle.
type State string

const (
	// StatePending indicates the task is waiting to be assigned.
	StatePending State = "pending"

	// StateAssigned indicates the task is held by exactly one session
	// until it is finalized or its assignment expires.
	StateAssigned State = "assigned"

	// StateCompleted indicates the holder submitted a response.
	StateCompleted State = "completed"

	// StateExpired is reserved for reporting. Reclaim returns tasks to
	// StatePending rather than parking them here.
	StateExpired State = "expired"

	// StateRetired indicates administrative removal.
	StateRetired State = "retired"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if no further transition other than retirement
// is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateRetired
}

// AllStates returns every task state in lifecycle order.
func AllStates() []State {
	return []State{StatePending, StateAssigned, StateCompleted, StateExpired, StateRetired}
}

// ParseState converts a string to a State.
func ParseState(s string) (State, bool) {
	st := State(strings.ToLower(s))
	return st, slices.Contains(AllStates(), st)
}

// Category is the broad kind of content a task carries.
type Category string

const (
	CategoryText  Category = "text"
	CategoryImage Category = "image"
	CategoryVQA   Category = "vqa"
	CategoryAudio Category = "audio"
	CategoryCode  Category = "code"
)

// Categories returns all known categories.
func Categories() []Category {
	return []Category{CategoryText, CategoryImage, CategoryVQA, CategoryAudio, CategoryCode}
}

// TaskType determines the expected shape of an answer.
type TaskType string

const (
	TypeMultipleChoice TaskType = "multiple-choice"
	TypeTrueFalse      TaskType = "true-false"
	TypeShortAnswer    TaskType = "short-answer"
	TypeRating         TaskType = "rating"
	TypeVQA            TaskType = "vqa"
)

// TaskTypes returns all known task types.
func TaskTypes() []TaskType {
	return []TaskType{TypeMultipleChoice, TypeTrueFalse, TypeShortAnswer, TypeRating, TypeVQA}
}

// ImageContent references an image to label.
type ImageContent struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

// TextContent holds inline text to label.
type TextContent struct {
	Text string `json:"text"`
}

// AudioContent references an audio clip to label.
type AudioContent struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Content is the opaque media payload of a task. At most one part is
// normally set, but the store does not enforce that.
type Content struct {
	Image *ImageContent `json:"image,omitempty"`
	Text  *TextContent  `json:"text,omitempty"`
	Audio *AudioContent `json:"audio,omitempty"`
}

// Question is the prompt shown with the content.
type Question struct {
	Text    string            `json:"text"`
	Choices map[string]string `json:"choices,omitempty"`
}

// Requirements are optional constraints on who may answer and how.
type Requirements struct {
	// ExpertiseLevel is 1-5; 0 means unspecified.
	ExpertiseLevel int `json:"expertise_level,omitempty"`
	// MinCompletionTime is the minimum plausible answer time in seconds.
	MinCompletionTime int `json:"min_completion_time,omitempty"`
}

// Task is a unit of labeling work plus its lifecycle state.
type Task struct {
	ID           string          `json:"task_id"`
	TrackID      string          `json:"track_id"`
	Language     string          `json:"language"`
	Category     Category        `json:"category"`
	Type         TaskType        `json:"type"`
	Topic        string          `json:"topic"`
	Complexity   int             `json:"complexity"`
	Content      Content         `json:"content"`
	Question     Question        `json:"task"`
	Requirements *Requirements   `json:"requirements,omitempty"`
	KnownAnswer  json.RawMessage `json:"known_answer,omitempty"`

	State      State      `json:"status"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the task so callers never share mutable
// state with the store.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Content.Image != nil {
		img := *t.Content.Image
		cp.Content.Image = &img
	}
	if t.Content.Text != nil {
		txt := *t.Content.Text
		cp.Content.Text = &txt
	}
	if t.Content.Audio != nil {
		aud := *t.Content.Audio
		cp.Content.Audio = &aud
	}
	if t.Question.Choices != nil {
		cp.Question.Choices = maps.Clone(t.Question.Choices)
	}
	if t.Requirements != nil {
		req := *t.Requirements
		cp.Requirements = &req
	}
	if t.KnownAnswer != nil {
		cp.KnownAnswer = slices.Clone(t.KnownAnswer)
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		cp.AssignedAt = &at
	}
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

// MinCompletion returns the task's minimum plausible completion time.
func (t *Task) MinCompletion() time.Duration {
	if t.Requirements == nil {
		return 0
	}
	return time.Duration(t.Requirements.MinCompletionTime) * time.Second
}

// IsExpired reports whether the task holds an assignment whose deadline
// is before now.
func (t *Task) IsExpired(now time.Time) bool {
	return t.State == StateAssigned && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Validate checks the caller-supplied fields of a new task.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Language) == "" {
		return herrors.NewValidationError("language is required").WithField("language")
	}
	if !slices.Contains(Categories(), t.Category) {
		return herrors.NewValidationError("unknown category").WithField("category").WithValue(t.Category)
	}
	if !slices.Contains(TaskTypes(), t.Type) {
		return herrors.NewValidationError("unknown task type").WithField("type").WithValue(t.Type)
	}
	if t.Complexity < 1 || t.Complexity > 5 {
		return herrors.NewValidationError("must be between 1 and 5").WithField("complexity").WithValue(t.Complexity)
	}
	if t.Type == TypeMultipleChoice && len(t.Question.Choices) == 0 {
		return herrors.NewValidationError("multiple-choice tasks need choices").WithField("task.choices")
	}
	if t.Requirements != nil {
		if t.Requirements.ExpertiseLevel < 0 || t.Requirements.ExpertiseLevel > 5 {
			return herrors.NewValidationError("must be between 1 and 5").
				WithField("requirements.expertise_level").WithValue(t.Requirements.ExpertiseLevel)
		}
		if t.Requirements.MinCompletionTime < 0 {
			return herrors.NewValidationError("must be non-negative").
				WithField("requirements.min_completion_time").WithValue(t.Requirements.MinCompletionTime)
		}
	}
	if len(t.KnownAnswer) > 0 && !json.Valid(t.KnownAnswer) {
		return herrors.NewValidationError("must be valid JSON").WithField("known_answer")
	}
	return nil
}

// prepareNew validates a task and resets its lifecycle fields for
// insertion. Missing identifiers are generated.
func prepareNew(t *Task, now time.Time) (*Task, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	cp := t.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.TrackID == "" {
		cp.TrackID = uuid.NewString()
	}
	cp.State = StatePending
	cp.AssignedTo = ""
	cp.AssignedAt = nil
	cp.ExpiresAt = nil
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	return cp, nil
}

// BaseLanguage returns the lower-cased primary subtag of a language tag:
// "en-US" and "EN_gb" both become "en".
func BaseLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

// Filter narrows ListTasks. Empty fields match everything.
type Filter struct {
	Language string
	Category Category
	State    State
}

// Matches reports whether the task satisfies every set predicate.
func (f Filter) Matches(t *Task) bool {
	if f.Language != "" && BaseLanguage(t.Language) != BaseLanguage(f.Language) {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.State != "" && t.State != f.State {
		return false
	}
	return true
}

// Page is one slice of a ListTasks sequence.
type Page struct {
	Tasks []*Task `json:"tasks"`
	// NextCursor resumes the sequence; empty when it is finished.
	NextCursor string `json:"next_cursor,omitempty"`
}

// BatchItemResult reports the outcome of one CreateBatch item.
type BatchItemResult struct {
	ID  string `json:"task_id"`
	Err error  `json:"-"`
}

// Counts is a snapshot of the number of tasks per state.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Assigned  int `json:"assigned"`
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
	Retired   int `json:"retired"`
}

func (c *Counts) add(s State, n int) {
	c.Total += n
	switch s {
	case StatePending:
		c.Pending += n
	case StateAssigned:
		c.Assigned += n
	case StateCompleted:
		c.Completed += n
	case StateExpired:
		c.Expired += n
	case StateRetired:
		c.Retired += n
	}
}

const (
	// DefaultPageSize is used when ListTasks is called with limit <= 0.
	DefaultPageSize = 50
	// MaxPageSize caps ListTasks limits.
	MaxPageSize = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return min(limit, MaxPageSize)
}

func notFound(id string) error {
	return herrors.NewNotFoundError("task", id)
}

func duplicate(id string) error {
	return herrors.NewAlreadyExistsError("task", id)
}

func conflict(id, sessionID string, current State, holder string) error {
	return herrors.NewAssignmentError(fmt.Sprintf("task is %s", current), herrors.ErrConflict).
		WithTaskID(id).WithSessionID(sessionID).WithHolder(holder)
}

func mismatch(id, sessionID string, current State, holder string) error {
	return herrors.NewAssignmentError(fmt.Sprintf("task is %s", current), herrors.ErrAssignmentMismatch).
		WithTaskID(id).WithSessionID(sessionID).WithHolder(holder)
}
