package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status update would move a query
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Modality string

const (
	ModalityText     Modality = "text"
	ModalityVoice    Modality = "voice"
	ModalityDocument Modality = "document"
)

type Query struct {
	ID        string
	OwnerID   string
	Text      string
	Modality  Modality
	AudioRef  string
	FileRefs  []string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Answer is the structured legal answer produced by the AI stage.
type Answer struct {
	Text            string   `json:"text"`
	CitedLaws       []string `json:"cited_laws"`
	CitedCases      []string `json:"cited_cases"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

type Response struct {
	ID        string
	QueryID   string
	Answer    Answer
	Embedding []float32 // nil until computed
	Rating    *int
	Published bool
	Article   *string // seo_article
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Tag struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

type AuditEntry struct {
	ID        string
	Actor     string
	Action    string
	EntityID  string
	Details   string // JSON object stored as text
	CreatedAt time.Time
}
