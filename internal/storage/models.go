package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Entry is the structured index row recorded next to each log blob append.
type Entry struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Timestamp   string    `json:"timestamp"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Feedback    string    `json:"feedback"`
	Source      string    `json:"source"`
	Addressed   bool      `json:"addressed"`
	Resolution  string    `json:"resolution,omitempty"`
	AddressedAt string    `json:"addressed_at,omitempty"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
