// Package jobs runs user requests asynchronously on a fixed worker pool.
// A submitted job gets a request id right away; its state can be polled
// until it completes or fails. Retryable failures are attempted again a
// bounded number of times.
package jobs

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	Submitted  State = "submitted"
	Processing State = "processing"
	Completed  State = "completed"
	Failed     State = "failed"
)

func (s State) Terminal() bool { return s == Completed || s == Failed }

var (
	ErrQueueFull    = errors.New("job queue is full")
	ErrJobNotFound  = errors.New("job not found")
	ErrRunnerClosed = errors.New("job runner closed")
	ErrInvalidJob   = errors.New("job has no work function")
)

// genericErrorText replaces infrastructure error details shown to users.
const genericErrorText = "Internal error processing request"

// Job is a unit of work owned by a user.
type Job struct {
	Type   string
	UserID string
	Run    func(ctx context.Context) (any, error)
}

// Snapshot is a copy of a job's state at the time Status was called.
type Snapshot struct {
	ID        string    `json:"request_id"`
	Type      string    `json:"task_type"`
	UserID    string    `json:"-"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type terminalError struct{ err error }

func (e terminalError) Error() string   { return e.err.Error() }
func (e terminalError) Unwrap() error   { return e.err }
func (e terminalError) Retryable() bool { return false }

// Terminal marks err as final: the job fails without further attempts and
// err's message is shown to the user as is.
func Terminal(err error) error {
	if err == nil {
		return nil
	}

	return terminalError{err: err}
}

type retryable interface {
	Retryable() bool
}

// IsTerminal reports whether err, or anything it wraps, declares itself
// not retryable.
func IsTerminal(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return !r.Retryable()
	}

	return false
}
