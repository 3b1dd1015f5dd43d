package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// Job asks for one stock balance to be rebuilt from the dispatch log.
type Job struct {
	ID          uuid.UUID
	CompanyID   string
	ProductID   string
	Opening     decimal.Decimal
	SubmittedAt time.Time
	RequestID   string
}

type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

type Queue interface {
	Enqueue(ctx context.Context, job Job) (uuid.UUID, error)
	Status(id uuid.UUID) (JobStatus, bool)
	Shutdown(ctx context.Context)
}

type State string

const (
	JobPending State = "PENDING"
	JobRunning State = "RUNNING"
	JobDone    State = "DONE"
	JobFailed  State = "FAILED"
)

type JobStatus struct {
	ID         uuid.UUID  `json:"id"`
	CompanyID  string     `json:"company_id"`
	ProductID  string     `json:"product_id"`
	State      State      `json:"state"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
