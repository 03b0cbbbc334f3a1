// Package queue delivers stage jobs to workers at least once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/insight-pipeline/internal/response"
)

// Job is one unit of work: run Stage for ResponseID.
type Job struct {
	ID         string             `json:"id"`
	ResponseID string             `json:"response_id"`
	Stage      response.StageName `json:"stage"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
	// Redelivered marks jobs re-enqueued by startup recovery; the stage
	// may already have partly run for this response.
	Redelivered bool `json:"redelivered,omitempty"`
}

func NewJob(responseID string, stage response.StageName, now time.Time) Job {
	return Job{ID: uuid.NewString(), ResponseID: responseID, Stage: stage, EnqueuedAt: now.UTC()}
}

func (j Job) String() string {
	return fmt.Sprintf("%s/%s", j.Stage, j.ResponseID)
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
}

var ErrClosed = errors.New("queue closed")

// Memory is an in-process queue backed by a buffered channel.
type Memory struct {
	jobs chan Job
	done chan struct{}
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{jobs: make(chan Job, size), done: make(chan struct{})}
}

func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.jobs <- job:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-m.jobs:
		return job, nil
	case <-m.done:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len reports the number of queued jobs.
func (m *Memory) Len() int { return len(m.jobs) }

func (m *Memory) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
