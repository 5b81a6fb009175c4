package worker

import (
	"context"
	"time"
)

// Completer is the blocking call each worker runs.
type Completer interface {
	Complete(ctx context.Context, prompt string) string
}

// Config sizes the dispatcher.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	// Fallback is returned when a job is abandoned before a worker runs it.
	Fallback string
}

// Job is one queued completion.
type Job struct {
	ctx    context.Context
	userID string
	prompt string
	result chan string
	stop   bool
}

type userKey struct{}

// WithUser tags ctx with the user a completion is run for, so the dispatcher
// can share workers fairly between users.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user set by WithUser.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
