package queue

import (
	"context"
	"time"

	"github.com/thogmi/comms-backend/internal/models"
)

// Client defines the interface for queue operations
type Client interface {
	// Publish enqueues a delivery job. A non-zero delay holds the job
	// back until the delay elapses (used for retry backoff).
	Publish(ctx context.Context, job *models.DeliveryJob, delay time.Duration) error

	// Consume receives jobs from the queue and processes them with the handler.
	// concurrency controls how many jobs can be processed simultaneously.
	Consume(ctx context.Context, handler JobHandler, concurrency int) error

	// Close closes the queue connection
	Close() error

	// Health checks if the queue is healthy
	Health(ctx context.Context) error
}

// JobHandler is a function that processes a delivery job
type JobHandler func(ctx context.Context, job *models.DeliveryJob) error
