package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thogmi/comms-backend/internal/models"
)

// redisClient implements Client using a Redis list for ready jobs and a
// sorted set for delayed jobs. A promoter loop moves delayed jobs onto
// the list once their ready time passes.
type redisClient struct {
	client     *redis.Client
	queueName  string
	delayedKey string
	logger     *slog.Logger
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL       string
	QueueName string
}

// NewRedisClient creates a new Redis queue client
func NewRedisClient(cfg RedisConfig, logger *slog.Logger) (Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		slog.String("addr", opts.Addr),
		slog.String("queue", cfg.QueueName),
	)

	return &redisClient{
		client:     client,
		queueName:  cfg.QueueName,
		delayedKey: cfg.QueueName + ":delayed",
		logger:     logger,
	}, nil
}

// Publish enqueues a delivery job, optionally held back by delay
func (c *redisClient) Publish(ctx context.Context, job *models.DeliveryJob, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay > 0 {
		readyAt := time.Now().Add(delay)
		err := c.client.ZAdd(ctx, c.delayedKey, redis.Z{
			Score:  float64(readyAt.Unix()),
			Member: data,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to schedule delayed job: %w", err)
		}
		c.logger.Debug("job scheduled",
			slog.Int64("message_id", job.MessageID),
			slog.Duration("delay", delay),
		)
		return nil
	}

	// Push to Redis list (LPUSH for FIFO with BRPOP)
	if err := c.client.LPush(ctx, c.queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to push job to queue: %w", err)
	}

	c.logger.Debug("job published to queue",
		slog.Int64("message_id", job.MessageID),
	)

	return nil
}

// promoteDue moves delayed jobs whose ready time has passed onto the
// ready list. Each member is removed with ZREM before being pushed so
// that concurrent promoters never duplicate a job.
func (c *redisClient) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	members, err := c.client.ZRangeByScore(ctx, c.delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		removed, err := c.client.ZRem(ctx, c.delayedKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			// Another promoter claimed it first
			continue
		}
		if err := c.client.LPush(ctx, c.queueName, member).Err(); err != nil {
			return err
		}
	}

	return nil
}

// Consume receives jobs from the queue and processes them with the handler.
// concurrency controls how many jobs can be processed simultaneously (max 10).
func (c *redisClient) Consume(ctx context.Context, handler JobHandler, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 10 {
		concurrency = 10
	}

	c.logger.Info("starting queue consumer",
		slog.String("queue", c.queueName),
		slog.Int("concurrency", concurrency),
	)

	// Promoter loop for delayed jobs
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.promoteDue(ctx); err != nil && err != context.Canceled {
					c.logger.Error("failed to promote delayed jobs", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// Semaphore to limit concurrent processing
	semaphore := make(chan struct{}, concurrency)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped by context, waiting for in-flight jobs to complete")
			for i := 0; i < concurrency; i++ {
				semaphore <- struct{}{}
			}
			c.logger.Info("all in-flight jobs completed")
			return ctx.Err()

		default:
			// Blocking pop from Redis list (blocks for 1 second if empty)
			result, err := c.client.BRPop(ctx, 1*time.Second, c.queueName).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if err == context.Canceled || err == context.DeadlineExceeded {
					c.logger.Info("consumer stopped by context")
					for i := 0; i < concurrency; i++ {
						semaphore <- struct{}{}
					}
					return err
				}
				c.logger.Error("failed to pop from queue", slog.String("error", err.Error()))
				// Sleep briefly to avoid tight loop on persistent errors
				time.Sleep(1 * time.Second)
				continue
			}

			// BRPOP returns [queueName, value]
			if len(result) < 2 {
				c.logger.Error("unexpected BRPOP result format")
				continue
			}

			var job models.DeliveryJob
			if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
				c.logger.Error("failed to unmarshal job",
					slog.String("error", err.Error()),
					slog.String("data", result[1]),
				)
				continue
			}

			c.logger.Debug("job received from queue",
				slog.Int64("message_id", job.MessageID),
			)

			// Acquire semaphore slot (blocks if all slots are busy)
			semaphore <- struct{}{}

			go func(job models.DeliveryJob) {
				defer func() { <-semaphore }()

				if err := handler(ctx, &job); err != nil {
					c.logger.Error("handler failed to process job",
						slog.Int64("message_id", job.MessageID),
						slog.String("error", err.Error()),
					)
					// Job is already popped from the queue; retry
					// scheduling is the worker's responsibility.
				}
			}(job)
		}
	}
}

// Close closes the Redis connection
func (c *redisClient) Close() error {
	c.logger.Info("closing Redis connection")
	return c.client.Close()
}

// Health checks if Redis is reachable
func (c *redisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
