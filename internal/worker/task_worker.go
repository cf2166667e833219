package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/service"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.uber.org/zap"
)

// RecordSource is satisfied by the kafka consumer
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// TaskWorkerConfig contains configuration for the task worker
type TaskWorkerConfig struct {
	WorkerCount int
	// RetryAttempts is the number of retries after the first attempt
	RetryAttempts int
	RetryBackoff  time.Duration
	PollBackoff   time.Duration
}

// DefaultTaskWorkerConfig returns default configuration
func DefaultTaskWorkerConfig() *TaskWorkerConfig {
	return &TaskWorkerConfig{
		WorkerCount:   4,
		RetryAttempts: 3,
		RetryBackoff:  2 * time.Second,
		PollBackoff:   time.Second,
	}
}

// TaskWorker consumes post-commit tasks and runs them with retries. Tasks
// that exhaust their retries or fail permanently go to the dead letter topic.
type TaskWorker struct {
	source  RecordSource
	handler service.TaskHandler
	dlq     *retry.DLQHandler
	config  *TaskWorkerConfig
	log     *logger.Logger

	mu        sync.Mutex
	processed int64
	failed    int64
}

// NewTaskWorker creates a new task worker. dlqPublisher may be nil.
func NewTaskWorker(source RecordSource, handler service.TaskHandler, dlqPublisher retry.DLQPublisher, config *TaskWorkerConfig) *TaskWorker {
	if config == nil {
		config = DefaultTaskWorkerConfig()
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.PollBackoff <= 0 {
		config.PollBackoff = time.Second
	}
	log := logger.Get()
	retries := config.RetryAttempts
	if retries < 0 {
		retries = 0
	}
	onDLQ := func(msg *retry.DLQMessage) {
		log.Critical("task moved to dead letter queue",
			zap.String("task_id", msg.ID),
			zap.String("topic", msg.OriginalTopic),
			zap.Int("attempts", msg.Attempts),
			zap.String("error", msg.Error),
		)
	}
	return &TaskWorker{
		source:  source,
		handler: handler,
		dlq:     retry.NewDLQHandler(dlqPublisher, retry.FixedConfig(retries, config.RetryBackoff), onDLQ),
		config:  config,
		log:     log,
	}
}

// Start polls until ctx is canceled. It returns once every in-flight task finished.
func (w *TaskWorker) Start(ctx context.Context) error {
	w.log.Info(fmt.Sprintf("Starting task worker with %d workers", w.config.WorkerCount))

	recordsCh := make(chan *kafka.Record, w.config.WorkerCount*10)

	var wg sync.WaitGroup
	for i := 0; i < w.config.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.worker(ctx, id, recordsCh)
		}(i)
	}

	err := w.poll(ctx, recordsCh)
	close(recordsCh)
	wg.Wait()
	return err
}

func (w *TaskWorker) poll(ctx context.Context, recordsCh chan<- *kafka.Record) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records, err := w.source.Poll(ctx)
		if err != nil {
			if errors.Is(err, kafka.ErrClientClosed) || ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("failed to poll tasks", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.PollBackoff):
			}
			continue
		}

		for _, record := range records {
			select {
			case recordsCh <- record:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *TaskWorker) worker(ctx context.Context, id int, recordsCh <-chan *kafka.Record) {
	for record := range recordsCh {
		if err := w.processRecord(ctx, record); err != nil {
			w.log.Error("task failed", zap.Int("worker", id), zap.Error(err))
		}
	}
}

// processRecord runs one task and commits its offset whatever the outcome:
// failures have been retried and parked in the dead letter topic by then.
func (w *TaskWorker) processRecord(ctx context.Context, record *kafka.Record) error {
	taskCtx := telemetry.ExtractHeaders(ctx, record.Headers)

	var task domain.Task
	decodeErr := json.Unmarshal(record.Value, &task)
	msgCtx := &retry.MessageContext{
		ID:      record.Headers["task_id"],
		Topic:   record.Topic,
		Key:     string(record.Key),
		Payload: json.RawMessage(record.Value),
		Headers: record.Headers,
	}
	if !record.Timestamp.IsZero() {
		msgCtx.FirstAttemptAt = record.Timestamp
	}
	if decodeErr == nil && task.ID != "" {
		msgCtx.ID = task.ID
	}

	err := w.dlq.ProcessWithDLQ(taskCtx, msgCtx, func(ctx context.Context) error {
		if decodeErr != nil {
			return retry.Permanent(fmt.Errorf("failed to decode task: %w", decodeErr))
		}
		task.Attempt++
		return w.handler.Handle(ctx, &task)
	})

	w.mu.Lock()
	w.processed++
	if err != nil {
		w.failed++
	}
	w.mu.Unlock()

	if commitErr := w.source.CommitRecords(ctx, []*kafka.Record{record}); commitErr != nil {
		w.log.Warn("failed to commit task offset", zap.String("task_id", msgCtx.ID), zap.Error(commitErr))
	}
	return err
}

// Stats returns how many tasks were processed and how many failed
func (w *TaskWorker) Stats() (processed, failed int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed, w.failed
}
