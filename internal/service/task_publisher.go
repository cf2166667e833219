package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/telemetry"
	"go.uber.org/zap"
)

// TaskPublisher enqueues post-commit tasks
type TaskPublisher interface {
	Publish(ctx context.Context, task *domain.Task) error
	Close() error
}

// TaskHandler executes one task, implemented by TaskRunner
type TaskHandler interface {
	Handle(ctx context.Context, task *domain.Task) error
}

// NewTask builds a task with a fresh id
func NewTask(taskType domain.TaskType, reservationID, payoutID string) *domain.Task {
	return &domain.Task{
		ID:            uuid.New().String(),
		Type:          taskType,
		ReservationID: reservationID,
		PayoutID:      payoutID,
		CreatedAt:     time.Now().UTC(),
	}
}

// MessageProducer is satisfied by the kafka producer
type MessageProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// KafkaTaskPublisher publishes tasks to the task topic, keyed by reservation
type KafkaTaskPublisher struct {
	producer    MessageProducer
	topic       string
	serviceName string
	closeFn     func()
}

// TaskPublisherConfig contains configuration for the task publisher
type TaskPublisherConfig struct {
	Topic       string
	ServiceName string
}

// NewKafkaTaskPublisher creates a task publisher on an existing producer
func NewKafkaTaskPublisher(producer MessageProducer, cfg *TaskPublisherConfig) *KafkaTaskPublisher {
	topic := "reservation-tasks"
	serviceName := "reservation-engine"
	if cfg != nil {
		if cfg.Topic != "" {
			topic = cfg.Topic
		}
		if cfg.ServiceName != "" {
			serviceName = cfg.ServiceName
		}
	}
	p := &KafkaTaskPublisher{producer: producer, topic: topic, serviceName: serviceName}
	if closer, ok := producer.(interface{ Close() }); ok {
		p.closeFn = closer.Close
	}
	return p
}

// Topic returns the task topic
func (p *KafkaTaskPublisher) Topic() string {
	return p.topic
}

// Publish publishes a task to Kafka
func (p *KafkaTaskPublisher) Publish(ctx context.Context, task *domain.Task) error {
	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	headers := map[string]string{
		"task_type":    string(task.Type),
		"task_id":      task.ID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}
	telemetry.InjectHeaders(ctx, headers)

	msg := &kafka.Message{
		Topic:   p.topic,
		Key:     []byte(task.Key()),
		Value:   value,
		Headers: headers,
	}
	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s task: %w", task.Type, err)
	}
	return nil
}

// Close closes the underlying producer
func (p *KafkaTaskPublisher) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

// LocalTaskConfig configures in-process task execution
type LocalTaskConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries   int
	RetryBackoff time.Duration
}

// LocalTaskPublisher runs tasks in process, used when no broker is configured.
// Each task is retried with fixed backoff; exhaustion is logged as critical.
// Nothing survives a restart.
type LocalTaskPublisher struct {
	mu      sync.RWMutex
	handler TaskHandler
	wg      sync.WaitGroup
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewLocalTaskPublisher creates an in-process publisher. The handler is set
// later with SetHandler because it depends on the services publishing tasks.
func NewLocalTaskPublisher(log *logger.Logger, cfg *LocalTaskConfig) *LocalTaskPublisher {
	if log == nil {
		log = logger.Get()
	}
	if cfg == nil {
		cfg = &LocalTaskConfig{MaxRetries: 3, RetryBackoff: 2 * time.Second}
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &LocalTaskPublisher{
		retrier: retry.New(retry.FixedConfig(retries, cfg.RetryBackoff)),
		log:     log,
	}
}

// SetHandler installs the task handler
func (p *LocalTaskPublisher) SetHandler(h TaskHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Publish runs the task on a goroutine detached from the request
func (p *LocalTaskPublisher) Publish(ctx context.Context, task *domain.Task) error {
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("no task handler installed")
	}

	headers := map[string]string{}
	telemetry.InjectHeaders(ctx, headers)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(telemetry.ExtractHeaders(context.Background(), headers), h, task)
	}()
	return nil
}

func (p *LocalTaskPublisher) run(ctx context.Context, h TaskHandler, task *domain.Task) {
	log := p.log.WithContext(ctx).WithFields(
		zap.String("task_id", task.ID),
		zap.String("task_type", string(task.Type)),
	)
	result := p.retrier.DoWithCallback(ctx, func(ctx context.Context) error {
		task.Attempt++
		return h.Handle(ctx, task)
	}, func(attempt int, err error, next time.Duration) {
		log.Warn("retrying local task",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
	if result.Err == nil {
		return
	}
	log.Critical("local task abandoned",
		zap.Int("attempts", result.Attempts),
		zap.Error(result.LastError),
	)
}

// Wait blocks until every published task finished
func (p *LocalTaskPublisher) Wait() {
	p.wg.Wait()
}

// Close waits for running tasks
func (p *LocalTaskPublisher) Close() error {
	p.wg.Wait()
	return nil
}

// NoOpTaskPublisher drops tasks
type NoOpTaskPublisher struct{}

// NewNoOpTaskPublisher creates a no-op task publisher
func NewNoOpTaskPublisher() *NoOpTaskPublisher {
	return &NoOpTaskPublisher{}
}

// Publish does nothing
func (p *NoOpTaskPublisher) Publish(ctx context.Context, task *domain.Task) error {
	return nil
}

// Close does nothing
func (p *NoOpTaskPublisher) Close() error {
	return nil
}
