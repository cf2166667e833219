package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	"go.uber.org/zap"
)

// SweepWorkerConfig contains configuration for a periodic sweep
type SweepWorkerConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// BatchSize is the number of reservations claimed by each sweep
	BatchSize int
}

// DefaultSweepWorkerConfig returns default configuration
func DefaultSweepWorkerConfig() *SweepWorkerConfig {
	return &SweepWorkerConfig{
		ScanInterval: 5 * time.Minute,
		BatchSize:    200,
	}
}

// SweepFunc runs one sweep and reports how many reservations it processed
// and how many of those failed
type SweepFunc func(ctx context.Context, batchSize int) (processed, failed int, err error)

// SweepWorker runs a sweep on a ticker. A sweep that fills its batch is
// repeated immediately so a backlog drains without waiting a full interval.
type SweepWorker struct {
	name    string
	sweep   SweepFunc
	config  *SweepWorkerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalProcessed     int64
	totalFailed        int64
	lastScanTime       time.Time
	lastProcessedCount int
	lastError          string
}

// NewSweepWorker creates a sweep worker
func NewSweepWorker(name string, sweep SweepFunc, config *SweepWorkerConfig) *SweepWorker {
	if config == nil {
		config = DefaultSweepWorkerConfig()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultSweepWorkerConfig().ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweepWorkerConfig().BatchSize
	}
	return &SweepWorker{
		name:   name,
		sweep:  sweep,
		config: config,
		log:    logger.Get(),
		stopCh: make(chan struct{}),
	}
}

// Start starts the worker
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("%s worker already running", w.name)
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting sweep worker",
		zap.String("worker", w.name),
		zap.Duration("interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the worker and waits for the running sweep
func (w *SweepWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("sweep worker stopped", zap.String("worker", w.name))
}

func (w *SweepWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *SweepWorker) drain(ctx context.Context) {
	for {
		processed := w.RunOnce(ctx)
		if processed < w.config.BatchSize {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}
	}
}

// RunOnce performs a single sweep and returns how many reservations it processed
func (w *SweepWorker) RunOnce(ctx context.Context) int {
	start := time.Now()
	processed, failed, err := w.sweep(ctx, w.config.BatchSize)

	w.mu.Lock()
	w.lastScanTime = start
	w.lastProcessedCount = processed
	w.totalProcessed += int64(processed)
	w.totalFailed += int64(failed)
	if err != nil {
		w.lastError = err.Error()
	} else {
		w.lastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("sweep failed", zap.String("worker", w.name), zap.Error(err))
		return 0
	}
	if processed > 0 {
		w.log.Info("sweep completed",
			zap.String("worker", w.name),
			zap.Int("processed", processed),
			zap.Int("failed", failed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return processed
}

// GetStats returns worker statistics
func (w *SweepWorker) GetStats() *SweepWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &SweepWorkerStats{
		Name:               w.name,
		IsRunning:          w.running,
		TotalProcessed:     w.totalProcessed,
		TotalFailed:        w.totalFailed,
		LastScanTime:       w.lastScanTime,
		LastProcessedCount: w.lastProcessedCount,
		LastError:          w.lastError,
	}
}

// SweepWorkerStats contains worker statistics
type SweepWorkerStats struct {
	Name               string    `json:"name"`
	IsRunning          bool      `json:"is_running"`
	TotalProcessed     int64     `json:"total_processed"`
	TotalFailed        int64     `json:"total_failed"`
	LastScanTime       time.Time `json:"last_scan_time"`
	LastProcessedCount int       `json:"last_processed_count"`
	LastError          string    `json:"last_error,omitempty"`
}
