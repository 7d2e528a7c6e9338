package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conti/internal/storage"
)

// RecoveryScannerConfig holds configuration for the recovery scanner.
type RecoveryScannerConfig struct {
	// PollInterval is how often to scan for stuck records (default: 1m)
	PollInterval time.Duration

	// BatchSize is the max number of records requeued per scan (default: 25)
	BatchSize int

	// MinAge is how long a record must stay pending before it counts as
	// stuck; fresh records are usually in flight already (default: 30s)
	MinAge time.Duration
}

// DefaultRecoveryScannerConfig returns sensible defaults.
func DefaultRecoveryScannerConfig() RecoveryScannerConfig {
	return RecoveryScannerConfig{
		PollInterval: time.Minute,
		BatchSize:    25,
		MinAge:       30 * time.Second,
	}
}

// RecoveryScanner requeues ledger exports whose messages were lost.
// Publishing is fire-and-forget on the write path, so a broker outage or
// crash can leave records stuck at sync_status pending with nothing in
// the queue. The scanner periodically republishes those.
type RecoveryScanner struct {
	storage   *storage.Repository
	publisher LedgerPublisher
	config    RecoveryScannerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecoveryScanner(storage *storage.Repository, publisher LedgerPublisher, config RecoveryScannerConfig) *RecoveryScanner {
	return &RecoveryScanner{
		storage:   storage,
		publisher: publisher,
		config:    config,
	}
}

// Start begins the scan loop. Returns an error if already running.
func (s *RecoveryScanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("recovery scanner is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Recovery scanner started",
		"poll_interval", s.config.PollInterval,
		"batch_size", s.config.BatchSize)

	return nil
}

// Stop gracefully stops the scanner and waits for completion.
func (s *RecoveryScanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		slog.InfoContext(ctx, "Recovery scanner stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recovery scanner stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning reports whether the scanner loop is active.
func (s *RecoveryScanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *RecoveryScanner) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Scan immediately on startup: that is exactly when messages from a
	// previous crash are waiting.
	s.Scan(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan republishes one batch of stuck pending records. Returns how many
// messages were published.
func (s *RecoveryScanner) Scan(ctx context.Context) int {
	entries, err := s.storage.PendingLedgerEntries(ctx, time.Now().Add(-s.config.MinAge), s.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list pending ledger entries", "error", err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Requeuing pending ledger entries", "count", len(entries))

	published := 0
	for _, entry := range entries {
		select {
		case <-s.stopCh:
			return published
		case <-ctx.Done():
			return published
		default:
		}

		if err := s.publisher.PublishLedgerSync(ctx, entry.Kind, entry.ID); err != nil {
			slog.WarnContext(ctx, "Failed to requeue ledger entry",
				"kind", entry.Kind, "id", entry.ID, "error", err)
			continue
		}
		published++
	}

	if published > 0 {
		slog.InfoContext(ctx, "Requeued pending ledger entries",
			"published", published, "total", len(entries))
	}
	return published
}
