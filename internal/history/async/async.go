package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/textpilot/textpilot-daemon/internal/history"
)

// Store wraps a history.Store with asynchronous batched writes so the
// dispatcher's finalization path never waits on the database. Records
// queued but not yet flushed are lost on a hard crash.
type Store struct {
	underlying    history.Store
	recordChan    chan history.Record
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	logger        *log.Logger

	// mu orders producers against Close: the writer drains and closes
	// recordChan only after closed is set, so no Record can send on a
	// closed channel.
	mu     sync.RWMutex
	closed bool
}

// Config tunes the async writer.
type Config struct {
	BatchSize     int           // records per flush (default 50)
	FlushInterval time.Duration // max time between flushes (default 1s)
	ChannelBuffer int           // queue capacity (default 1024)
	Logger        *log.Logger
}

// New wraps an existing history store with async batch writing.
func New(underlying history.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 1024
	}

	s := &Store{
		underlying:    underlying,
		recordChan:    make(chan history.Record, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

func (s *Store) writer() {
	defer s.wg.Done()

	batch := make([]history.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		for _, rec := range batch {
			if err := s.underlying.Record(ctx, rec); err != nil && s.logger != nil {
				s.logger.Printf("history: write record request=%s: %v", rec.RequestID, err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.recordChan:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopChan:
			close(s.recordChan)
			for rec := range s.recordChan {
				batch = append(batch, rec)
				if len(batch) >= s.batchSize {
					flush()
				}
			}
			flush()
			return
		}
	}
}

// Record queues a record without blocking. When the queue is full the
// record is dropped with a warning; job finalization must not stall on
// history bookkeeping.
func (s *Store) Record(ctx context.Context, rec history.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		if s.logger != nil {
			s.logger.Printf("history: store closed, dropping record request=%s", rec.RequestID)
		}
		return nil
	}
	select {
	case s.recordChan <- rec:
	default:
		if s.logger != nil {
			s.logger.Printf("history: queue full, dropping record request=%s", rec.RequestID)
		}
	}
	return nil
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context, userID string) (history.Summary, error) {
	return s.underlying.Summary(ctx, userID)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	return s.underlying.ListRecent(ctx, userID, limit)
}

// Close stops accepting records, flushes the queue and closes the
// underlying store. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
