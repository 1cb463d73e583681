package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tokligence/lexia-stream/internal/ledger"
)

// Store wraps a ledger.Store so the coordinator never waits on disk.
// Entries queued but not yet flushed are lost if the process crashes.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopOnce      sync.Once
	stopChan      chan struct{}
	logger        *log.Logger
}

// Config configures the async ledger behaviour.
type Config struct {
	BatchSize     int           // entries per flush (default 50)
	FlushInterval time.Duration // max time between flushes (default 1s)
	ChannelBuffer int           // queue capacity before entries are dropped (default 1024)
	Logger        *log.Logger
}

// New wraps an existing ledger store with a single batching writer.
func New(underlying ledger.Store, cfg Config) *Store {
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
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}
	s.wg.Add(1)
	go s.batchWriter()

	s.logf("started batch_size=%d flush_interval=%v buffer=%d", cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	return s
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf("[lexia/ledger] "+format, args...)
	}
}

func (s *Store) batchWriter() {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		written := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				s.logf("ERROR writing entry %s: %v", entry.ResponseUUID, err)
				continue
			}
			written++
		}
		if written != len(batch) {
			s.logf("flushed %d/%d entries", written, len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopChan:
			for {
				select {
				case entry := <-s.entryChan:
					batch = append(batch, entry)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record queues an entry without blocking. A full queue drops the entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case <-s.stopChan:
		s.logf("WARNING: ledger closed, dropping entry %s", entry.ResponseUUID)
		return nil
	default:
	}
	select {
	case s.entryChan <- entry:
	default:
		s.logf("WARNING: queue full, dropping entry %s", entry.ResponseUUID)
	}
	return nil
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context, threadID string) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, threadID)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, threadID string, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, threadID, limit)
}

// Close flushes queued entries and closes the underlying store.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return s.underlying.Close()
}

// Ping forwards to the underlying store when it supports health probes.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.underlying.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
