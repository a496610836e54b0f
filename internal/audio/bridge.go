package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrResourceUnavailable is returned when the byte-stream source cannot be opened.
	ErrResourceUnavailable = errors.New("audio source unavailable")

	// ErrSourceRead wraps the error that terminated the background reader.
	ErrSourceRead = errors.New("audio source read failed")
)

// SourceOpener acquires the byte-stream source handed to the bridge.
type SourceOpener func() (io.ReadCloser, error)

// BridgeConfig contains the PCM stream parameters of the bridge
type BridgeConfig struct {
	SampleRate     int // Hz
	ChunkSizeBytes int // bytes per blocking read, must be even
}

// Validate validates the bridge configuration
func (c BridgeConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSizeBytes)
	}

	if c.ChunkSizeBytes%BytesPerSample != 0 {
		return fmt.Errorf("chunk size must be a multiple of %d bytes, got %d", BytesPerSample, c.ChunkSizeBytes)
	}

	return nil
}

// Observer receives bridge queue events, typically to feed metrics
type Observer interface {
	ChunkQueued(samples int)
	BatchDrained(chunks, samples int)
	QueueDepth(chunks int)
}

type nopObserver struct{}

func (nopObserver) ChunkQueued(int)       {}
func (nopObserver) BatchDrained(int, int) {}
func (nopObserver) QueueDepth(int)        {}

// BridgeOption customizes a Bridge at Open time
type BridgeOption func(*Bridge)

// WithLogger sets the bridge logger
func WithLogger(logger *zap.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver registers an observer for queue events
func WithObserver(o Observer) BridgeOption {
	return func(b *Bridge) {
		if o != nil {
			b.observer = o
		}
	}
}

// BridgeStats is a snapshot of the bridge counters
type BridgeStats struct {
	ChunksQueued   uint64 `json:"chunks_queued"`
	SamplesQueued  uint64 `json:"samples_queued"`
	BatchesDrained uint64 `json:"batches_drained"`
	PendingChunks  int    `json:"pending_chunks"`
	Closed         bool   `json:"closed"`
}

// Bridge reads fixed-size PCM chunks from a blocking source on a background
// goroutine and hands them out as coalesced batches through NextBatch.
//
// Only the reader goroutine enqueues and only a single consumer may call
// NextBatch. Close may be called from any goroutine, any number of times.
type Bridge struct {
	cfg      BridgeConfig
	src      io.ReadCloser
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	queue   [][]int16
	closed  bool // no further chunks are accepted
	ended   bool // end sentinel is queued behind the pending chunks
	readErr error
	stats   BridgeStats

	notify     chan struct{}
	closeOnce  sync.Once
	closeErr   error
	readerDone chan struct{}
}

// Open acquires the source and starts the background reader
func Open(cfg BridgeConfig, open SourceOpener, opts ...BridgeOption) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}

	if open == nil {
		return nil, fmt.Errorf("%w: no source opener", ErrResourceUnavailable)
	}

	src, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: opener returned no source", ErrResourceUnavailable)
	}

	b := &Bridge{
		cfg:        cfg,
		src:        src,
		logger:     zap.NewNop(),
		observer:   nopObserver{},
		notify:     make(chan struct{}, 1),
		readerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.logger.Debug("Audio bridge opened",
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Int("chunk_size_bytes", cfg.ChunkSizeBytes),
	)

	go b.readLoop()

	return b, nil
}

// NextBatch blocks until at least one chunk is queued, then drains every queued
// chunk and returns their samples joined in read order. It returns io.EOF once
// the bridge is closed and everything queued before the close was delivered.
func (b *Bridge) NextBatch(ctx context.Context) ([]int16, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			chunks := b.queue
			b.queue = nil
			b.stats.BatchesDrained++
			// depth is reported under the lock so the gauge follows queue order
			b.observer.QueueDepth(0)
			b.mu.Unlock()

			batch := joinChunks(chunks)
			b.observer.BatchDrained(len(chunks), len(batch))
			return batch, nil
		}
		if b.ended {
			b.mu.Unlock()
			return nil, io.EOF
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops the reader, releases the source and unblocks the consumer with
// the end sentinel. The source's Close must interrupt a pending Read, which
// holds for pipes and FIFOs opened through os.
func (b *Bridge) Close() error {
	b.shutdown(nil)
	<-b.readerDone
	return b.closeErr
}

// Done is closed once the background reader has exited
func (b *Bridge) Done() <-chan struct{} {
	return b.readerDone
}

// Err returns the error that stopped the reader, wrapped in ErrSourceRead.
// It is nil when the bridge was closed explicitly.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readErr
}

// GetStats returns current bridge statistics
func (b *Bridge) GetStats() BridgeStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.stats
	stats.PendingChunks = len(b.queue)
	stats.Closed = b.closed
	return stats
}

func (b *Bridge) readLoop() {
	defer close(b.readerDone)

	buf := make([]byte, b.cfg.ChunkSizeBytes)
	for {
		n, err := io.ReadFull(b.src, buf)
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			if whole := n - n%BytesPerSample; whole > 0 {
				b.enqueue(DecodePCM16LE(buf[:whole]))
			}
		}
		if err != nil {
			b.shutdown(err)
			return
		}
	}
}

func (b *Bridge) enqueue(chunk []int16) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, chunk)
	b.stats.ChunksQueued++
	b.stats.SamplesQueued += uint64(len(chunk))
	b.observer.QueueDepth(len(b.queue))
	b.mu.Unlock()

	b.wake()
	b.observer.ChunkQueued(len(chunk))
}

// shutdown runs once, either from Close or from the reader on a read error
func (b *Bridge) shutdown(cause error) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.ended = true
		if cause != nil {
			b.readErr = fmt.Errorf("%w: %w", ErrSourceRead, cause)
		}
		pending := len(b.queue)
		b.mu.Unlock()

		b.closeErr = b.src.Close()
		if errors.Is(b.closeErr, os.ErrClosed) {
			b.closeErr = nil
		}
		b.wake()

		if cause != nil {
			b.logger.Info("Audio source ended, closing bridge",
				zap.Error(cause),
				zap.Int("pending_chunks", pending),
			)
		} else {
			b.logger.Debug("Audio bridge closed", zap.Int("pending_chunks", pending))
		}
	})
}

func (b *Bridge) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func joinChunks(chunks [][]int16) []int16 {
	if len(chunks) == 1 {
		return chunks[0]
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}

	batch := make([]int16, 0, total)
	for _, c := range chunks {
		batch = append(batch, c...)
	}
	return batch
}
