package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/amr1k/rtmptranscribe/internal/audio"
	"github.com/amr1k/rtmptranscribe/internal/config"
	"github.com/amr1k/rtmptranscribe/internal/fifo"
	"github.com/amr1k/rtmptranscribe/internal/metrics"
	"github.com/amr1k/rtmptranscribe/internal/render"
	"github.com/amr1k/rtmptranscribe/internal/session"
	"github.com/amr1k/rtmptranscribe/internal/transcoder"
	"github.com/amr1k/rtmptranscribe/internal/transcription"
)

func TestRun_PrintConfig(t *testing.T) {
	assert.Equal(t, 0, run([]string{"--print-config", "--rtmp-url", "rtmp://127.0.0.1/live/test"}))
}

func TestRun_InvalidFlags(t *testing.T) {
	assert.Equal(t, 2, run([]string{"--no-such-flag"}))
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("RTMPTRANSCRIBE_SOURCE_RTMP_URL", "")
	assert.Equal(t, 1, run([]string{"--print-config"}))
}

func TestRun_Help(t *testing.T) {
	assert.Equal(t, 0, run([]string{"--help"}))
}

// collectingRecognizer consumes batches until the audio ends. With holdAfterEOF
// it then waits for cancellation, like a service that never sends its finals.
type collectingRecognizer struct {
	holdAfterEOF bool
	fail         error

	mu      sync.Mutex
	samples []int16
}

func (r *collectingRecognizer) Recognize(ctx context.Context, src transcription.BatchSource, _ transcription.ResultHandler) error {
	if r.fail != nil {
		return r.fail
	}
	for {
		batch, err := src.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			if r.holdAfterEOF {
				<-ctx.Done()
				return fmt.Errorf("recognition cancelled: %w", ctx.Err())
			}
			return nil
		}
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.samples = append(r.samples, batch...)
		r.mu.Unlock()
	}
}

func (r *collectingRecognizer) received() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int16(nil), r.samples...)
}

func TestRunSession(t *testing.T) {
	written := []int16{1, 2, 3, 4, 5, 6, 7, 8}

	tests := []struct {
		name         string
		signal       bool
		holdAfterEOF bool
		fail         error
		wantCode     int
		wantState    session.State
		wantLog      string
		wantLevel    zapcore.Level
	}{
		{
			name:      "signal closes bridge and drains captured audio",
			signal:    true,
			wantCode:  0,
			wantState: session.StateFinished,
			wantLog:   "Received shutdown signal, draining",
			wantLevel: zapcore.InfoLevel,
		},
		{
			name:         "drain timeout cancels session",
			signal:       true,
			holdAfterEOF: true,
			wantCode:     0,
			wantState:    session.StateFailed,
			wantLog:      "Drain timeout exceeded, results may be incomplete",
			wantLevel:    zapcore.WarnLevel,
		},
		{
			name:      "recognizer failure",
			fail:      fmt.Errorf("%w: stream reset", transcription.ErrSessionFailure),
			wantCode:  1,
			wantState: session.StateFailed,
			wantLog:   "Transcription failed",
			wantLevel: zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			logger := zap.New(core)

			pr, pw := io.Pipe()
			bridge, err := audio.Open(audio.BridgeConfig{SampleRate: 16000, ChunkSizeBytes: 8},
				func() (io.ReadCloser, error) { return pr, nil })
			require.NoError(t, err)
			t.Cleanup(func() {
				pw.Close()
				bridge.Close()
			})

			_, err = pw.Write(audio.EncodePCM16LE(written))
			require.NoError(t, err)
			require.Eventually(t, func() bool {
				return bridge.GetStats().ChunksQueued == 2
			}, 2*time.Second, time.Millisecond)

			rec := &collectingRecognizer{holdAfterEOF: tt.holdAfterEOF, fail: tt.fail}
			renderer, err := render.New(io.Discard, nil)
			require.NoError(t, err)
			runner := session.NewRunner(rec, renderer, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			code := make(chan int, 1)
			go func() {
				code <- runSession(ctx, bridge, runner, 20*time.Millisecond, logger)
			}()

			if tt.signal {
				// the writer stays open, so only the signal can end the audio
				require.Eventually(t, func() bool {
					return len(rec.received()) == len(written)
				}, 2*time.Second, time.Millisecond)
				cancel()
			}

			select {
			case got := <-code:
				assert.Equal(t, tt.wantCode, got)
			case <-time.After(5 * time.Second):
				t.Fatal("session did not end")
			}

			assert.Equal(t, tt.wantState, runner.Info().State)
			if tt.signal {
				assert.True(t, bridge.GetStats().Closed)
				assert.Equal(t, written, rec.received())
			}

			entries := logs.FilterMessage(tt.wantLog).All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantLevel, entries[0].Level)
		})
	}
}

func TestStartupFailure(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "audio.pipe")
	require.NoError(t, fifo.Ensure(pipe))

	cfg := &config.Config{
		Source: config.SourceConfig{PipePath: pipe},
		Audio:  config.AudioConfig{SampleRate: 16000, ChunkSize: 4096},
	}
	tc := transcoder.New(transcoder.Config{}, nil)

	t.Run("signal while waiting for the transcoder", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		logger := zap.New(core)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := openBridge(ctx, cfg, tc, logger, metrics.NewMetrics(16000))
		require.ErrorIs(t, err, audio.ErrResourceUnavailable)

		assert.Equal(t, 0, startupFailure(ctx, logger, "Failed to open audio source", err))
		assert.Equal(t, 1, logs.FilterMessage("Shutdown requested during startup").Len())
		assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	})

	t.Run("failure without a signal", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		logger := zap.New(core)

		err := fmt.Errorf("%w: pipe missing", audio.ErrResourceUnavailable)
		assert.Equal(t, 1, startupFailure(context.Background(), logger, "Failed to open audio source", err))

		entries := logs.FilterMessage("Failed to open audio source").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	})
}
