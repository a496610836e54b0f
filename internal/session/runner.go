package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amr1k/rtmptranscribe/internal/audio"
	"github.com/amr1k/rtmptranscribe/internal/transcription"
)

// State is the lifecycle state of a session
type State string

const (
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateDraining  State = "draining" // audio ended, waiting for final results
	StateFinished  State = "finished"
	StateFailed    State = "failed"
)

// Renderer presents results; it reports whether the session should end
type Renderer interface {
	Render(transcription.Result) (exit bool, err error)
}

// Observer receives session lifecycle events, typically to feed metrics
type Observer interface {
	RecordSessionStarted()
	RecordSessionFinished(state string, durationSeconds float64)
}

type nopObserver struct{}

func (nopObserver) RecordSessionStarted()                 {}
func (nopObserver) RecordSessionFinished(string, float64) {}

// Info is a point-in-time snapshot of a session
type Info struct {
	ID             string    `json:"id"`
	State          State     `json:"state"`
	StartTime      time.Time `json:"start_time"`
	Duration       float64   `json:"duration_seconds"`
	BatchesSent    uint64    `json:"batches_sent"`
	SamplesSent    uint64    `json:"samples_sent"`
	AudioSeconds   float64   `json:"audio_seconds"`
	InterimResults uint64    `json:"interim_results"`
	FinalResults   uint64    `json:"final_results"`
	LastFinal      string    `json:"last_final,omitempty"`
	ExitRequested  bool      `json:"exit_requested"`
	RecordedPath   string    `json:"recorded_path,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Runner runs a session and keeps its Info current
type Runner struct {
	recognizer transcription.Recognizer
	renderer   Renderer
	logger     *zap.Logger
	recorder   *audio.WAVRecorder
	recordPath string
	sampleRate int
	observer   Observer

	info    Info
	endTime time.Time
	mu      sync.RWMutex
}

// Option customizes a Runner
type Option func(*Runner)

// WithRecorder tees every audio batch into a WAV recording
func WithRecorder(rec *audio.WAVRecorder, path string) Option {
	return func(r *Runner) {
		r.recorder = rec
		r.recordPath = path
	}
}

// WithObserver registers an observer for session events
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithSampleRate sets the rate used to report audio duration
func WithSampleRate(rate int) Option {
	return func(r *Runner) {
		if rate > 0 {
			r.sampleRate = rate
		}
	}
}

// NewRunner creates a runner in the starting state
func NewRunner(recognizer transcription.Recognizer, renderer Renderer, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		recognizer: recognizer,
		renderer:   renderer,
		sampleRate: audio.DefaultSampleRate,
		observer:   nopObserver{},
		info: Info{
			ID:        uuid.NewString(),
			State:     StateStarting,
			StartTime: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.info.RecordedPath = r.recordPath
	r.logger = logger.With(zap.String("session_id", r.info.ID))
	return r
}

// ID returns the session identifier
func (r *Runner) ID() string {
	return r.info.ID
}

// Run streams src to the recognizer until the audio ends, an exit keyword is
// rendered, ctx is cancelled or the recognizer fails. Run must be called once.
func (r *Runner) Run(ctx context.Context, src transcription.BatchSource) error {
	r.setState(StateStreaming)
	r.observer.RecordSessionStarted()
	r.logger.Info("Session started")

	err := r.recognizer.Recognize(ctx, &teeSource{runner: r, src: src}, r.handle)

	r.mu.Lock()
	r.endTime = time.Now()
	if err != nil {
		r.info.State = StateFailed
		r.info.Error = err.Error()
	} else {
		r.info.State = StateFinished
	}
	info := r.snapshot()
	r.mu.Unlock()

	r.observer.RecordSessionFinished(string(info.State), info.Duration)

	if err != nil {
		r.logger.Error("Session failed",
			zap.Error(err),
			zap.Uint64("final_results", info.FinalResults),
			zap.Float64("audio_seconds", info.AudioSeconds),
		)
		return err
	}

	r.logger.Info("Session finished",
		zap.Bool("exit_requested", info.ExitRequested),
		zap.Uint64("final_results", info.FinalResults),
		zap.Float64("audio_seconds", info.AudioSeconds),
	)
	return nil
}

func (r *Runner) handle(result transcription.Result) (bool, error) {
	r.mu.Lock()
	if result.IsFinal {
		r.info.FinalResults++
		r.info.LastFinal = result.Transcript
	} else {
		r.info.InterimResults++
	}
	r.mu.Unlock()

	if result.IsFinal {
		r.logger.Debug("Final result",
			zap.String("transcript", result.Transcript),
			zap.Float32("confidence", result.Confidence),
			zap.Duration("end_time", result.EndTime),
		)
	}

	exit, err := r.renderer.Render(result)
	if err != nil {
		return false, err
	}
	if exit {
		r.mu.Lock()
		r.info.ExitRequested = true
		r.mu.Unlock()
		r.logger.Info("Exit keyword recognized", zap.String("transcript", result.Transcript))
	}
	return exit, nil
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.info.State = s
	r.mu.Unlock()
}

// Info returns a snapshot of the session
func (r *Runner) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

func (r *Runner) snapshot() Info {
	info := r.info
	end := r.endTime
	if end.IsZero() {
		end = time.Now()
	}
	info.Duration = end.Sub(info.StartTime).Seconds()
	info.AudioSeconds = audio.SamplesDuration(int(info.SamplesSent), r.sampleRate)
	return info
}

// teeSource counts batches and copies them to the recorder on their way out
type teeSource struct {
	runner *Runner
	src    transcription.BatchSource

	recordFailed bool
}

func (t *teeSource) NextBatch(ctx context.Context) ([]int16, error) {
	batch, err := t.src.NextBatch(ctx)
	if errors.Is(err, io.EOF) {
		t.runner.mu.Lock()
		if t.runner.info.State == StateStreaming {
			t.runner.info.State = StateDraining
		}
		t.runner.mu.Unlock()
		t.runner.logger.Debug("Audio ended, draining results")
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	t.runner.mu.Lock()
	t.runner.info.BatchesSent++
	t.runner.info.SamplesSent += uint64(len(batch))
	t.runner.mu.Unlock()

	if rec := t.runner.recorder; rec != nil && !t.recordFailed {
		if err := rec.WriteSamples(batch); err != nil {
			t.recordFailed = true
			t.runner.logger.Warn("Recording stopped", zap.Error(err))
		}
	}
	return batch, nil
}
