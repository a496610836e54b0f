package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBinary      = "ffmpeg"
	DefaultLogLevel    = "error"
	DefaultStopTimeout = 5 * time.Second
)

// ErrNotStarted is returned by Stop and Wait before Start succeeded
var ErrNotStarted = errors.New("transcoder not started")

// Config contains transcoder invocation parameters
type Config struct {
	Binary      string
	LogLevel    string
	InputURL    string
	OutputPath  string
	SampleRate  int
	Channels    int
	ExtraArgs   []string
	StopTimeout time.Duration
}

// Transcoder supervises a single ffmpeg process
type Transcoder struct {
	config Config
	logger *zap.Logger

	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopErr  error
}

// New creates a transcoder; the process is not started until Start
func New(config Config, logger *zap.Logger) *Transcoder {
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcoder{
		config: config,
		logger: logger.With(zap.String("component", "transcoder")),
		done:   make(chan struct{}),
	}
}

// Args builds the ffmpeg argument list: video dropped, audio decoded to
// signed 16-bit little-endian PCM, output forced to raw s16le.
func (t *Transcoder) Args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", t.config.LogLevel,
		"-i", t.config.InputURL,
		"-vn",
		"-c:a", "pcm_s16le",
		"-ar", strconv.Itoa(t.config.SampleRate),
		"-ac", strconv.Itoa(t.config.Channels),
		"-y",
		"-f", "s16le",
	}
	args = append(args, t.config.ExtraArgs...)
	return append(args, t.config.OutputPath)
}

// Start launches the process. Its lifetime is not bound to ctx: a cancelled
// context must not kill ffmpeg before the pipe reader has drained, so
// shutdown goes through Stop.
func (t *Transcoder) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("transcoder already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(t.config.Binary, t.Args()...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", t.config.Binary, err)
	}

	t.cmd = cmd
	t.started = true

	t.logger.Info("Transcoder started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("input", t.config.InputURL),
		zap.String("output", t.config.OutputPath),
	)

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		t.pumpStderr(stderr)
	}()

	go func() {
		// Wait closes the stderr pipe, so drain it first
		<-pumped
		t.waitErr = cmd.Wait()
		t.logExit()
		close(t.done)
	}()

	return nil
}

func (t *Transcoder) pumpStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Warn("ffmpeg", zap.String("line", line))
		}
	}
}

func (t *Transcoder) logExit() {
	state := t.cmd.ProcessState
	if state == nil {
		t.logger.Warn("Transcoder exited", zap.Error(t.waitErr))
		return
	}
	t.logger.Info("Transcoder exited",
		zap.Int("exit_code", state.ExitCode()),
		zap.String("state", state.String()),
	)
}

// Done is closed once the process has exited
func (t *Transcoder) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the process exits and returns its exit error
func (t *Transcoder) Wait() error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	<-t.done
	return t.waitErr
}

// Stop interrupts the process and kills it if it is still running after the
// stop timeout. Safe to call more than once.
func (t *Transcoder) Stop() error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return nil
	}

	t.stopOnce.Do(func() {
		select {
		case <-t.done:
			return
		default:
		}

		if err := t.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.logger.Warn("Failed to interrupt transcoder", zap.Error(err))
		}

		timer := time.NewTimer(t.config.StopTimeout)
		defer timer.Stop()

		select {
		case <-t.done:
		case <-timer.C:
			t.logger.Warn("Transcoder did not exit in time, killing",
				zap.Duration("timeout", t.config.StopTimeout))
			if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.stopErr = fmt.Errorf("failed to kill transcoder: %w", err)
				return
			}
			<-t.done
		}
	})

	return t.stopErr
}

// CheckInstalled verifies that the transcoder binary is installed and runnable
func CheckInstalled(binary string) error {
	if binary == "" {
		binary = DefaultBinary
	}

	cmd := exec.Command(binary, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s not found or not executable: %w", binary, err)
	}
	return nil
}
