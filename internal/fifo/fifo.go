package fifo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/amr1k/rtmptranscribe/internal/audio"
)

const (
	// Mode is the permission set used for newly created pipes
	Mode = 0o600

	releaseInterval = 10 * time.Millisecond
)

// ErrAborted is returned by Open when the abort channel fires before a writer connects
var ErrAborted = errors.New("open aborted")

// Ensure makes sure path is a named pipe, creating it when missing.
// An existing pipe is reused; any other kind of file is an error.
func Ensure(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, Mode); err != nil {
			return fmt.Errorf("%w: failed to create pipe %s: %w", audio.ErrResourceUnavailable, path, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: failed to stat pipe %s: %w", audio.ErrResourceUnavailable, path, err)
	case info.Mode()&fs.ModeNamedPipe == 0:
		return fmt.Errorf("%w: %s exists and is not a named pipe (mode %s)",
			audio.ErrResourceUnavailable, path, info.Mode())
	}
	return nil
}

// IsFIFO reports whether path is an existing named pipe
func IsFIFO(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&fs.ModeNamedPipe != 0
}

type openResult struct {
	file *os.File
	err  error
}

// Open opens the pipe for reading. Opening a pipe blocks until a writer
// connects, so the open runs on its own goroutine; if ctx ends or abort fires
// first, a non-blocking writer open releases it and the reader is discarded.
func Open(ctx context.Context, path string, abort <-chan struct{}) (io.ReadCloser, error) {
	opened := make(chan openResult, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		opened <- openResult{file: f, err: err}
	}()

	var cause error
	select {
	case r := <-opened:
		if r.err != nil {
			return nil, fmt.Errorf("%w: failed to open pipe %s: %w", audio.ErrResourceUnavailable, path, r.err)
		}
		return r.file, nil
	case <-ctx.Done():
		cause = ctx.Err()
	case <-abort:
		cause = ErrAborted
	}

	release(path, opened)
	return nil, fmt.Errorf("%w: pipe %s: %w", audio.ErrResourceUnavailable, path, cause)
}

// release unblocks a reader stuck in open(2) and closes whatever it opened
func release(path string, opened <-chan openResult) {
	ticker := time.NewTicker(releaseInterval)
	defer ticker.Stop()

	for {
		// ENXIO until the reader is registered on the pipe
		if fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0); err == nil {
			unix.Close(fd)
		}

		select {
		case r := <-opened:
			if r.file != nil {
				r.file.Close()
			}
			return
		case <-ticker.C:
		}
	}
}
