package fifo

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amr1k/rtmptranscribe/internal/audio"
)

func TestEnsure_CreatesPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtmpOutputPipe")

	require.NoError(t, Ensure(path))
	assert.True(t, IsFIFO(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(Mode), info.Mode().Perm()&Mode)
}

func TestEnsure_ReusesExistingPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipe")

	require.NoError(t, Ensure(path))
	require.NoError(t, Ensure(path))
	assert.True(t, IsFIFO(path))
}

func TestEnsure_RejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipe")
	require.NoError(t, os.WriteFile(path, []byte("not a pipe"), 0o600))

	err := Ensure(path)
	assert.ErrorIs(t, err, audio.ErrResourceUnavailable)
	assert.False(t, IsFIFO(path))
}

func TestEnsure_MissingDirectory(t *testing.T) {
	err := Ensure(filepath.Join(t.TempDir(), "missing", "pipe"))
	assert.ErrorIs(t, err, audio.ErrResourceUnavailable)
}

func TestOpen_ReadsFromWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipe")
	require.NoError(t, Ensure(path))

	go func() {
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		defer w.Close()
		w.Write([]byte{1, 0, 2, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, data)
}

func TestOpen_Abort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipe")
	require.NoError(t, Ensure(path))

	abort := make(chan struct{})
	time.AfterFunc(20*time.Millisecond, func() { close(abort) })

	done := make(chan error, 1)
	go func() {
		_, err := Open(context.Background(), path, abort)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, audio.ErrResourceUnavailable)
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("open was not released by abort")
	}
}

func TestOpen_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipe")
	require.NoError(t, Ensure(path))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Open(ctx, path, nil)
	assert.ErrorIs(t, err, audio.ErrResourceUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpen_MissingPipe(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	assert.ErrorIs(t, err, audio.ErrResourceUnavailable)
}
