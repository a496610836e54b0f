package transcoder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeBinary writes an executable shell script standing in for ffmpeg
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func waitDone(t *testing.T, tc *Transcoder) {
	t.Helper()
	select {
	case <-tc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transcoder did not exit")
	}
}

func TestArgs(t *testing.T) {
	tc := New(Config{
		InputURL:   "rtmp://127.0.0.1/live/ByzY5OGkc",
		OutputPath: "rtmpOutputPipe",
		SampleRate: 16000,
		Channels:   1,
		ExtraArgs:  []string{"-rw_timeout", "5000000"},
	}, nil)

	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "rtmp://127.0.0.1/live/ByzY5OGkc",
		"-vn",
		"-c:a", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		"-f", "s16le",
		"-rw_timeout", "5000000",
		"rtmpOutputPipe",
	}, tc.Args())
}

func TestNew_Defaults(t *testing.T) {
	tc := New(Config{}, nil)
	assert.Equal(t, DefaultBinary, tc.config.Binary)
	assert.Equal(t, DefaultLogLevel, tc.config.LogLevel)
	assert.Equal(t, DefaultStopTimeout, tc.config.StopTimeout)
}

func TestStart_ForwardsStderrAndExitCode(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bin := fakeBinary(t, `echo "Connection refused" >&2; exit 3`)

	tc := New(Config{Binary: bin}, zap.New(core))
	require.NoError(t, tc.Start(context.Background()))
	waitDone(t, tc)

	assert.Error(t, tc.Wait())

	lines := logs.FilterMessage("ffmpeg").All()
	require.Len(t, lines, 1)
	assert.Equal(t, zapcore.WarnLevel, lines[0].Level)
	assert.Equal(t, "Connection refused", lines[0].ContextMap()["line"])

	exited := logs.FilterMessage("Transcoder exited").All()
	require.Len(t, exited, 1)
	assert.EqualValues(t, 3, exited[0].ContextMap()["exit_code"])

	assert.NoError(t, tc.Stop())
}

func TestStart_Twice(t *testing.T) {
	tc := New(Config{Binary: fakeBinary(t, "exit 0")}, nil)
	require.NoError(t, tc.Start(context.Background()))
	assert.Error(t, tc.Start(context.Background()))
	waitDone(t, tc)
	assert.NoError(t, tc.Wait())
}

func TestStart_MissingBinary(t *testing.T) {
	tc := New(Config{Binary: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, tc.Start(context.Background()))
	assert.ErrorIs(t, tc.Wait(), ErrNotStarted)
	assert.NoError(t, tc.Stop())
}

func TestStop_Interrupts(t *testing.T) {
	bin := fakeBinary(t, `trap 'exit 0' INT; while :; do sleep 0.05; done`)
	tc := New(Config{Binary: bin, StopTimeout: 5 * time.Second}, nil)
	require.NoError(t, tc.Start(context.Background()))

	// let the shell install its trap
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, tc.Stop())
	waitDone(t, tc)
	assert.NoError(t, tc.Wait())
	assert.NoError(t, tc.Stop())
}

func TestStop_KillsAfterTimeout(t *testing.T) {
	bin := fakeBinary(t, `trap '' INT; while :; do sleep 0.05; done`)
	tc := New(Config{Binary: bin, StopTimeout: 100 * time.Millisecond}, nil)
	require.NoError(t, tc.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, tc.Stop())
	waitDone(t, tc)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Error(t, tc.Wait())
}

func TestCheckInstalled(t *testing.T) {
	assert.NoError(t, CheckInstalled(fakeBinary(t, "exit 0")))
	assert.Error(t, CheckInstalled(filepath.Join(t.TempDir(), "missing")))
}
