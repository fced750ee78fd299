package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pidPathIn(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "campsync.pid")
}

func TestWritePIDFile_RecordsCurrentPID(t *testing.T) {
	t.Parallel()

	path := pidPathIn(t)

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFile_SecondDaemonIsRefused(t *testing.T) {
	t.Parallel()

	path := pidPathIn(t)

	cleanup1, err := writePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, cleanup1)

	defer cleanup1()

	// The flock from the first daemon is still held.
	cleanup2, err := writePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, cleanup2)
	assert.Contains(t, err.Error(), "already running")
}

func TestWritePIDFile_CleanupRemovesFile(t *testing.T) {
	t.Parallel()

	path := pidPathIn(t)

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWritePIDFile_EmptyPathReturnsError(t *testing.T) {
	t.Parallel()

	cleanup, err := writePIDFile("")
	assert.Error(t, err)
	assert.Nil(t, cleanup)
	assert.Contains(t, err.Error(), "empty")
}

func TestWritePIDFile_CreatesDataDirectory(t *testing.T) {
	t.Parallel()

	// First run on a fresh machine: the data dir does not exist yet.
	path := filepath.Join(t.TempDir(), "campsync", "state", "campsync.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		path := pidPathIn(t)
		require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))

		pid, err := readPIDFile(path)
		require.NoError(t, err)
		assert.Equal(t, 12345, pid)
	})

	t.Run("garbage content", func(t *testing.T) {
		t.Parallel()

		path := pidPathIn(t)
		require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

		_, err := readPIDFile(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid PID")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := readPIDFile(pidPathIn(t))
		assert.Error(t, err)
	})
}

func TestSendSIGHUP_NoDaemon(t *testing.T) {
	t.Parallel()

	err := sendSIGHUP(pidPathIn(t))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no running daemon")
}

func TestSendSIGHUP_StalePIDFileIsRemoved(t *testing.T) {
	t.Parallel()

	// A daemon that crashed leaves its PID file behind; PID 999999999
	// is almost certainly not a live process.
	path := pidPathIn(t)
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	err := sendSIGHUP(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSendSIGHUP_ReachesRunningDaemon(t *testing.T) {
	t.Parallel()

	// Play the daemon ourselves: trap SIGHUP the way run.go's
	// forceSyncOnSIGHUP loop does, so the signal doesn't kill the test.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	defer signal.Stop(sigCh)

	path := pidPathIn(t)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	err := sendSIGHUP(path)
	assert.NoError(t, err)

	sig := <-sigCh
	assert.Equal(t, syscall.SIGHUP, sig)
}
