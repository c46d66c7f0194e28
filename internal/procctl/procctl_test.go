package procctl

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func pidPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "daemon.pid")
}

func TestCheckStatusNoPidFile(t *testing.T) {
	status, err := CheckStatus(pidPath(t))
	require.NoError(t, err)
	require.False(t, status.Running)
	require.False(t, status.PIDFileExists)
}

func TestWriteReadRemovePID(t *testing.T) {
	path := pidPath(t)
	require.NoError(t, WritePID(path))

	pid, ok, err := ReadPID(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePID(path))
	_, ok, err = ReadPID(path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemovePIDMissingIsNotError(t *testing.T) {
	require.NoError(t, RemovePID(pidPath(t)))
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	path := pidPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, _, err := ReadPID(path)
	require.Error(t, err)
}

func TestCheckStatusLiveProcess(t *testing.T) {
	path := pidPath(t)
	require.NoError(t, WritePID(path))

	status, err := CheckStatus(path)
	require.NoError(t, err)
	require.True(t, status.Running)
	require.Equal(t, os.Getpid(), status.PID)
}

func TestCheckStatusStalePID(t *testing.T) {
	path := pidPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	// A PID vanishingly unlikely to be alive in this process's PID namespace.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0o644))

	status, err := CheckStatus(path)
	require.NoError(t, err)
	require.False(t, status.Running)
	require.True(t, status.PIDFileExists)
}

func TestStartFailsWhenAlreadyRunning(t *testing.T) {
	path := pidPath(t)
	require.NoError(t, WritePID(path))

	err := Start(path)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartClearsStalePIDFile(t *testing.T) {
	path := pidPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0o644))

	require.NoError(t, Start(path))

	pid, ok, err := ReadPID(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)
}

func TestStopWithNoPidFileIsErrNotRunning(t *testing.T) {
	err := Stop(pidPath(t))
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestStopRemovesStalePIDFileWithoutSignaling(t *testing.T) {
	path := pidPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0o644))

	require.NoError(t, Stop(path))

	_, ok, err := ReadPID(path)
	require.NoError(t, err)
	require.False(t, ok)
}
