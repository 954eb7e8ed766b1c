package ps

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startSleep(t *testing.T, args ...string) int {
	cmd := exec.Command("/bin/sh", append([]string{"-c"}, args...)...)

	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid

	// Process management is done by pid, like the daemon does
	require.NoError(t, cmd.Process.Release())

	return pid
}

func TestAliveAndReap(t *testing.T) {
	pid := startSleep(t, "exec sleep 30")

	require.True(t, Alive(pid))

	done, _, err := Reap(pid)
	require.NoError(t, err)
	require.False(t, done)

	lt, err := GetLifeTime(pid)
	require.NoError(t, err)
	require.Less(t, lt, time.Minute)

	args, err := GetCmdline(pid)
	require.NoError(t, err)
	require.Equal(t, "sleep", args[0])

	p, err := os.FindProcess(pid)
	require.NoError(t, err)
	require.NoError(t, p.Kill())

	ws, err := Wait(pid)
	require.NoError(t, err)
	require.True(t, ws.Signaled())

	require.False(t, Alive(pid))
}

func TestReapExitStatus(t *testing.T) {
	pid := startSleep(t, "exit 3")

	var (
		done bool
		ws   unix.WaitStatus
		err  error
	)

	for i := 0; i < 100 && !done; i++ {
		done, ws, err = Reap(pid)
		require.NoError(t, err)
		if !done {
			// Zombie until reaped
			time.Sleep(20 * time.Millisecond)
		}
	}

	require.True(t, done)
	require.Equal(t, 3, ws.ExitStatus())

	_, _, err = Reap(pid)
	require.ErrorIs(t, err, ErrNotChild)
}

func TestAliveInvalidPid(t *testing.T) {
	require.False(t, Alive(0))
	require.False(t, Alive(-1))
	require.True(t, Alive(os.Getpid()))
}
