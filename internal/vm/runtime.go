package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/0xef53/hvd/hvd"
)

const pidFileName = "pid"

func (m *Manager) stateDir(vmname string) string {
	return filepath.Join(m.rootdir, filepath.FromSlash(hvd.VMStateContainer(vmname)))
}

func (m *Manager) pidFile(vmname string) string {
	return filepath.Join(m.stateDir(vmname), pidFileName)
}

func (m *Manager) readPID(vmname string) (int, error) {
	b, err := os.ReadFile(m.pidFile(vmname))
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file content: %q", b)
	}

	return pid, nil
}

func (m *Manager) writePID(vmname string, pid int) error {
	fname := m.pidFile(vmname)

	if err := os.WriteFile(fname+".tmp", []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return err
	}

	return os.Rename(fname+".tmp", fname)
}

func (m *Manager) removePID(vmname string) error {
	if err := os.Remove(m.pidFile(vmname)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
