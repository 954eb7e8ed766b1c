package zfs

import (
	"errors"
	"strings"
	"testing"

	"github.com/0xef53/hvd/internal/storage"

	"github.com/stretchr/testify/require"
)

type fakeZFS struct {
	datasets map[string]map[string]string
	calls    []string
}

func newFakeZFS() *fakeZFS {
	return &fakeZFS{datasets: make(map[string]map[string]string)}
}

func (f *fakeZFS) run(args ...string) ([]byte, error) {
	f.calls = append(f.calls, strings.Join(args, " "))

	last := args[len(args)-1]

	switch args[0] {
	case "list":
		if _, ok := f.datasets[last]; ok {
			return []byte(last + "\n"), nil
		}
		return []byte("cannot open '" + last + "': dataset does not exist"), errors.New("exit status 1")
	case "create":
		props := make(map[string]string)
		for i, a := range args {
			if a == "-o" {
				kv := strings.SplitN(args[i+1], "=", 2)
				props[kv[0]] = kv[1]
			}
		}
		f.datasets[last] = props
	case "destroy":
		for ds := range f.datasets {
			if ds == last || strings.HasPrefix(ds, last+"/") {
				delete(f.datasets, ds)
			}
		}
	case "set":
		kv := strings.SplitN(args[1], "=", 2)
		f.datasets[last][kv[0]] = kv[1]
	case "get":
		if v, ok := f.datasets[last][args[4]]; ok {
			return []byte(v + "\n"), nil
		}
		return []byte("-\n"), nil
	}

	return nil, nil
}

func TestContainerLifecycle(t *testing.T) {
	f := newFakeZFS()
	b := NewWithRunner("zroot/hv/", "/hv", f.run)

	var _ storage.Backend = b

	require.NoError(t, b.CreateContainer("vm/test"))
	require.NoError(t, b.CreateContainer("vm/test"))
	require.Contains(t, f.datasets, "zroot/hv/vm/test")

	// The second create must not issue another "zfs create"
	var creates int
	for _, c := range f.calls {
		if strings.HasPrefix(c, "create ") {
			creates++
		}
	}
	require.Equal(t, 1, creates)

	require.NoError(t, b.SetProperty("vm/test", "hvd:type", "vm"))

	v, err := b.GetProperty("vm/test", "hvd:type")
	require.NoError(t, err)
	require.Equal(t, "vm", v)

	_, err = b.GetProperty("vm/test", "hvd:name")
	require.Error(t, err)

	require.NoError(t, b.CreateVolume("vm/test/disks/disk0", 10))
	require.Contains(t, f.calls, "create -V 10G zroot/hv/vm/test/disks/disk0")

	require.NoError(t, b.DestroyContainer("vm/test"))
	require.Contains(t, f.calls, "destroy -r zroot/hv/vm/test")
	require.Empty(t, f.datasets)

	// Destroying a missing container is fine
	require.NoError(t, b.DestroyContainer("vm/test"))

	err = b.SetProperty("vm/test", "hvd:type", "vm")
	require.ErrorIs(t, err, storage.ErrNotExist)
}

func TestRootContainer(t *testing.T) {
	f := newFakeZFS()
	b := NewWithRunner("zroot/hv", "/hv", f.run)

	require.NoError(t, storage.InitStructure(b, "vm", "networks"))
	require.Contains(t, f.datasets, "zroot/hv")
	require.Contains(t, f.datasets, "zroot/hv/vm")
	require.Contains(t, f.datasets, "zroot/hv/networks")

	require.Contains(t, f.calls, "create -p -o mountpoint=/hv zroot/hv")
	require.Equal(t, "/hv", f.datasets["zroot/hv"]["mountpoint"])

	// Children inherit the mountpoint
	require.Contains(t, f.calls, "create zroot/hv/vm")

	// A second start finds the root mounted in place
	require.NoError(t, storage.InitStructure(b, "vm", "networks"))
}

func TestRootMountpointMismatch(t *testing.T) {
	f := newFakeZFS()
	f.datasets["zroot/hv"] = map[string]string{"mountpoint": "/zroot/hv"}

	b := NewWithRunner("zroot/hv", "/hv", f.run)

	err := storage.InitStructure(b, "vm")
	require.Error(t, err)
	require.Contains(t, err.Error(), "mounted at /zroot/hv")
	require.NotContains(t, f.datasets, "zroot/hv/vm")
}

func TestCommandFailure(t *testing.T) {
	b := NewWithRunner("zroot/hv", "/hv", func(args ...string) ([]byte, error) {
		if args[0] == "list" {
			return nil, errors.New("exit status 1")
		}
		return []byte("cannot create 'zroot/hv/vm/x': out of space\n"), errors.New("exit status 1")
	})

	err := b.CreateContainer("vm/x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of space")
}

func TestVolumePath(t *testing.T) {
	b := NewWithRunner("zroot/hv", "/hv", newFakeZFS().run)

	require.Equal(t, "/dev/zvol/zroot/hv/vm/test/disks/disk0", b.VolumePath("vm/test/disks/disk0"))
}
