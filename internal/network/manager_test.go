package network

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/confstore"
	"github.com/0xef53/hvd/internal/netd"
	"github.com/0xef53/hvd/internal/netd/netdtest"
	"github.com/0xef53/hvd/internal/storage"
	"github.com/0xef53/hvd/internal/storage/fsdir"
	"github.com/0xef53/hvd/internal/task"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	root string
	srv  *netdtest.Server
	m    *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	root := t.TempDir()
	srv := netdtest.NewServer(t)

	client := netd.NewClient(netd.Options{
		Socket:       srv.Socket,
		DialAttempts: 1,
		Timeout:      time.Second,
	})

	backend := fsdir.New(root)

	require.NoError(t, storage.InitStructure(backend, hvd.VMBASE, hvd.NETWORKBASE))

	return &testEnv{
		root: root,
		srv:  srv,
		m:    NewManager(root, backend, client, nil, task.NewPool()),
	}
}

func TestCreateNetwork(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	n, err := env.m.Create(ctx, "lan", 3, "em0")
	require.NoError(t, err)
	require.Equal(t, "bridge_lan", n.Bridge)

	require.DirExists(t, filepath.Join(env.root, "networks/lan"))
	require.Contains(t, env.srv.Last(), "<name>bridge_lan</name>")
	require.Contains(t, env.srv.Last(), "<member-of>bridge_lan</member-of>")

	got, err := env.m.Get("lan")
	require.NoError(t, err)
	require.Equal(t, n, got)

	_, err = env.m.Create(ctx, "lan", 0, "")
	require.ErrorIs(t, err, hvd.ErrAlreadyExists)

	_, err = env.m.Create(ctx, "wan", 0, "")
	require.NoError(t, err)

	list, err := env.m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "lan", list[0].Name)
	require.Equal(t, "wan", list[1].Name)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.m.Create(context.Background(), "../lan", 0, "")
	require.True(t, hvd.IsValidationError(err))

	_, err = env.m.Create(context.Background(), "lan", 0, "em0 em1")
	require.True(t, hvd.IsValidationError(err))

	require.Empty(t, env.srv.Docs())
}

func TestCreateWithNetdUnreachable(t *testing.T) {
	env := newTestEnv(t)

	env.srv.Close()

	_, err := env.m.Create(context.Background(), "lan", 0, "em0")
	require.Error(t, err)
	require.True(t, hvd.IsBackendError(err))

	require.NoDirExists(t, filepath.Join(env.root, "networks/lan"))

	_, err = env.m.Get("lan")
	require.True(t, hvd.IsNotFoundError(err))
}

func TestSetFIB(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.m.Create(ctx, "lan", 0, "")
	require.NoError(t, err)

	require.NoError(t, env.m.SetFIB(ctx, "lan", 5))
	require.Contains(t, env.srv.Last(), "<fib>5</fib>")

	n, err := env.m.Get("lan")
	require.NoError(t, err)
	require.Equal(t, uint32(5), n.FIB)

	// Resetting to the default table is pushed explicitly
	require.NoError(t, env.m.SetFIB(ctx, "lan", 0))
	require.Contains(t, env.srv.Last(), "<fib>0</fib>")
	require.NoError(t, env.m.SetFIB(ctx, "lan", 5))

	err = env.m.SetFIB(ctx, "lan", 300)
	require.True(t, hvd.IsValidationError(err))

	err = env.m.SetFIB(ctx, "unknown", 1)
	require.True(t, hvd.IsNotFoundError(err))

	// A rejected push leaves the record untouched
	env.srv.Close()

	require.Error(t, env.m.SetFIB(ctx, "lan", 7))

	n, err = env.m.Get("lan")
	require.NoError(t, err)
	require.Equal(t, uint32(5), n.FIB)
}

func TestSetPhysicalInterface(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.m.Create(ctx, "lan", 2, "")
	require.NoError(t, err)

	require.NoError(t, env.m.SetPhysicalInterface(ctx, "lan", "em1"))

	n, err := env.m.Get("lan")
	require.NoError(t, err)
	require.Equal(t, "em1", n.PhysicalInterface)
	require.Contains(t, env.srv.Last(), "<name>em1</name>")
}

type fakeLinks map[string]bool

func (f fakeLinks) Check(ifname string) error {
	if !f[ifname] {
		return &hvd.ValidationError{Field: "physical interface", Reason: "interface does not exist: " + ifname}
	}
	return nil
}

func TestPhysicalInterfaceMustExist(t *testing.T) {
	env := newTestEnv(t)
	env.m.links = fakeLinks{"em0": true}

	_, err := env.m.Create(context.Background(), "lan", 0, "em9")
	require.True(t, hvd.IsValidationError(err))
	require.NoDirExists(t, filepath.Join(env.root, "networks/lan"))

	_, err = env.m.Create(context.Background(), "lan", 0, "em0")
	require.NoError(t, err)
}

func TestAddressesAndRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.m.Create(ctx, "lan", 4, "")
	require.NoError(t, err)

	require.NoError(t, env.m.AddAddress(ctx, "lan", "10.0.0.1/24"))
	require.Contains(t, env.srv.Last(), "<ip>10.0.0.1/24</ip>")
	require.Contains(t, env.srv.Last(), "<family>ipv4</family>")

	require.ErrorIs(t, env.m.AddAddress(ctx, "lan", "10.0.0.1/24"), hvd.ErrAlreadyExists)
	require.True(t, hvd.IsValidationError(env.m.AddAddress(ctx, "lan", "10.0.0.1")))

	n, err := env.m.Get("lan")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1/24"}, n.Addresses)

	require.NoError(t, env.m.AddRoute(ctx, "lan", "192.168.0.0/16", "10.0.0.254", "office"))
	require.Contains(t, env.srv.Last(), "<gateway>10.0.0.254</gateway>")
	require.Contains(t, env.srv.Last(), "<fib>4</fib>")
}

func addVMRecord(t *testing.T, root, name string) {
	require.NoError(t, os.MkdirAll(filepath.Join(root, hvd.VMBASE, name), 0755))
	require.NoError(t, confstore.NewBucket[hvd.VirtualMachine](root, hvd.VMBASE).Save(name, hvd.NewVirtualMachine(name, 1, 64)))
}

func TestTaps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	addVMRecord(t, env.root, "test")

	err := env.m.CreateTap(ctx, "tap0", "test", "lan")
	require.True(t, hvd.IsNotFoundError(err))

	_, err = env.m.Create(ctx, "lan", 0, "")
	require.NoError(t, err)

	count := len(env.srv.Docs())

	// The VM must exist too
	err = env.m.CreateTap(ctx, "tap0", "unknown", "lan")
	require.True(t, hvd.IsNotFoundError(err))
	require.Contains(t, err.Error(), "VM 'unknown'")

	err = env.m.CreateTap(ctx, "tap0", "../test", "lan")
	require.True(t, hvd.IsValidationError(err))

	require.Len(t, env.srv.Docs(), count)

	require.NoError(t, env.m.CreateTap(ctx, "tap0", "test", "lan"))
	require.Contains(t, env.srv.Last(), "<member-of>bridge_lan</member-of>")

	require.NoError(t, env.m.RemoveTap(ctx, "tap0"))
	require.Contains(t, env.srv.Last(), "<enabled>false</enabled>")
}

func TestDestroyNetwork(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.m.Create(ctx, "lan", 0, "")
	require.NoError(t, err)

	require.NoError(t, env.m.Destroy(ctx, "lan"))
	require.Contains(t, env.srv.Last(), "<enabled>false</enabled>")
	require.NoDirExists(t, filepath.Join(env.root, "networks/lan"))

	err = env.m.Destroy(ctx, "lan")
	require.True(t, hvd.IsNotFoundError(err))

	// A failed bridge removal keeps the network so that it can be retried
	_, err = env.m.Create(ctx, "wan", 0, "")
	require.NoError(t, err)

	env.srv.Close()

	err = env.m.Destroy(ctx, "wan")
	require.True(t, hvd.IsBackendError(err))
	require.DirExists(t, filepath.Join(env.root, "networks/wan"))

	_, err = env.m.Get("wan")
	require.NoError(t, err)

	srv := netdtest.NewServer(t)
	env.m.peer = netd.NewClient(netd.Options{Socket: srv.Socket, DialAttempts: 1, Timeout: time.Second})

	require.NoError(t, env.m.Destroy(ctx, "wan"))
	require.Contains(t, srv.Last(), "<name>bridge_wan</name>")
	require.Contains(t, srv.Last(), "<enabled>false</enabled>")
	require.NoDirExists(t, filepath.Join(env.root, "networks/wan"))

	_, err = env.m.Get("wan")
	require.True(t, hvd.IsNotFoundError(err))
}

// detachedBackend provisions containers that never appear under the
// record directory, so every record save fails.
type detachedBackend struct {
	mu         sync.Mutex
	containers map[string]bool
}

func (b *detachedBackend) Name() string { return "detached" }

func (b *detachedBackend) CreateContainer(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.containers[p] = true

	return nil
}

func (b *detachedBackend) DestroyContainer(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.containers, p)

	return nil
}

func (b *detachedBackend) CreateVolume(string, uint64) error        { return nil }
func (b *detachedBackend) SetProperty(string, string, string) error { return nil }
func (b *detachedBackend) VolumePath(p string) string               { return p }

func (b *detachedBackend) GetProperty(string, string) (string, error) {
	return "", errors.New("not supported")
}

func TestCreateRollbackOnSaveFailure(t *testing.T) {
	srv := netdtest.NewServer(t)
	backend := &detachedBackend{containers: make(map[string]bool)}

	m := NewManager(t.TempDir(), backend, netd.NewClient(netd.Options{Socket: srv.Socket}), nil, task.NewPool())

	_, err := m.Create(context.Background(), "lan", 0, "")
	require.True(t, hvd.IsBackendError(err))
	require.Empty(t, backend.containers)
	require.Empty(t, srv.Docs())
}
