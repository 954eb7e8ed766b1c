package confstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/0xef53/hvd/hvd"

	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	root := t.TempDir()

	b := NewBucket[hvd.VirtualMachine](root, hvd.VMBASE)

	vm := hvd.NewVirtualMachine("test", 2, 1024)

	// No container yet
	require.Error(t, b.Save("test", vm))
	require.False(t, b.Exists("test"))

	require.NoError(t, os.MkdirAll(b.Dir("test"), 0755))
	require.NoError(t, b.Save("test", vm))
	require.True(t, b.Exists("test"))

	got, err := b.Load("test")
	require.NoError(t, err)
	require.Equal(t, vm, got)

	got.State = hvd.StateRunning
	require.NoError(t, b.Save("test", got))

	again, err := b.Load("test")
	require.NoError(t, err)
	require.Equal(t, hvd.StateRunning, again.State)

	// No leftovers from the atomic replace
	entries, err := os.ReadDir(b.Dir("test"))
	require.NoError(t, err)
	for _, e := range entries {
		require.Contains(t, []string{configFile, lockFile}, e.Name())
	}
}

func TestLoadMissing(t *testing.T) {
	b := NewBucket[hvd.Network](t.TempDir(), hvd.NETWORKBASE)

	_, err := b.Load("lan")
	require.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	require.NoError(t, b.Delete("lan"))
}

func TestNames(t *testing.T) {
	root := t.TempDir()

	b := NewBucket[hvd.Network](root, hvd.NETWORKBASE)

	names, err := b.Names()
	require.NoError(t, err)
	require.Empty(t, names)

	for _, n := range []string{"wan", "lan", "dmz"} {
		require.NoError(t, os.MkdirAll(b.Dir(n), 0755))
		require.NoError(t, b.Save(n, hvd.NewNetwork(n, 0, "")))
	}

	// A container without a record is not listed
	require.NoError(t, os.MkdirAll(b.Dir("orphan"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, hvd.NETWORKBASE, "file"), nil, 0644))

	names, err = b.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"dmz", "lan", "wan"}, names)

	require.NoError(t, b.Delete("lan"))

	names, err = b.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"dmz", "wan"}, names)
}
