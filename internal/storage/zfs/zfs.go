// Package zfs implements the storage backend on top of the zfs(8) utility.
// Containers are filesystem datasets and volumes are zvols.
//
// The root dataset is mounted at the daemon root directory and every
// child dataset inherits the mountpoint, so the directory of a container
// is <mountpoint>/<path>.
package zfs

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/0xef53/hvd/internal/storage"
)

// Runner executes the zfs utility and returns its combined output.
type Runner func(args ...string) ([]byte, error)

type Backend struct {
	dataset    string
	mountpoint string
	run        Runner
}

func New(binary, dataset, mountpoint string) *Backend {
	return NewWithRunner(dataset, mountpoint, func(args ...string) ([]byte, error) {
		return exec.Command(binary, args...).CombinedOutput()
	})
}

func NewWithRunner(dataset, mountpoint string, run Runner) *Backend {
	return &Backend{
		dataset:    strings.TrimSuffix(dataset, "/"),
		mountpoint: filepath.Clean(mountpoint),
		run:        run,
	}
}

func (b *Backend) Name() string { return "zfs" }

func (b *Backend) fullname(p string) string {
	p = strings.Trim(p, "/")

	if len(p) == 0 {
		return b.dataset
	}

	return b.dataset + "/" + p
}

func (b *Backend) VolumePath(p string) string {
	return "/dev/zvol/" + b.fullname(p)
}

func (b *Backend) exec(args ...string) (string, error) {
	out, err := b.run(args...)
	if err != nil {
		return "", fmt.Errorf("zfs %s failed (%s): %s", args[0], err, strings.TrimSpace(string(out)))
	}

	return strings.TrimSpace(string(out)), nil
}

func (b *Backend) exists(ds string) bool {
	_, err := b.run("list", "-H", "-o", "name", ds)

	return err == nil
}

func (b *Backend) CreateContainer(p string) error {
	ds := b.fullname(p)

	if ds == b.dataset {
		return b.createRoot()
	}

	if b.exists(ds) {
		return nil
	}

	_, err := b.exec("create", ds)

	return err
}

// createRoot creates the root dataset mounted at the daemon root directory.
// An existing root dataset must already be mounted there.
func (b *Backend) createRoot() error {
	if !b.exists(b.dataset) {
		_, err := b.exec("create", "-p", "-o", "mountpoint="+b.mountpoint, b.dataset)

		return err
	}

	mp, err := b.exec("get", "-H", "-o", "value", "mountpoint", b.dataset)
	if err != nil {
		return err
	}

	if filepath.Clean(mp) != b.mountpoint {
		return fmt.Errorf("dataset %s is mounted at %s, expected %s (set the mountpoint or change root-dir)", b.dataset, mp, b.mountpoint)
	}

	return nil
}

func (b *Backend) DestroyContainer(p string) error {
	ds := b.fullname(p)

	if !b.exists(ds) {
		return nil
	}

	_, err := b.exec("destroy", "-r", ds)

	return err
}

func (b *Backend) CreateVolume(p string, sizeGB uint64) error {
	if sizeGB == 0 {
		return fmt.Errorf("zero volume size: %s", p)
	}

	ds := b.fullname(p)

	if b.exists(ds) {
		return nil
	}

	_, err := b.exec("create", "-V", fmt.Sprintf("%dG", sizeGB), ds)

	return err
}

func (b *Backend) SetProperty(p, key, value string) error {
	ds := b.fullname(p)

	if !b.exists(ds) {
		return fmt.Errorf("%w: %s", storage.ErrNotExist, ds)
	}

	_, err := b.exec("set", key+"="+value, ds)

	return err
}

func (b *Backend) GetProperty(p, key string) (string, error) {
	ds := b.fullname(p)

	if !b.exists(ds) {
		return "", fmt.Errorf("%w: %s", storage.ErrNotExist, ds)
	}

	v, err := b.exec("get", "-H", "-o", "value", key, ds)
	if err != nil {
		return "", err
	}

	// User properties that were never set are reported as "-"
	if v == "-" {
		return "", errors.New("property is not set: " + key)
	}

	return v, nil
}
