// Package confstore persists records of one kind (VMs or networks) as
// YAML files laid out as <root>/<kind>/<name>/config.yaml.
//
// The record directory is the mountpoint of the storage container of the
// object, so a record can only be saved after the container has been
// provisioned, and it disappears together with the container.
package confstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/0xef53/hvd/internal/flock"

	"gopkg.in/yaml.v3"
)

const (
	configFile = "config.yaml"
	lockFile   = ".lock"
)

var lockTimeout = 10 * time.Second

type Bucket[T any] struct {
	root string
	kind string
}

func NewBucket[T any](rootdir, kind string) *Bucket[T] {
	return &Bucket[T]{
		root: rootdir,
		kind: kind,
	}
}

func (b *Bucket[T]) Dir(name string) string {
	return filepath.Join(b.root, b.kind, name)
}

func (b *Bucket[T]) file(name string) string {
	return filepath.Join(b.Dir(name), configFile)
}

// Exists reports whether a record with the given name is present.
func (b *Bucket[T]) Exists(name string) bool {
	_, err := os.Stat(b.file(name))

	return err == nil
}

// Load reads and decodes the record. A missing record is reported
// as an error wrapping os.ErrNotExist.
func (b *Bucket[T]) Load(name string) (*T, error) {
	data, err := os.ReadFile(b.file(name))
	if err != nil {
		return nil, err
	}

	v := new(T)

	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", b.file(name), err)
	}

	return v, nil
}

// Save replaces the record atomically: either the new content is fully
// written or the previous one stays untouched.
func (b *Bucket[T]) Save(name string, v *T) error {
	dir := b.Dir(name)

	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}

	lock, err := flock.NewLocker(filepath.Join(dir, lockFile))
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := lock.Acquire(context.Background(), lockTimeout); err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+configFile+".*")
	if err != nil {
		return err
	}

	var success bool

	defer func() {
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), b.file(name)); err != nil {
		return err
	}

	success = true

	return nil
}

// Delete removes the record file. Removing a missing record is not an error.
func (b *Bucket[T]) Delete(name string) error {
	if err := os.Remove(b.file(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// Names returns the sorted names of all records of the bucket.
func (b *Bucket[T]) Names() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, b.kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if _, err := os.Stat(b.file(e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
