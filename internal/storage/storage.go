// Package storage defines the contract of the storage backend: hierarchical
// containers and fixed-size block volumes addressed by slash separated
// paths relative to the backend root.
package storage

import (
	"errors"
)

var (
	ErrNotExist = errors.New("container does not exist")
)

// Backend is implemented by every storage backend.
// Creating an existing container or volume is not an error, and neither
// is destroying a missing one.
type Backend interface {
	Name() string

	CreateContainer(path string) error
	DestroyContainer(path string) error
	CreateVolume(path string, sizeGB uint64) error

	SetProperty(path, key, value string) error
	GetProperty(path, key string) (string, error)

	// VolumePath returns the host path of the block device
	// or the file that backs the volume.
	VolumePath(path string) string
}

// InitStructure creates the root containers used by the daemon.
func InitStructure(b Backend, paths ...string) error {
	for _, p := range append([]string{""}, paths...) {
		if err := b.CreateContainer(p); err != nil {
			return err
		}
	}

	return nil
}
