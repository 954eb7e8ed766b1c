// Package fsdir implements the storage backend with plain directories.
// Volumes are sparse files and container properties are kept in
// a yaml sidecar file inside the container directory.
package fsdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/0xef53/hvd/internal/storage"

	"gopkg.in/yaml.v3"
)

const propsFile = ".properties.yaml"

type Backend struct {
	rootdir string
}

func New(rootdir string) *Backend {
	return &Backend{rootdir: filepath.Clean(rootdir)}
}

func (b *Backend) Name() string { return "dir" }

func (b *Backend) fullname(p string) string {
	return filepath.Join(b.rootdir, filepath.FromSlash(strings.Trim(p, "/")))
}

func (b *Backend) VolumePath(p string) string {
	return b.fullname(p)
}

func (b *Backend) CreateContainer(p string) error {
	return os.MkdirAll(b.fullname(p), 0755)
}

func (b *Backend) DestroyContainer(p string) error {
	if len(strings.Trim(p, "/")) == 0 {
		return fmt.Errorf("refusing to destroy the root container")
	}

	return os.RemoveAll(b.fullname(p))
}

func (b *Backend) CreateVolume(p string, sizeGB uint64) error {
	if sizeGB == 0 {
		return fmt.Errorf("zero volume size: %s", p)
	}

	fname := b.fullname(p)

	if _, err := os.Stat(fname); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return err
	}

	fd, err := os.OpenFile(fname, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	if err := fd.Truncate(int64(sizeGB) << 30); err != nil {
		fd.Close()
		os.Remove(fname)

		return err
	}

	return fd.Close()
}

func (b *Backend) loadProps(dir string) (map[string]string, error) {
	props := make(map[string]string)

	data, err := os.ReadFile(filepath.Join(dir, propsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return props, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("corrupted properties file in %s: %w", dir, err)
	}

	return props, nil
}

func (b *Backend) SetProperty(p, key, value string) error {
	dir := b.fullname(p)

	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return fmt.Errorf("%w: %s", storage.ErrNotExist, dir)
	}

	props, err := b.loadProps(dir)
	if err != nil {
		return err
	}

	props[key] = value

	data, err := yaml.Marshal(props)
	if err != nil {
		return err
	}

	tmpname := filepath.Join(dir, propsFile+".tmp")

	if err := os.WriteFile(tmpname, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpname, filepath.Join(dir, propsFile))
}

func (b *Backend) GetProperty(p, key string) (string, error) {
	dir := b.fullname(p)

	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %s", storage.ErrNotExist, dir)
	}

	props, err := b.loadProps(dir)
	if err != nil {
		return "", err
	}

	v, ok := props[key]
	if !ok {
		return "", fmt.Errorf("property is not set: %s", key)
	}

	return v, nil
}
