// Package network manages bridge networks: the storage container and the
// record of every network, and their materialization through netd.
package network

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/confstore"
	"github.com/0xef53/hvd/internal/netd"
	"github.com/0xef53/hvd/internal/storage"
	"github.com/0xef53/hvd/internal/task"

	log "github.com/sirupsen/logrus"
)

// Netd is the part of the netd client used by the manager.
type Netd interface {
	ConfigureBridge(ctx context.Context, bridge string, fib uint32, physIface string) error
	ConfigureTap(ctx context.Context, tap, bridge string, fib uint32) error
	AddInterfaceAddress(ctx context.Context, iface string, fib uint32, prefix string) error
	AddStaticRoute(ctx context.Context, destination, gateway string, fib uint32, description string) error
	RemoveTap(ctx context.Context, tap string) error
	RemoveBridge(ctx context.Context, bridge string) error
}

type Manager struct {
	backend storage.Backend
	store   *confstore.Bucket[hvd.Network]
	vms     *confstore.Bucket[hvd.VirtualMachine]
	peer    Netd
	links   HostLinks
	tasks   *task.Pool
}

// NewManager returns a network manager. The links checker may be nil,
// in which case physical interfaces are not checked on the host.
func NewManager(rootdir string, backend storage.Backend, peer Netd, links HostLinks, pool *task.Pool) *Manager {
	return &Manager{
		backend: backend,
		store:   confstore.NewBucket[hvd.Network](rootdir, hvd.NETWORKBASE),
		vms:     confstore.NewBucket[hvd.VirtualMachine](rootdir, hvd.VMBASE),
		peer:    peer,
		links:   links,
		tasks:   pool,
	}
}

func taskKey(name string) string {
	return "network/" + name
}

func (m *Manager) load(name string) (*hvd.Network, error) {
	n, err := m.store.Load(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &hvd.NotFoundError{Kind: "network", Name: name}
		}
		return nil, err
	}

	return n, nil
}

func (m *Manager) checkPhysicalInterface(ifname string) error {
	if err := hvd.ValidateIfname(ifname); err != nil {
		return err
	}

	if m.links != nil {
		return m.links.Check(ifname)
	}

	return nil
}

func (m *Manager) Create(ctx context.Context, name string, fib uint32, physIface string) (*hvd.Network, error) {
	n := hvd.NewNetwork(name, fib, physIface)

	if err := n.Validate(); err != nil {
		return nil, err
	}

	if len(physIface) > 0 {
		if err := m.checkPhysicalInterface(physIface); err != nil {
			return nil, err
		}
	}

	err := m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		l = l.WithField("network", name)

		if m.store.Exists(name) {
			return fmt.Errorf("network '%s' %w", name, hvd.ErrAlreadyExists)
		}

		container := hvd.NetworkContainer(name)

		if err := m.backend.CreateContainer(container); err != nil {
			return &hvd.BackendError{Backend: m.backend.Name(), Op: "create container " + container, Err: err}
		}

		var success bool

		defer func() {
			if !success {
				m.store.Delete(name)

				if err := m.backend.DestroyContainer(container); err != nil {
					l.Errorf("Rollback failed: cannot destroy container: %s", err)
				}
			}
		}()

		for k, v := range map[string]string{"hvd:type": "network", "hvd:name": name} {
			if err := m.backend.SetProperty(container, k, v); err != nil {
				l.Warnf("Failed to set container property %s: %s", k, err)
			}
		}

		if err := m.store.Save(name, n); err != nil {
			return &hvd.BackendError{Backend: "store", Op: "save network record", Err: err}
		}

		if err := m.peer.ConfigureBridge(ctx, n.Bridge, n.FIB, n.PhysicalInterface); err != nil {
			return err
		}

		success = true

		l.Infof("Created network (bridge = %s, fib = %d)", n.Bridge, n.FIB)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return n, nil
}

// Destroy removes the bridge, the storage container and the record.
// If netd rejects the bridge removal, the record and the container are
// kept so that Destroy can be repeated.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	return m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		l = l.WithField("network", name)

		n, err := m.load(name)
		if err != nil {
			return err
		}

		if err := m.peer.RemoveBridge(ctx, n.Bridge); err != nil {
			l.Errorf("Failed to remove bridge %s, the network is kept: %s", n.Bridge, err)

			return err
		}

		container := hvd.NetworkContainer(name)

		if err := m.backend.DestroyContainer(container); err != nil {
			return &hvd.BackendError{Backend: m.backend.Name(), Op: "destroy container " + container, Err: err}
		}

		if err := m.store.Delete(name); err != nil {
			return &hvd.BackendError{Backend: "store", Op: "delete network record", Err: err}
		}

		l.Info("Destroyed network")

		return nil
	})
}

// CreateTap attaches a tap interface of the VM to the network bridge.
// Both the VM and the network must exist. Attachments are not recorded.
func (m *Manager) CreateTap(ctx context.Context, tap, vmname, network string) error {
	if err := hvd.ValidateIfname(tap); err != nil {
		return err
	}
	if err := hvd.ValidateName(vmname); err != nil {
		return err
	}

	return m.tasks.RunFunc(ctx, taskKey(network), func(l *log.Entry) error {
		if !m.vms.Exists(vmname) {
			return &hvd.NotFoundError{Kind: "VM", Name: vmname}
		}

		n, err := m.load(network)
		if err != nil {
			return err
		}

		if err := m.peer.ConfigureTap(ctx, tap, n.Bridge, n.FIB); err != nil {
			return err
		}

		l.WithField("network", network).Infof("Created tap %s for VM %s", tap, vmname)

		return nil
	})
}

func (m *Manager) RemoveTap(ctx context.Context, tap string) error {
	if err := hvd.ValidateIfname(tap); err != nil {
		return err
	}

	if err := m.peer.RemoveTap(ctx, tap); err != nil {
		return err
	}

	log.Infof("Removed tap %s", tap)

	return nil
}

// update pushes the modified network to netd and saves the record
// only after the peer has accepted it.
func (m *Manager) update(ctx context.Context, name string, fn func(*hvd.Network) error, push func(*hvd.Network) error) error {
	return m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		n, err := m.load(name)
		if err != nil {
			return err
		}

		if err := fn(n); err != nil {
			return err
		}

		if err := n.Validate(); err != nil {
			return err
		}

		if err := push(n); err != nil {
			return err
		}

		if err := m.store.Save(name, n); err != nil {
			return &hvd.BackendError{Backend: "store", Op: "save network record", Err: err}
		}

		return nil
	})
}

func (m *Manager) SetFIB(ctx context.Context, name string, fib uint32) error {
	if err := hvd.ValidateFIB(int64(fib)); err != nil {
		return err
	}

	return m.update(ctx, name,
		func(n *hvd.Network) error {
			n.FIB = fib
			return nil
		},
		func(n *hvd.Network) error {
			return m.peer.ConfigureBridge(ctx, n.Bridge, n.FIB, n.PhysicalInterface)
		},
	)
}

func (m *Manager) SetPhysicalInterface(ctx context.Context, name, ifname string) error {
	if err := m.checkPhysicalInterface(ifname); err != nil {
		return err
	}

	return m.update(ctx, name,
		func(n *hvd.Network) error {
			n.PhysicalInterface = ifname
			return nil
		},
		func(n *hvd.Network) error {
			return m.peer.ConfigureBridge(ctx, n.Bridge, n.FIB, n.PhysicalInterface)
		},
	)
}

// AddAddress assigns an interface address (CIDR) to the network bridge.
func (m *Manager) AddAddress(ctx context.Context, name, prefix string) error {
	if _, err := netd.ValidatePrefix(prefix); err != nil {
		return err
	}

	return m.update(ctx, name,
		func(n *hvd.Network) error {
			if n.HasAddress(prefix) {
				return fmt.Errorf("address %s %w", prefix, hvd.ErrAlreadyExists)
			}
			n.Addresses = append(n.Addresses, prefix)
			return nil
		},
		func(n *hvd.Network) error {
			return m.peer.AddInterfaceAddress(ctx, n.Bridge, n.FIB, prefix)
		},
	)
}

// AddRoute installs a static route into the FIB of the network.
// Routes are not recorded.
func (m *Manager) AddRoute(ctx context.Context, name, destination, gateway, description string) error {
	return m.tasks.RunFunc(ctx, taskKey(name), func(l *log.Entry) error {
		n, err := m.load(name)
		if err != nil {
			return err
		}

		if err := m.peer.AddStaticRoute(ctx, destination, gateway, n.FIB, description); err != nil {
			return err
		}

		l.WithField("network", name).Infof("Added route %s via %s (fib = %d)", destination, gateway, n.FIB)

		return nil
	})
}

func (m *Manager) Get(name string) (*hvd.Network, error) {
	if err := hvd.ValidateName(name); err != nil {
		return nil, err
	}

	return m.load(name)
}

func (m *Manager) List() ([]*hvd.Network, error) {
	names, err := m.store.Names()
	if err != nil {
		return nil, err
	}

	networks := make([]*hvd.Network, 0, len(names))

	for _, name := range names {
		n, err := m.store.Load(name)
		if err != nil {
			log.WithField("network", name).Warnf("Skipping unreadable record: %s", err)

			continue
		}

		networks = append(networks, n)
	}

	return networks, nil
}
