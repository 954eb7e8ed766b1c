package appconf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/0xef53/hvd/hvd"

	"gopkg.in/gcfg.v1"
)

type CommonParams struct {
	RootDir string `gcfg:"root-dir"`
	Socket  string `gcfg:"socket"`

	IdleTimeoutStr string        `gcfg:"idle-timeout"`
	IdleTimeout    time.Duration `gcfg:"-"`
}

type StorageParams struct {
	// Backend is either "zfs" or "dir"
	Backend   string `gcfg:"backend"`
	Dataset   string `gcfg:"dataset"`
	ZFSBinary string `gcfg:"zfs-binary"`
}

type NetdParams struct {
	Socket          string `gcfg:"socket"`
	DialAttempts    uint   `gcfg:"dial-attempts"`
	TimeoutStr      string `gcfg:"timeout"`
	VerifyHostLinks bool   `gcfg:"verify-host-links"`

	Timeout time.Duration `gcfg:"-"`
}

type VMParams struct {
	QemuBinary         string `gcfg:"qemu-binary"`
	StopGracePeriodStr string `gcfg:"stop-grace-period"`
	DefaultBootDevice  string `gcfg:"default-boot-device"`

	StopGracePeriod time.Duration `gcfg:"-"`
}

// HvdConfig represents the daemon configuration
type HvdConfig struct {
	Common  CommonParams
	Storage StorageParams
	Netd    NetdParams
	VM      VMParams
}

func defaultConfig() HvdConfig {
	return HvdConfig{
		Common: CommonParams{
			RootDir:        hvd.DEFAULT_ROOTDIR,
			Socket:         hvd.DEFAULT_SOCKET,
			IdleTimeoutStr: "0s",
		},
		Storage: StorageParams{
			Backend:   "zfs",
			Dataset:   hvd.DEFAULT_DATASET,
			ZFSBinary: "zfs",
		},
		Netd: NetdParams{
			Socket:       hvd.DEFAULT_NETD_SOCKET,
			DialAttempts: 3,
			TimeoutStr:   "10s",
		},
		VM: VMParams{
			QemuBinary:         "qemu-system-x86_64",
			StopGracePeriodStr: "2s",
			DefaultBootDevice:  hvd.DEFAULT_BOOT_DEVICE,
		},
	}
}

// NewConfig reads and parses the configuration file and returns
// a new instance of HvdConfig on success. A missing file
// is not an error: the defaults are returned.
func NewConfig(p string) (*HvdConfig, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(p); err == nil {
		if err := gcfg.ReadFileInto(&cfg, p); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %s", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	return &cfg, nil
}

// NewConfigFromString is like NewConfig but parses the given text.
func NewConfigFromString(s string) (*HvdConfig, error) {
	cfg := defaultConfig()

	if err := gcfg.ReadStringInto(&cfg, s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %s", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *HvdConfig) finalize() error {
	var err error

	switch c.Storage.Backend {
	case "zfs", "dir":
	default:
		return fmt.Errorf("unknown storage backend: %s (zfs|dir)", c.Storage.Backend)
	}

	if c.Common.IdleTimeout, err = parseDuration("idle-timeout", c.Common.IdleTimeoutStr); err != nil {
		return err
	}
	if c.Netd.Timeout, err = parseDuration("timeout", c.Netd.TimeoutStr); err != nil {
		return err
	}
	if c.VM.StopGracePeriod, err = parseDuration("stop-grace-period", c.VM.StopGracePeriodStr); err != nil {
		return err
	}

	if c.Netd.DialAttempts == 0 {
		c.Netd.DialAttempts = 1
	}

	return nil
}

func parseDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s value: must not be negative", name)
	}

	return d, nil
}
