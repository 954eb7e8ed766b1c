package hvd

const (
	DEFAULT_ROOTDIR     = "/hv"
	DEFAULT_SOCKET      = "/var/run/hvd.sock"
	DEFAULT_NETD_SOCKET = "/var/run/netd.sock"
	DEFAULT_DATASET     = "zroot/hv"
	DEFAULT_CONFIG      = "/etc/hvd/hvd.ini"

	DEFAULT_BOOT_DEVICE = "disk0"
)

// Storage container layout relative to the root container.
const (
	VMBASE      = "vm"
	NETWORKBASE = "networks"
	CONFIGBASE  = "config"
)

const (
	MaxNameLen   = 64
	MaxIfnameLen = 15

	MinCPU    = 1
	MaxCPU    = 32
	MinMemory = 64
	MaxMemory = 1048576
	MaxFIB    = 255
)
