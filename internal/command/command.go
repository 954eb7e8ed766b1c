// Package command implements the text command language of the daemon:
// parsing of a request line, routing to the managers and formatting
// of the response.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/vm"

	log "github.com/sirupsen/logrus"
)

const (
	okPrefix    = "OK: "
	errorPrefix = "ERROR: "
)

type VMManager interface {
	Create(ctx context.Context, name string, cpu int, memory uint64) (*hvd.VirtualMachine, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
	AddDisk(ctx context.Context, vmname, disk string, sizeGB uint64, dtype hvd.DiskType) error
	RemoveDisk(ctx context.Context, vmname, disk string) error
	SetCPU(ctx context.Context, name string, n int) error
	SetMemory(ctx context.Context, name string, mb uint64) error
	SetBootDevice(ctx context.Context, name, device string) error
	Get(ctx context.Context, name string) (*vm.Info, error)
	List(ctx context.Context) ([]*vm.Info, error)
}

type NetworkManager interface {
	Create(ctx context.Context, name string, fib uint32, physIface string) (*hvd.Network, error)
	Destroy(ctx context.Context, name string) error
	CreateTap(ctx context.Context, tap, vmname, network string) error
	RemoveTap(ctx context.Context, tap string) error
	SetFIB(ctx context.Context, name string, fib uint32) error
	SetPhysicalInterface(ctx context.Context, name, ifname string) error
	AddAddress(ctx context.Context, name, prefix string) error
	AddRoute(ctx context.Context, name, destination, gateway, description string) error
	Get(name string) (*hvd.Network, error)
	List() ([]*hvd.Network, error)
}

type Verb string

const (
	VerbCreate  Verb = "create"
	VerbDestroy Verb = "destroy"
	VerbStart   Verb = "start"
	VerbStop    Verb = "stop"
	VerbSet     Verb = "set"
	VerbShow    Verb = "show"
	VerbList    Verb = "list"
	VerbHelp    Verb = "help"
)

var verbs = []Verb{VerbCreate, VerbDestroy, VerbStart, VerbStop, VerbSet, VerbShow, VerbList, VerbHelp}

type Object string

const (
	ObjectNone    Object = ""
	ObjectVM      Object = "vm"
	ObjectNetwork Object = "network"
	ObjectDisk    Object = "disk"
	ObjectTap     Object = "tap"
	ObjectRoute   Object = "route"
)

var objects = []Object{ObjectVM, ObjectNetwork, ObjectDisk, ObjectTap, ObjectRoute}

type route struct {
	verb   Verb
	object Object
}

// Command describes one (verb, object) pair of the language.
type Command struct {
	Verb   Verb
	Object Object
	Args   string
	Usage  string
}

func (c Command) String() string {
	s := string(c.Verb)

	if c.Object != ObjectNone {
		s += " " + string(c.Object)
	}
	if len(c.Args) > 0 {
		s += " " + c.Args
	}

	return s
}

// Commands is the complete list of the supported commands.
var Commands = []Command{
	{VerbCreate, ObjectVM, "<name> <cpu> <memory>", "create a virtual machine (memory in MB)"},
	{VerbCreate, ObjectNetwork, "<name> <fib> [physical-interface]", "create a bridge network"},
	{VerbCreate, ObjectDisk, "<vm> <disk> <size-gb> [zvol|iscsi]", "add a disk to a virtual machine"},
	{VerbCreate, ObjectTap, "<tap> <vm> <network>", "attach a tap interface to a network"},
	{VerbCreate, ObjectRoute, "<network> <destination> <gateway> [description]", "add a static route to the network FIB"},
	{VerbDestroy, ObjectVM, "<name>", "stop and destroy a virtual machine"},
	{VerbDestroy, ObjectNetwork, "<name>", "destroy a network"},
	{VerbDestroy, ObjectDisk, "<vm> <disk>", "remove a disk from a virtual machine"},
	{VerbDestroy, ObjectTap, "<tap>", "remove a tap interface"},
	{VerbStart, ObjectVM, "<name>", "start a virtual machine"},
	{VerbStop, ObjectVM, "<name>", "stop a virtual machine"},
	{VerbSet, ObjectVM, "<name> cpu|memory|boot-device <value>", "change a virtual machine property"},
	{VerbSet, ObjectNetwork, "<name> fib|physical-interface|address <value>", "change a network property"},
	{VerbShow, ObjectVM, "<name>", "show virtual machine details"},
	{VerbShow, ObjectNetwork, "<name>", "show network details"},
	{VerbList, ObjectVM, "", "list virtual machines"},
	{VerbList, ObjectNetwork, "", "list networks"},
	{VerbHelp, ObjectNone, "", "show this help"},
}

type handlerFunc func(ctx context.Context, args []string) (string, error)

// Handler executes request lines against the managers.
type Handler struct {
	vms  VMManager
	nets NetworkManager

	table map[route]handlerFunc
	usage map[route]Command
}

func NewHandler(vms VMManager, nets NetworkManager) *Handler {
	h := Handler{
		vms:   vms,
		nets:  nets,
		usage: make(map[route]Command, len(Commands)),
	}

	h.table = map[route]handlerFunc{
		{VerbCreate, ObjectVM}:       h.createVM,
		{VerbCreate, ObjectNetwork}:  h.createNetwork,
		{VerbCreate, ObjectDisk}:     h.createDisk,
		{VerbCreate, ObjectTap}:      h.createTap,
		{VerbCreate, ObjectRoute}:    h.createRoute,
		{VerbDestroy, ObjectVM}:      h.destroyVM,
		{VerbDestroy, ObjectNetwork}: h.destroyNetwork,
		{VerbDestroy, ObjectDisk}:    h.destroyDisk,
		{VerbDestroy, ObjectTap}:     h.destroyTap,
		{VerbStart, ObjectVM}:        h.startVM,
		{VerbStop, ObjectVM}:         h.stopVM,
		{VerbSet, ObjectVM}:          h.setVM,
		{VerbSet, ObjectNetwork}:     h.setNetwork,
		{VerbShow, ObjectVM}:         h.showVM,
		{VerbShow, ObjectNetwork}:    h.showNetwork,
		{VerbList, ObjectVM}:         h.listVMs,
		{VerbList, ObjectNetwork}:    h.listNetworks,
		{VerbHelp, ObjectNone}:       h.help,
	}

	for _, c := range Commands {
		h.usage[route{c.Verb, c.Object}] = c
	}

	return &h
}

func isVerb(s string) bool {
	for _, v := range verbs {
		if string(v) == s {
			return true
		}
	}

	return false
}

func isObject(s string) bool {
	for _, o := range objects {
		if string(o) == s {
			return true
		}
	}

	return false
}

// parse splits the line into a route and positional arguments.
func (h *Handler) parse(line string) (route, []string, error) {
	fields := strings.Fields(line)

	if len(fields) == 0 {
		return route{}, nil, &hvd.ValidationError{Reason: "empty command"}
	}

	verb := strings.ToLower(fields[0])

	if !isVerb(verb) {
		return route{}, nil, &hvd.ValidationError{Reason: fmt.Sprintf("unknown command '%s' (try 'help')", fields[0])}
	}

	r := route{verb: Verb(verb)}

	if r.verb == VerbHelp {
		return r, fields[1:], nil
	}

	switch {
	case len(fields) < 2:
		return route{}, nil, &hvd.ValidationError{Reason: fmt.Sprintf("missing object type for '%s'", verb)}
	case isObject(strings.ToLower(fields[1])):
		r.object = Object(strings.ToLower(fields[1]))
		fields = fields[2:]
	case r.verb == VerbStart || r.verb == VerbStop:
		// start/stop without an object type refer to a VM
		r.object = ObjectVM
		fields = fields[1:]
	default:
		return route{}, nil, &hvd.ValidationError{Reason: fmt.Sprintf("unknown object type '%s' for '%s'", fields[1], verb)}
	}

	if _, ok := h.table[r]; !ok {
		return route{}, nil, &hvd.ValidationError{Reason: fmt.Sprintf("'%s' is not supported for object type '%s'", r.verb, r.object)}
	}

	return r, fields, nil
}

// Execute runs a single request line and returns the response text.
// Failures are returned as an "ERROR: <reason>" line.
func (h *Handler) Execute(ctx context.Context, line string) string {
	r, args, err := h.parse(line)
	if err != nil {
		return errorPrefix + err.Error()
	}

	resp, err := h.table[r](ctx, args)
	if err != nil {
		log.WithField("command", strings.TrimSpace(line)).Debugf("Command failed: %s", err)

		return errorPrefix + err.Error()
	}

	return resp
}

// checkArgs verifies the number of positional arguments of the route.
func (h *Handler) checkArgs(r route, args []string, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return &hvd.ValidationError{Reason: "usage: " + h.usage[r].String()}
	}

	return nil
}

func ok(format string, a ...interface{}) string {
	return okPrefix + fmt.Sprintf(format, a...)
}
