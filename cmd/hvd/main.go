package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/appconf"
	"github.com/0xef53/hvd/internal/command"
	"github.com/0xef53/hvd/internal/netd"
	"github.com/0xef53/hvd/internal/network"
	"github.com/0xef53/hvd/internal/server"
	"github.com/0xef53/hvd/internal/storage"
	"github.com/0xef53/hvd/internal/storage/fsdir"
	"github.com/0xef53/hvd/internal/storage/zfs"
	"github.com/0xef53/hvd/internal/task"
	"github.com/0xef53/hvd/internal/vm"
	"github.com/0xef53/hvd/internal/vmm"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})

	app := new(cli.Command)

	app.Name = "hvd"
	app.Usage = "hypervisor management daemon"
	app.HideHelpCommand = true
	app.Action = run

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the configuration file",
			Sources: cli.EnvVars("HVD_CONFIG"),
			Value:   hvd.DEFAULT_CONFIG,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "print debug information",
			Sources: cli.EnvVars("HVD_DEBUG", "DEBUG"),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalln(err)
	}
}

func newBackend(conf *appconf.HvdConfig) storage.Backend {
	if conf.Storage.Backend == "dir" {
		return fsdir.New(conf.Common.RootDir)
	}

	return zfs.New(conf.Storage.ZFSBinary, conf.Storage.Dataset, conf.Common.RootDir)
}

func run(ctx context.Context, c *cli.Command) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	appConf, err := appconf.NewConfig(c.String("config"))
	if err != nil {
		return err
	}

	rootdir := appConf.Common.RootDir

	backend := newBackend(appConf)

	if err := storage.InitStructure(backend, hvd.VMBASE, hvd.NETWORKBASE, hvd.CONFIGBASE); err != nil {
		return err
	}

	log.WithFields(log.Fields{"backend": backend.Name(), "root": rootdir}).Info("Storage structure is ready")

	netdClient := netd.NewClient(netd.Options{
		Socket:       appConf.Netd.Socket,
		DialAttempts: appConf.Netd.DialAttempts,
		Timeout:      appConf.Netd.Timeout,
	})

	if err := netdClient.CheckAvailability(ctx); err != nil {
		log.Warnf("netd is not available, network operations will fail until it is up: %s", err)
	} else {
		log.WithField("socket", netdClient.Socket()).Info("netd is available")
	}

	// Serializes operations on the same object
	tasks := task.NewPool()

	hypervisor := vmm.NewQemu(vmm.QemuOptions{
		Binary: appConf.VM.QemuBinary,
		StateDir: func(vmname string) string {
			return filepath.Join(rootdir, hvd.VMStateContainer(vmname))
		},
		VolumePath: func(vmname, diskname string) string {
			return backend.VolumePath(hvd.VMDiskVolume(vmname, diskname))
		},
	})

	vms := vm.NewManager(rootdir, backend, hypervisor, tasks, vm.Options{
		StopGracePeriod:   appConf.VM.StopGracePeriod,
		DefaultBootDevice: appConf.VM.DefaultBootDevice,
	})

	var links network.HostLinks

	if appConf.Netd.VerifyHostLinks {
		links = network.NetlinkHostLinks{}
	}

	nets := network.NewManager(rootdir, backend, netdClient, links, tasks)

	srv := server.NewServer(
		server.ServerConf{
			BindSocket:  appConf.Common.Socket,
			IdleTimeout: appConf.Common.IdleTimeout,
		},
		command.NewHandler(vms, nets),
	)

	if err := srv.Listen(); err != nil {
		return err
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Errorf("Unable to send systemd notify: %s", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Signal handler
	group.Go(func() error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigc)

		select {
		case s := <-sigc:
			log.WithField("signal", s).Info("Graceful shutdown initiated ...")
		case <-cancelCtx.Done():
			return nil
		}

		cancel()

		return nil
	})

	group.Go(func() error {
		defer cancel()

		return srv.Serve(cancelCtx)
	})

	err = group.Wait()

	if n := len(tasks.List()); n > 0 {
		log.Warnf("Wait until all tasks finish (currently running: %d)", n)
	}

	tasks.WaitAndClosePool()

	log.Info("Bye")

	return err
}
