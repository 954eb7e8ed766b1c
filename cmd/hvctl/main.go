package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/0xef53/hvd/client"
	"github.com/0xef53/hvd/hvd"

	"github.com/urfave/cli/v3"
)

var (
	Error = log.New(os.Stderr, "hvctl: error: ", 0)
)

func main() {
	app := new(cli.Command)

	app.Name = "hvctl"
	app.Usage = "send a command to the hvd daemon"
	app.UsageText = "hvctl [--socket PATH] <verb> <object> [args...]"
	app.HideHelpCommand = true
	app.Action = run

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "socket",
			Usage:   "path to the daemon socket",
			Sources: cli.EnvVars("HVD_SOCKET"),
			Value:   hvd.DEFAULT_SOCKET,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "how long to wait for a response",
			Value: 5 * time.Minute,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		Error.Fatalln(err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	line := strings.Join(c.Args().Slice(), " ")

	if len(line) == 0 {
		line = "help"
	}

	conn, err := client.Dial(ctx, c.String("socket"), c.Duration("timeout"))
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := conn.Exec(line)
	if err != nil {
		return err
	}

	if client.IsError(resp) {
		fmt.Fprintln(os.Stderr, resp)
		conn.Close()
		os.Exit(1)
	}

	fmt.Println(resp)

	return nil
}
