package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hendrywilliam/herald/src"
	"github.com/hendrywilliam/herald/src/client"
	"github.com/hendrywilliam/herald/src/utils"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var signals = []os.Signal{
	os.Interrupt,
	syscall.SIGINT,
	syscall.SIGTERM,
}

func main() {
	app := cli.App{
		Name:  "herald",
		Usage: "Discord gateway client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"HERALD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "Environment file loaded before the configuration",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log every gateway event at debug level",
			},
			&cli.StringFlag{
				Name:  "status-addr",
				Usage: "Address of the status server, e.g. :8080",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	if err := godotenv.Load(cCtx.String("env-file")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := utils.LoadConfiguration(cCtx.String("config"))
	if err != nil {
		return err
	}
	if cCtx.Bool("debug") {
		cfg.Debug = true
	}
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}
	if addr := cCtx.String("status-addr"); addr != "" {
		cfg.Status.Addr = addr
	}

	logger, err := src.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	c, err := client.New(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Run(ctx)
}
