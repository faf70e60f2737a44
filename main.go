package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/server"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "mailtime",
		Usage:   "multi-account IMAP sync and cache engine",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Start the sync engine and HTTP API",
				Action: func(c *cli.Context) error {
					return runServer()
				},
			},
			{
				Name:  "version",
				Usage: "Print the build version",
				Action: func(c *cli.Context) error {
					fmt.Printf("mailtime %s\n", version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer() error {
	cfg, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("mailtime starting up...")

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}

	if err := srv.Run(); err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}
