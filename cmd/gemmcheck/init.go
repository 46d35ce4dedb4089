package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxnlabs/gemmcheck/fixtures"
	"github.com/urfave/cli/v2"
)

func initCommand() *cli.Command {
	var force bool
	return &cli.Command{
		Name:      "init",
		Usage:     "Write config.yaml and scenarios.yaml templates",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "Overwrite existing files",
				Destination: &force,
			},
		},
		Action: func(c *cli.Context) error {
			dir := c.Args().First()
			if dir == "" {
				dir = "."
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			files := []struct {
				name string
				data []byte
			}{
				{"config.yaml", fixtures.ConfigTemplate},
				{"scenarios.yaml", fixtures.ScenariosTemplate},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if _, err := os.Stat(path); err == nil && !force {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				}
				if err := os.WriteFile(path, f.data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
			}
			return nil
		},
	}
}
