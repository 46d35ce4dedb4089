package main

import (
	"fmt"

	"github.com/fxnlabs/gemmcheck/internal/keys"
	"github.com/urfave/cli/v2"
)

func accountCommands() *cli.Command {
	keyfile := &cli.StringFlag{
		Name:    "keyfile",
		Value:   "key.json",
		Usage:   "Path to the key file",
		EnvVars: []string{"GEMMCHECK_KEYFILE"},
	}
	return &cli.Command{
		Name:  "account",
		Usage: "Manage the key used to sign requests",
		Subcommands: []*cli.Command{
			{
				Name:  "new",
				Usage: "Create a new key file",
				Flags: []cli.Flag{keyfile},
				Action: func(c *cli.Context) error {
					path := c.String("keyfile")
					if err := keys.GenerateKeyFile(path); err != nil {
						return err
					}
					_, address, err := keys.LoadPrivateKey(path)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "wrote %s\naddress %s\n", path, address.Hex())
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "Print the account address",
				Flags: []cli.Flag{keyfile},
				Action: func(c *cli.Context) error {
					_, address, err := keys.LoadPrivateKey(c.String("keyfile"))
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, address.Hex())
					return nil
				},
			},
		},
	}
}
