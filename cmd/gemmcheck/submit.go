package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxnlabs/gemmcheck/internal/keys"
	"github.com/fxnlabs/gemmcheck/pkg/gemmclient"
	"github.com/urfave/cli/v2"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Send a GEMM request or a suite run to a gemmcheck server",
		ArgsUsage: "[request.json|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "http://localhost:8080",
				Usage:   "Server base URL",
				EnvVars: []string{"GEMMCHECK_ADDR"},
			},
			&cli.StringFlag{
				Name:    "keyfile",
				Usage:   "Sign requests with this key file",
				EnvVars: []string{"GEMMCHECK_KEYFILE"},
			},
			&cli.BoolFlag{
				Name:  "batch",
				Usage: `Treat the input as {"requests": [...]} and run it as one batch`,
			},
			&cli.BoolFlag{
				Name:  "scenarios",
				Usage: "Run the server's scenario suite instead of a single request",
			},
		},
		Action: func(c *cli.Context) error {
			var opts []gemmclient.Option
			if path := c.String("keyfile"); path != "" {
				key, _, err := keys.LoadPrivateKey(path)
				if err != nil {
					return err
				}
				opts = append(opts, gemmclient.WithPrivateKey(key))
			}
			client := gemmclient.New(c.String("addr"), nil, opts...)
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")

			if c.Bool("scenarios") {
				results, passed, err := client.Scenarios(c.Context)
				if err != nil {
					return err
				}
				if err := enc.Encode(results); err != nil {
					return err
				}
				if !passed {
					return errors.New("one or more scenarios failed")
				}
				return nil
			}

			var in io.Reader = os.Stdin
			if path := c.Args().First(); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			if c.Bool("batch") {
				var batch struct {
					Requests []gemmclient.GemmRequest `json:"requests"`
				}
				if err := json.NewDecoder(in).Decode(&batch); err != nil {
					return fmt.Errorf("invalid request: %w", err)
				}
				results, err := client.GemmBatch(c.Context, batch.Requests)
				if err != nil {
					return err
				}
				return enc.Encode(results)
			}

			var req gemmclient.GemmRequest
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("invalid request: %w", err)
			}
			resp, err := client.Gemm(c.Context, req)
			if err != nil {
				return err
			}
			return enc.Encode(resp)
		},
	}
}
