package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/gemmcheck/internal/app"
	"github.com/fxnlabs/gemmcheck/internal/gpu"
	"github.com/fxnlabs/gemmcheck/internal/suite"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

func devicesCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the compute devices this build can use",
		Action: func(c *cli.Context) error {
			return withComponents(st, func(manager *gpu.Manager, _ *suite.Runner, _ []suite.Scenario) error {
				printDevices(c.App.Writer, manager)
				return nil
			})
		},
	}
}

func runCommand(st *state) *cli.Command {
	var quiet bool
	return &cli.Command{
		Name:  "run",
		Usage: "Run the GEMM scenarios and verify every output",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "quiet",
				Usage:       "Skip the banner",
				Destination: &quiet,
			},
		},
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			if !quiet {
				fmt.Fprintln(w, figure.NewFigure("gemmcheck", "", true).String())
			}
			return withComponents(st, func(manager *gpu.Manager, runner *suite.Runner, scenarios []suite.Scenario) error {
				printDevices(w, manager)
				fmt.Fprintln(w)
				fmt.Fprintf(w, "using %s\n\n", manager.GetDeviceInfo().Name)

				results := runner.Run(c.Context, scenarios)
				printResults(w, results)
				if !suite.AllPassed(results) {
					return errors.New("one or more scenarios failed")
				}
				return nil
			})
		},
	}
}

// withComponents builds the application graph, hands the pieces to fn and
// releases the backend afterwards.
func withComponents(st *state, fn func(*gpu.Manager, *suite.Runner, []suite.Scenario) error) error {
	var (
		manager   *gpu.Manager
		runner    *suite.Runner
		scenarios []suite.Scenario
	)
	fxApp := fx.New(
		fx.Supply(st.cfg),
		app.Module,
		fx.Populate(&manager, &runner, &scenarios),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		return err
	}
	defer manager.Cleanup()
	return fn(manager, runner, scenarios)
}

func printDevices(w io.Writer, manager *gpu.Manager) {
	for _, dev := range manager.Devices() {
		fmt.Fprintf(w, "found %s [%s] driver=%s\n", dev.Name, dev.Backend, dev.DriverVersion)
	}
}

func printResults(w io.Writer, results []suite.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tRESULT\tKERNEL\tDURATION\tDIGEST")
	for _, res := range results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		digest := res.Digest
		if len(digest) > 18 {
			digest = digest[:18]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Name, status, res.Kernel, res.Duration, digest)
	}
	tw.Flush()
	for _, res := range results {
		if !res.Passed {
			fmt.Fprintf(w, "\n%s: %s\n", res.Name, res.Error)
		}
	}
}
