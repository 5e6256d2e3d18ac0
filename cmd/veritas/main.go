// Command veritas checks text files for plagiarism from the terminal using
// the same detection engines and report format as the HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/veritas/internal/adapters"
	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/config"
)

const version = "1.0.0"

// detectorFactory builds the engine for a validated config. The closer
// releases whatever the engine holds open.
type detectorFactory func(cfg *config.Config) (analysis.Detector, io.Closer, error)

func engineFromConfig(cfg *config.Config) (analysis.Detector, io.Closer, error) {
	pool := adapters.NewEnginePool(cfg)
	detector, err := adapters.NewDetector(cfg, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return detector, pool, nil
}

type runner struct {
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	newDetector detectorFactory
}

func newApp(r *runner) *cli.App {
	return &cli.App{
		Name:      "veritas",
		Usage:     "Veritas AI plagiarism checker",
		Version:   version,
		Writer:    r.stdout,
		ErrWriter: r.stderr,
		Reader:    r.stdin,
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "analyze text files and write a plagiarism report for each",
				ArgsUsage: "FILE... (- reads stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "engine",
						Usage: "detection engine (remote or ollama), overrides DETECTION_ENGINE",
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Value:   ".",
						Usage:   "directory the reports are written to",
					},
					&cli.IntFlag{
						Name:    "concurrency",
						Aliases: []string{"c"},
						Value:   4,
						Usage:   "maximum files analyzed at once",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Value: "warn",
						Usage: "log level for diagnostics on stderr",
					},
				},
				Action: r.check,
			},
			{
				Name:      "render",
				Usage:     "format a stored JSON report as a text report",
				ArgsUsage: "REPORT.json (- reads stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "write the report to this file instead of stdout",
					},
				},
				Action: r.render,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp(&runner{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		newDetector: engineFromConfig,
	})
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "veritas:", err)
		os.Exit(1)
	}
}
