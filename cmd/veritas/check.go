package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/config"
	"github.com/ZanzyTHEbar/veritas/internal/errors"
	"github.com/ZanzyTHEbar/veritas/internal/monitoring"
)

const stdinArg = "-"

type checkResult struct {
	input  string
	output string
	report *analysis.Report
	err    error
}

func (r *runner) check(c *cli.Context) error {
	inputs := c.Args().Slice()
	if len(inputs) == 0 {
		return fmt.Errorf("check: at least one FILE is required (use - for stdin)")
	}

	outDir := c.String("out")
	outputs, err := reportPaths(outDir, inputs)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if engine := c.String("engine"); engine != "" {
		cfg.Engine = strings.ToLower(engine)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	detector, closer, err := r.newDetector(cfg)
	if err != nil {
		return errors.NewConfigurationError("could not create detection engine", err)
	}
	if closer != nil {
		defer errors.SafeClose(closer, "detection engine")
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.WrapError(err, "create output directory %s", outDir)
	}

	logger := monitoring.NewLogger(r.stderr, monitoring.ParseLevel(c.String("log-level")))
	orchestrator := analysis.NewOrchestrator(detector, analysis.Options{
		Timeout:        cfg.Timeout,
		MaxAttempts:    cfg.MaxAttempts,
		ForwardTrimmed: cfg.ForwardTrimmed,
		Logger:         logger,
	})

	results := make([]checkResult, len(inputs))
	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(max(c.Int("concurrency"), 1))
	for i, input := range inputs {
		g.Go(func() error {
			results[i] = r.checkOne(ctx, orchestrator, input, outputs[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Fprintf(r.stderr, "%s: FAILED: %s\n", displayName(res.input), describe(res.err))
			continue
		}
		fmt.Fprintf(r.stdout, "%s: plagiarism %d%%, uniqueness %d%%, %d match(es) -> %s\n",
			displayName(res.input),
			analysis.RoundPercent(res.report.PlagiarismScore),
			analysis.RoundPercent(res.report.UniquenessScore),
			len(res.report.Matches),
			res.output,
		)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(inputs))
	}
	return nil
}

func (r *runner) checkOne(ctx context.Context, o *analysis.Orchestrator, input, output string) checkResult {
	res := checkResult{input: input, output: output}

	text, err := r.readInput(input)
	if err != nil {
		res.err = err
		return res
	}

	outcome := o.Analyze(ctx, text)
	if !outcome.OK() {
		res.err = outcome.Err
		if outcome.Err == nil {
			res.err = errors.NewInternalError(errors.MsgAnalysisFailed, nil)
		}
		return res
	}

	if err := os.WriteFile(output, analysis.FormatReport(*outcome.Report), 0o644); err != nil {
		res.err = errors.WrapError(err, "write report %s", output)
		return res
	}
	res.report = outcome.Report
	return res
}

func (r *runner) readInput(input string) (string, error) {
	if input == stdinArg {
		data, err := io.ReadAll(r.stdin)
		if err != nil {
			return "", errors.WrapError(err, "read stdin")
		}
		return string(data), nil
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// reportPaths names the report file for each input. A single input gets the
// plain download name; several inputs are prefixed by their base names,
// which must therefore be distinct.
func reportPaths(outDir string, inputs []string) ([]string, error) {
	if len(inputs) == 1 {
		return []string{filepath.Join(outDir, analysis.ReportFilename)}, nil
	}

	paths := make([]string, len(inputs))
	seen := make(map[string]string, len(inputs))
	for i, input := range inputs {
		base := "stdin"
		if input != stdinArg {
			base = filepath.Base(input)
		}
		if prev, ok := seen[base]; ok {
			return nil, fmt.Errorf("check: %s and %s would write the same report %s.%s", prev, input, base, analysis.ReportFilename)
		}
		seen[base] = input
		paths[i] = filepath.Join(outDir, base+"."+analysis.ReportFilename)
	}
	return paths, nil
}

func displayName(input string) string {
	if input == stdinArg {
		return "<stdin>"
	}
	return input
}

// describe renders a failure with its reason when the pipeline classified it.
func describe(err error) string {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		return err.Error()
	}
	if appErr.Reason != "" {
		return fmt.Sprintf("%s [%s]", appErr.Message(), appErr.Reason)
	}
	return appErr.Message()
}
