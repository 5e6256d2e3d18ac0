package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/errors"
)

func (r *runner) render(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("render: exactly one REPORT.json is required (use - for stdin)")
	}
	input := c.Args().First()

	text, err := r.readInput(input)
	if err != nil {
		return err
	}

	report, err := analysis.ParseReport([]byte(text))
	if err == nil {
		err = analysis.ValidateReport(*report)
	}
	if err != nil {
		var contractErr *analysis.ContractError
		if stderrors.As(err, &contractErr) {
			for _, v := range contractErr.Violations {
				fmt.Fprintf(r.stderr, "  %s\n", v)
			}
		}
		return errors.WrapError(err, "render %s", displayName(input))
	}

	doc := analysis.FormatReport(*report)
	if out := c.String("out"); out != "" {
		if err := os.WriteFile(out, doc, 0o644); err != nil {
			return errors.WrapError(err, "write report %s", out)
		}
		fmt.Fprintf(r.stdout, "wrote %s\n", out)
		return nil
	}

	_, err = r.stdout.Write(doc)
	return err
}
