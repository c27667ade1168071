// Package runner executes one tagquery invocation from a validated config:
// open the store, select taggings, extract and sort, render, write.
package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"tagquery/internal/config"
	"tagquery/internal/extract"
	"tagquery/internal/fragment"
	"tagquery/internal/logging"
	"tagquery/internal/output"
	"tagquery/internal/provenance"
	"tagquery/internal/query"
	"tagquery/internal/report"
	"tagquery/internal/store"

	"go.uber.org/zap"
)

// Program is the name recorded in provenance blocks.
const Program = "tagquery"

// Exit codes by failure kind.
const (
	ExitOK           = 0
	ExitUsage        = 1
	ExitStorage      = 2
	ExitMalformed    = 3
	ExitOutOfRange   = 4
	ExitOutputSink   = 5
	exitUnclassified = 1
)

// Summary describes a completed run.
type Summary struct {
	Output   string // destination name
	Rows     int    // rows written
	Taggings int    // taggings in the whole file
	Elapsed  time.Duration
}

// Run executes the pipeline. stdout receives the report when cfg.Output is
// empty. Nothing is written to the report destination unless every row was
// extracted and sorted.
func Run(ctx context.Context, cfg *config.Config, stdout io.Writer, log *zap.Logger) (Summary, error) {
	start := time.Now()
	if log == nil {
		log = zap.NewNop()
	}
	boot := logging.Named(log, logging.CategoryBoot)

	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}

	sink := output.New(cfg.Output, stdout, log)

	var comments string
	if !cfg.NoComments {
		comments = provenance.Block(Program, cfg.Output, ProvenanceArgs(cfg))
		if sink.IsFile() {
			if err := sink.WriteLog(comments); err != nil {
				return Summary{}, err
			}
			boot.Debug("wrote provenance log", zap.String("path", output.LogPath(cfg.Output)))
		}
	}

	boot.Debug("opening store", zap.String("input", cfg.Input), zap.String("driver", cfg.Driver))
	st, err := store.Open(ctx, cfg.Input, store.WithDriver(cfg.Driver), store.WithLogger(log))
	if err != nil {
		return Summary{}, err
	}
	defer st.Close()

	rows, err := query.NewEngine(st, log).Taggings(ctx, cfg.Filters)
	if err != nil {
		return Summary{}, err
	}

	extracted, err := extract.New(cfg.Policy(), log).Extract(rows)
	if err != nil {
		return Summary{}, err
	}

	data, err := report.Bytes(extracted, report.Options{Comments: comments})
	if err != nil {
		return Summary{}, err
	}
	logging.Named(log, logging.CategoryReport).Debug("rendered report", zap.Int("rows", len(extracted)), zap.Int("bytes", len(data)))

	if err := sink.Write(data); err != nil {
		return Summary{}, err
	}

	total, err := st.Count(ctx, store.RelTagging)
	if err != nil {
		// The report is already written; the total is informational only.
		boot.Warn("could not count taggings", zap.Error(err))
		total = -1
	}

	return Summary{
		Output:   sink.Name(),
		Rows:     len(extracted),
		Taggings: total,
		Elapsed:  time.Since(start),
	}, nil
}

// ProvenanceArgs lists the options worth recording for cfg, in flag order.
// Options left at their defaults are omitted.
func ProvenanceArgs(cfg *config.Config) []provenance.Arg {
	def := config.DefaultConfig()
	args := []provenance.Arg{
		{Name: "infile", Value: cfg.Input},
		{Name: "outfile", Value: cfg.Output},
		{Name: "source", Value: cfg.Filters.Source},
		{Name: "source-category", Value: cfg.Filters.SourceCategory},
		{Name: "node", Value: cfg.Filters.Node},
		{Name: "node-category", Value: cfg.Filters.NodeCategory},
	}
	if cfg.Driver != def.Driver {
		args = append(args, provenance.Arg{Name: "driver", Value: cfg.Driver})
	}
	if cfg.OnMalformed != def.OnMalformed {
		args = append(args, provenance.Arg{Name: "on-malformed", Value: cfg.OnMalformed})
	}
	if cfg.OnOutOfRange != def.OnOutOfRange {
		args = append(args, provenance.Arg{Name: "on-out-of-range", Value: cfg.OnOutOfRange})
	}
	return args
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrInvalid):
		return ExitUsage
	case errors.Is(err, store.ErrStorage):
		return ExitStorage
	case errors.Is(err, fragment.ErrMalformed):
		return ExitMalformed
	case errors.Is(err, extract.ErrOutOfRange):
		return ExitOutOfRange
	case errors.Is(err, output.ErrSink):
		return ExitOutputSink
	default:
		return exitUnclassified
	}
}
