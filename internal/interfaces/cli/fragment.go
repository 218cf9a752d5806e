package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/platform"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

type fragmentOptions struct {
	input    string
	output   string
	failures string
	workers  int
	maxCuts  int
	sinks    []string
	header   bool
	remote   bool
}

// NewFragmentCmd creates the fragment command.
func NewFragmentCmd() *cobra.Command {
	opts := &fragmentOptions{}
	cmd := &cobra.Command{
		Use:   "fragment",
		Short: "Fragment a molecule file into core/side-chain records",
		Long: "Reads a SMILES table or SD file and writes one CSV line\n" +
			"smiles,id,core,side_chains per fragmentation.  Records also go to\n" +
			"every sink named by --sink (or sinks.enabled in the config).",
		Example: "  mmp fragment -i compounds.smi -o fragments.csv --max-cuts 2\n" +
			"  cat compounds.smi | mmp fragment --sink postgres,kafka > fragments.csv",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFragment(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "-", "input file; - reads stdin")
	f.StringVarP(&opts.output, "output", "o", "-", "output CSV file; - writes stdout")
	f.StringVar(&opts.failures, "failures", "", "write failure markers (smiles,id,code,reason) to this file")
	f.IntVar(&opts.workers, "workers", 0, "molecules fragmented in parallel (default: mmp.workers)")
	f.IntVar(&opts.maxCuts, "max-cuts", 0, "maximum bonds cut per fragmentation, 1-3 (default: mmp.max_cuts)")
	f.StringSliceVar(&opts.sinks, "sink", nil, "record sinks: postgres, kafka, neo4j, opensearch, minio (default: sinks.enabled)")
	f.BoolVar(&opts.header, "header", false, "write a column header line")
	f.BoolVar(&opts.remote, "remote", false, "fragment on the API server instead of in-process")
	return cmd
}

// effectiveConfig applies the command flags to a copy of the loaded config.
func (o *fragmentOptions) effectiveConfig(cmd *cobra.Command, base *config.Config) (*config.Config, error) {
	cfg := *base
	if cmd.Flags().Changed("workers") {
		cfg.MMP.Workers = o.workers
	}
	if cmd.Flags().Changed("max-cuts") {
		cfg.MMP.MaxCuts = o.maxCuts
	}
	if cmd.Flags().Changed("sink") {
		cfg.Sinks.Enabled = o.sinks
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid fragment options")
	}
	return &cfg, nil
}

func runFragment(cmd *cobra.Command, opts *fragmentOptions) (err error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg, err := opts.effectiveConfig(cmd, cliCtx.Config)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()

	in, closeIn, err := openInput(cmd, opts.input)
	if err != nil {
		return err
	}
	defer closeIn()
	inputs, err := mmp.ReadInputs(in, molecule.NewProvider())
	if err != nil {
		return err
	}
	cliCtx.Logger.Debug("input read",
		logging.String("format", string(inputs.Format)),
		logging.Bool("header", inputs.HasHeader),
		logging.Int("molecules", len(inputs.Molecules)))

	out, closeOut, err := createOutput(cmd, opts.output)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeOut()) }()

	var failures io.Writer
	if opts.failures != "" {
		fw, closeFailures, ferr := createOutput(cmd, opts.failures)
		if ferr != nil {
			return ferr
		}
		defer func() { err = multierr.Append(err, closeFailures()) }()
		failures = fw
	}

	var summary *dto.RunSummary
	if opts.remote {
		summary, err = fragmentRemote(ctx, cliCtx, cfg, inputs.Molecules, out, failures, opts.header)
	} else {
		summary, err = fragmentLocal(ctx, cliCtx, cfg, inputs.Molecules, mmp.SinkDeps{Output: out, Failures: failures, Header: opts.header})
	}
	if err != nil {
		return err
	}
	printSummary(cmd, summary)
	return nil
}

func fragmentLocal(ctx context.Context, cliCtx *CLIContext, cfg *config.Config, molecules []fragment.Molecule, csv mmp.SinkDeps) (*dto.RunSummary, error) {
	backends, err := platform.Open(ctx, cfg, platform.SinkNeeds(cfg), cliCtx.Logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := backends.Close(); cerr != nil {
			cliCtx.Logger.Warn("closing backends failed", logging.Err(cerr))
		}
	}()

	deps := backends.SinkDeps(nil)
	deps.Output, deps.Failures, deps.Header = csv.Output, csv.Failures, csv.Header

	runID := uuid.New()
	sink, err := mmp.BuildSink(cfg, deps, runID.String())
	if err != nil {
		return nil, err
	}
	engine := mmp.BuildEngine(cfg.MMP, cfg.MMP.MaxCuts, backends.EngineDeps(nil, cliCtx.Logger))
	svc := mmp.NewService(engine, mmp.ServiceConfigFrom(cfg.MMP), nil, cliCtx.Logger)

	summary, err := svc.Run(ctx, molecules, sink, mmp.WithRunID(runID), mmp.WithSource("cli"))
	if err != nil {
		return nil, err
	}
	s := mmp.SummaryDTO(summary)
	return &s, nil
}

// fragmentRemote posts the whole batch to the API server and writes the
// returned records as CSV.  Server-side sinks apply; --sink does not.
func fragmentRemote(ctx context.Context, cliCtx *CLIContext, cfg *config.Config, molecules []fragment.Molecule, out, failures io.Writer, header bool) (*dto.RunSummary, error) {
	c, err := remoteClient(cliCtx)
	if err != nil {
		return nil, err
	}
	req := &dto.FragmentRequest{MaxCuts: cfg.MMP.MaxCuts, Molecules: make([]dto.MoleculeInput, len(molecules))}
	for i, m := range molecules {
		req.Molecules[i] = dto.MoleculeInput{SMILES: m.Text, CompoundID: m.CompoundID}
	}
	resp, err := c.Fragments().Fragment(ctx, req)
	if err != nil {
		return nil, err
	}

	sink, err := mmp.NewCSVSink(out, failures, header)
	if err != nil {
		return nil, err
	}
	for _, r := range resp.Records {
		rec := fragment.Record{OriginalIdentifier: r.OriginalIdentifier, CompoundID: r.CompoundID, Core: r.Core, SideChains: r.SideChains}
		if err := sink.Accept(ctx, rec); err != nil {
			return nil, err
		}
	}
	for _, f := range resp.Failures {
		fail := fragment.Failure{OriginalIdentifier: f.OriginalIdentifier, CompoundID: f.CompoundID, Code: errors.ErrorCode(f.Code), Reason: f.Reason}
		if err := sink.AcceptFailure(ctx, fail); err != nil {
			return nil, err
		}
	}
	if err := sink.Flush(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMMPSinkFailed, "cannot write output")
	}
	return &resp.Summary, nil
}

func printSummary(cmd *cobra.Command, s *dto.RunSummary) {
	failed := fmt.Sprint(s.Failed)
	if s.Failed > 0 {
		failed = color.YellowString(failed)
	}
	PrintSuccess(cmd, fmt.Sprintf("run %s: %d molecules, %d records, %d without cuts, %s failed (%s)",
		s.RunID, s.Molecules, s.Records, s.NoCuts, failed, s.Duration.Round(time.Millisecond)))
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeMMPInputUnreadable, "cannot open input "+path)
	}
	return f, func() { _ = f.Close() }, nil
}

func createOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return nil, nil, errors.Newf(errors.ErrCodeValidation, "output %s is a directory", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeMMPSinkFailed, "cannot create "+path)
	}
	return f, f.Close, nil
}
