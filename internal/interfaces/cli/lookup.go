package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// pairsResult renders stored records sharing one core.
type pairsResult dto.PairsResponse

func (p pairsResult) TableHeaders() []string {
	return []string{"Compound", "SMILES", "Side chains", "Cuts"}
}

func (p pairsResult) TableRows() [][]string {
	rows := make([][]string, len(p.Records))
	for i, r := range p.Records {
		rows[i] = []string{r.CompoundID, truncate(r.OriginalIdentifier, 50), r.SideChains, strconv.Itoa(r.CutCount)}
	}
	return rows
}

type neighboursResult dto.NeighboursResponse

func (n neighboursResult) TableHeaders() []string { return []string{"Compound", "Shared cores"} }

func (n neighboursResult) TableRows() [][]string {
	rows := make([][]string, len(n.Neighbours))
	for i, nb := range n.Neighbours {
		rows[i] = []string{nb.CompoundID, strconv.FormatInt(nb.SharedCores, 10)}
	}
	return rows
}

type searchResult dto.SearchResponse

func (s searchResult) TableHeaders() []string {
	return []string{"Run", "Compound", "Core", "Side chains"}
}

func (s searchResult) TableRows() [][]string {
	rows := make([][]string, len(s.Hits))
	for i, h := range s.Hits {
		rows[i] = []string{truncate(h.RunID, 13), h.Record.CompoundID, truncate(h.Record.Core, 50), h.Record.SideChains}
	}
	return rows
}

// NewPairsCmd creates the pairs command.
func NewPairsCmd() *cobra.Command {
	var (
		core  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "List stored records sharing a core (matched molecular pairs)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if err := (&dto.PairsRequest{Core: core, Limit: limit}).Validate(); err != nil {
				return err
			}
			c, err := remoteClient(cliCtx)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			resp, err := c.Fragments().Pairs(ctx, core, limit)
			if err != nil {
				return err
			}
			if len(resp.Records) == 0 && cliCtx.OutputFormat != FormatJSON {
				fmt.Fprintf(cmd.ErrOrStderr(), "no records with core %s\n", core)
				return nil
			}
			return PrintResult(cmd, pairsResult(*resp))
		},
	}
	cmd.Flags().StringVar(&core, "core", "", "core SMILES with [*:n] attachment labels (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records (default: server default)")
	_ = cmd.MarkFlagRequired("core")
	return cmd
}

// NewNeighboursCmd creates the neighbours command.
func NewNeighboursCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "neighbours <compound-id>",
		Short: "List compounds sharing at least one core with a compound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if limit < 0 {
				return errors.New(errors.ErrCodeValidation, "limit must not be negative")
			}
			c, err := remoteClient(cliCtx)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			resp, err := c.Fragments().Neighbours(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return PrintResult(cmd, neighboursResult(*resp))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum neighbours (default: server default)")
	return cmd
}

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	req := &dto.SearchRequest{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search indexed fragment records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			c, err := remoteClient(cliCtx)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			resp, err := c.Fragments().Search(ctx, req)
			if err != nil {
				return err
			}
			if err := PrintResult(cmd, searchResult(*resp)); err != nil {
				return err
			}
			if cliCtx.OutputFormat == FormatTable {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d hits (%d ms)\n", len(resp.Hits), resp.Total, resp.TookMs)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.RunID, "run", "", "restrict to one run id")
	f.StringVar(&req.Core, "core", "", "exact core")
	f.StringVar(&req.CompoundID, "compound", "", "exact compound id")
	f.StringVar(&req.SideChain, "side-chain", "", "side-chain text")
	f.IntVar(&req.MaxCuts, "max-cuts", 0, "restrict to records with this many cuts")
	f.IntVar(&req.From, "from", 0, "offset of the first hit")
	f.IntVar(&req.Size, "size", 0, "page size (default: server default)")
	return cmd
}
