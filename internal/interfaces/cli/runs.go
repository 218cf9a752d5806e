package cli

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

type runListResult dto.RunList

func (r runListResult) TableHeaders() []string { return []string{"Run"} }

func (r runListResult) TableRows() [][]string {
	rows := make([][]string, len(r.Runs))
	for i, id := range r.Runs {
		rows[i] = []string{id}
	}
	return rows
}

type runArtifactsResult dto.RunArtifacts

func (r runArtifactsResult) TableHeaders() []string {
	return []string{"Kind", "Size", "Content type", "Modified"}
}

func (r runArtifactsResult) TableRows() [][]string {
	rows := make([][]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		rows[i] = []string{a.Kind, strconv.FormatInt(a.Size, 10), a.ContentType, a.LastModified.Format("2006-01-02 15:04:05")}
	}
	return rows
}

// NewRunsCmd creates the runs command group over archived runs.
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived fragmentation runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived run ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			c, err := remoteClient(cliCtx)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			runs, err := c.Runs().List(ctx)
			if err != nil {
				return err
			}
			return PrintResult(cmd, runListResult(*runs))
		},
	}

	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show the artifacts of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			c, err := remoteClient(cliCtx)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			run, err := c.Runs().Get(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, runArtifactsResult(*run))
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("mmp %s (commit %s, built %s, %s %s)", v.Version, v.Commit, v.BuildDate, v.GoVersion, v.Platform)
}

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Version:   Version,
				Commit:    GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			cliCtx, err := GetCLIContext(cmd)
			if err == nil && cliCtx.OutputFormat == FormatJSON {
				return printJSON(cmd, info)
			}
			return printText(cmd, info)
		},
	}
}
