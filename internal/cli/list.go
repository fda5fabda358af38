package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Tags []string
}

// ScenarioInfo describes one catalog entry.
type ScenarioInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
	UI          bool     `json:"ui"`
	Steps       int      `json:"steps"`
	Source      string   `json:"source"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list [scenario-id...]",
		Short: "List available scenarios",
		Long: `List the built-in scenarios and those under scenario_dir, with the
same selection rules as run.

Examples:
  petroverify list
  petroverify list --tag ui
  petroverify list 'control-center-*' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Tags, "tag", "t", nil, "only scenarios with every tag")

	return cmd
}

func runList(opts *ListOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, f)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg, f)
	if err != nil {
		return err
	}
	selected, err := catalog.Select(args, opts.Tags)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeSelection, "invalid selection", err)
	}

	infos := make([]ScenarioInfo, 0, len(selected))
	for _, sc := range selected {
		infos = append(infos, ScenarioInfo{
			ID:          sc.ID,
			Name:        sc.Name,
			Description: sc.Description,
			Tags:        append([]string{}, sc.Tags...),
			UI:          sc.UI,
			Steps:       len(sc.Steps),
			Source:      catalog.Source(sc.ID),
		})
	}

	if f.JSON() {
		return f.Success(infos)
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTEPS\tUI\tTAGS\tSOURCE")
	for _, in := range infos {
		ui := ""
		if in.UI {
			ui = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", in.ID, in.Steps, ui, strings.Join(in.Tags, ","), in.Source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(f.Writer, "\n%d scenario(s)\n", len(infos))
	return nil
}
