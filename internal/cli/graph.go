package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/petroverify/internal/workflow"
)

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the remediation workflow state machine as Graphviz DOT",
		Long: `Print the remediation workflow state machine that workflow scenarios
check the control center against.

Example:
  petroverify graph | dot -Tsvg > workflow.svg`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			dot := workflow.Graph()
			if f.JSON() {
				return f.Success(map[string]string{"dot": dot})
			}
			fmt.Fprint(f.Writer, dot)
			return nil
		},
	}
}
