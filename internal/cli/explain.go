package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	compileFlags
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <expression>",
		Short: "Show the CTE chain an expression compiles to",
		Long: `Compile an expression and list its CTEs in assembly order: the kind of
each step (unnest, aggregate, projection), the table it reads and the
CTEs it depends on.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			c, err := opts.compiler(cmd, opts.compileFlags)
			if err != nil {
				return err
			}
			exp, err := c.Explain(args[0])
			if err != nil {
				return formatter.FailExpression(err)
			}
			return formatter.Success(exp, func(w io.Writer) {
				io.WriteString(w, exp.String())
			})
		},
	}

	opts.register(cmd, true)
	return cmd
}
