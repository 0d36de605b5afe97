package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	compileFlags
	Output string // output file path
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <expression>",
		Short: "Compile an expression to SQL",
		Long: `Compile a FHIRPath expression into one SQL statement.

The statement returns one row per resource of the driving table with
columns id and result, where result is the expression's collection as a
JSON array.

Examples:
  fhirsql compile "Patient.name.given"
  fhirsql compile "Patient.name.where(use = 'official').family" --dialect postgres --check
  fhirsql compile "Observation.value.ofType(Quantity).value" -r Observation -o query.sql`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	opts.register(cmd, true)
	cmd.Flags().BoolVar(&opts.Check, "check", false, "validate the statement with the PostgreSQL parser (postgres dialect only)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the SQL to a file")

	return cmd
}

func runCompile(opts *CompileOptions, expr string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c, err := opts.compiler(cmd, opts.compileFlags)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Compiling for %s against %s", c.Dialect().Name(), c.Base().Table)

	res, err := c.CompileString(expr)
	if err != nil {
		return formatter.FailExpression(err)
	}
	formatter.VerboseLog("Compilation %s: %d CTE(s)", res.ID, len(res.CTEs))

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(res.SQL+"\n"), 0o644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return formatter.Success(res, func(w io.Writer) {
		if opts.Output != "" {
			fmt.Fprintf(w, "✓ Wrote %s (%d CTE(s))\n", opts.Output, len(res.CTEs))
			return
		}
		fmt.Fprintln(w, res.SQL)
	})
}
