package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fhirsql/internal/translator"
	"github.com/roach88/fhirsql/internal/types"
)

// TypesResult is the JSON payload of the types command.
type TypesResult struct {
	Types     []string `json:"types"`
	Functions []string `json:"functions,omitempty"`
}

// NewTypesCommand creates the types command.
func NewTypesCommand(rootOpts *RootOptions) *cobra.Command {
	var functions bool

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List type names usable in is, as and ofType()",
		Long: `List the canonical type names of the schema. Aliases such as
FHIR.Quantity or System.String resolve to these names.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			s, err := rootOpts.load()
			if err != nil {
				return err
			}

			reg := types.Default()
			if s.schema != nil {
				reg = types.NewRegistry(s.schema)
			}
			result := TypesResult{Types: reg.AllTypeNames()}
			if functions {
				result.Functions = translator.FunctionNames()
			}

			return formatter.Success(result, func(w io.Writer) {
				for _, name := range result.Types {
					fmt.Fprintln(w, name)
				}
				if functions {
					fmt.Fprintln(w)
					for _, name := range result.Functions {
						fmt.Fprintf(w, "%s()\n", name)
					}
				}
			})
		},
	}

	cmd.Flags().BoolVar(&functions, "functions", false, "also list supported functions")
	return cmd
}
