package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fhirsql/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	compileFlags
	Data        []string
	DatabaseURL string
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	ID   string      `json:"id"`
	SQL  string      `json:"sql"`
	Rows []store.Row `json:"rows"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <expression>",
		Short: "Compile an expression and execute it",
		Long: `Compile a FHIRPath expression and execute it against a database.

Without --database-url the statement runs on SQLite (FHIRSQL_SQLITE_PATH,
in memory by default) after loading the --data files. With a PostgreSQL
URL it is compiled for PostgreSQL and the files are loaded there.

Data files hold a resource, a JSON array of resources, a Bundle or NDJSON.

Examples:
  fhirsql run "Patient.name.given" --data patients.ndjson
  fhirsql run "Patient.name.count() >= %min" --data bundle.json --vars vars.yaml
  fhirsql run "Patient.birthDate" --database-url postgres://localhost/fhir`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	opts.register(cmd, false)
	cmd.Flags().StringSliceVar(&opts.Data, "data", nil, "resource files to load before running (repeatable)")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL connection URL")

	return cmd
}

func runRun(opts *RunOptions, expr string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	s, err := opts.load()
	if err != nil {
		return err
	}

	exec, dialectName, err := openExecutor(ctx, s.cfg, opts.DatabaseURL)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	defer exec.Close()
	formatter.VerboseLog("Executing on %s", dialectName)

	if err := loadData(ctx, exec, opts.Data, formatter); err != nil {
		return err
	}

	flags := opts.compileFlags
	flags.Dialect = dialectName
	c, err := opts.compiler(cmd, flags)
	if err != nil {
		return err
	}
	if err := exec.EnsureTable(ctx, c.Base().ResourceType); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}

	res, err := c.CompileString(expr)
	if err != nil {
		return formatter.FailExpression(err)
	}
	rows, err := exec.Query(ctx, res.SQL)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeExecFailed, err.Error(), map[string]string{"sql": res.SQL})
	}
	formatter.VerboseLog("Compilation %s returned %d row(s)", res.ID, len(rows))

	return formatter.Success(RunResult{ID: res.ID, SQL: res.SQL, Rows: rows}, func(w io.Writer) {
		writeRows(w, rows)
	})
}

// writeRows prints one "<id>\t<result>" line per row. Statements that read
// no table have an empty id, printed as "-".
func writeRows(w io.Writer, rows []store.Row) {
	for _, r := range rows {
		id := r.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "%s\t%s\n", id, r.Result)
	}
}
