package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fhirsql/internal/compiler"
	"github.com/roach88/fhirsql/internal/config"
	"github.com/roach88/fhirsql/internal/schema"
	"github.com/roach88/fhirsql/internal/types"
)

// settings are the loaded configuration shared by every command of one
// invocation.
type settings struct {
	cfg    *config.Config
	schema *schema.Schema
}

// load reads the configuration and the optional schema file once.
func (o *RootOptions) load() (*settings, error) {
	if o.settings != nil {
		return o.settings, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}

	s := &settings{cfg: cfg}
	if cfg.SchemaFile != "" {
		s.schema, err = schema.LoadFile(cfg.SchemaFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "loading schema", err)
		}
	}
	o.settings = s
	return s, nil
}

func (o *RootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	if o.settings == nil {
		return zerolog.Nop()
	}
	return o.settings.cfg.Logger(cmd.ErrOrStderr())
}

// compileFlags are the flags shared by commands that compile.
type compileFlags struct {
	Dialect  string
	Resource string
	Vars     string
	Check    bool
}

func (f *compileFlags) register(cmd *cobra.Command, withDialect bool) {
	if withDialect {
		cmd.Flags().StringVarP(&f.Dialect, "dialect", "d", "", "target dialect (sqlite|postgres); default from config")
	}
	cmd.Flags().StringVarP(&f.Resource, "resource", "r", "", "driving resource type; default from config")
	cmd.Flags().StringVar(&f.Vars, "vars", "", "YAML or JSON file of %variables")
}

// compiler builds a compiler from the configuration overlaid with flags.
func (o *RootOptions) compiler(cmd *cobra.Command, f compileFlags) (*compiler.Compiler, error) {
	s, err := o.load()
	if err != nil {
		return nil, err
	}
	cfg := s.cfg

	name := f.Dialect
	if name == "" {
		name = cfg.Dialect
	}
	d, err := compiler.DialectByName(name)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --dialect", err)
	}

	opts := compiler.Options{
		Dialect:        d,
		ResourceType:   cfg.ResourceType,
		Table:          cfg.Table,
		IDColumn:       cfg.IDColumn,
		ResourceColumn: cfg.ResourceColumn,
	}
	if f.Resource != "" && f.Resource != cfg.ResourceType {
		opts.ResourceType = f.Resource
		opts.Table = ""
	}
	if s.schema != nil {
		opts.Schema = s.schema
		opts.Types = types.NewRegistry(s.schema)
	}
	if f.Check {
		opts.SyntaxCheck = compiler.SyntaxCheckFor(d)
		if opts.SyntaxCheck == nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--check is not available for dialect %s", d.Name()))
		}
	}
	if f.Vars != "" {
		opts.Variables, err = loadVariables(f.Vars)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "loading --vars", err)
		}
	}

	logger := o.logger(cmd)
	opts.Logger = &logger

	c, err := compiler.New(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "creating compiler", err)
	}
	return c, nil
}

// loadVariables reads a mapping of variable names to scalar values. JSON
// documents are valid YAML, so one decoder reads both.
func loadVariables(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return vars, nil
	}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for name, v := range vars {
		switch v.(type) {
		case nil, string, bool, int, float64:
		default:
			return nil, fmt.Errorf("variable %q: %T is not a scalar", name, v)
		}
	}
	return vars, nil
}
