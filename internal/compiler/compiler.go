// Package compiler runs the FHIRPath to SQL pipeline: parse, translate,
// build CTEs, assemble.
//
// A Compiler is configured once and safe for concurrent use. Every call
// builds a fresh translation context, so compilations share no state.
package compiler

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/fhirsql/internal/ast"
	"github.com/roach88/fhirsql/internal/cte"
	"github.com/roach88/fhirsql/internal/dialect"
	"github.com/roach88/fhirsql/internal/dialect/sqlite"
	"github.com/roach88/fhirsql/internal/parser"
	"github.com/roach88/fhirsql/internal/schema"
	"github.com/roach88/fhirsql/internal/translator"
	"github.com/roach88/fhirsql/internal/types"
)

// DefaultResourceType is the driving resource when Options leave it empty.
const DefaultResourceType = "Patient"

// Options configures a Compiler. The zero value compiles Patient
// expressions for SQLite against the embedded schema.
type Options struct {
	// Dialect spells the SQL. Defaults to SQLite.
	Dialect dialect.Dialect

	// Schema and Types default to the embedded catalogue.
	Schema *schema.Schema
	Types  *types.Registry

	// ResourceType names the driving resource. Defaults to Patient.
	ResourceType string

	// Table, IDColumn and ResourceColumn describe the driving table.
	// Defaults: lower-cased resource type, "id", "resource".
	Table          string
	IDColumn       string
	ResourceColumn string

	// Variables are bound as %name in every compilation.
	Variables map[string]any

	// SyntaxCheck, when set, validates every generated statement, for
	// example postgres.Validate.
	SyntaxCheck func(sql string) error

	// IDs generates compilation IDs. Defaults to UUIDv7Generator.
	IDs IDGenerator

	// Logger receives one debug event per compilation. Defaults to a
	// disabled logger.
	Logger *zerolog.Logger
}

// Result is one compiled expression.
type Result struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	SQL        string    `json:"sql"`
	CTEs       []cte.CTE `json:"ctes"`
}

// Compiler compiles FHIRPath expressions into SQL.
type Compiler struct {
	tr      *translator.Translator
	builder *cte.Builder
	dialect dialect.Dialect
	check   func(string) error
	ids     IDGenerator
	logger  zerolog.Logger
}

// New validates opts and returns a Compiler.
func New(opts Options) (*Compiler, error) {
	d := opts.Dialect
	if d == nil {
		d = sqlite.New()
	}
	resourceType := opts.ResourceType
	if resourceType == "" {
		resourceType = DefaultResourceType
	}

	tr, err := translator.New(translator.Config{
		Dialect: d,
		Schema:  opts.Schema,
		Types:   opts.Types,
		Base: translator.Base{
			ResourceType:   resourceType,
			Table:          opts.Table,
			IDColumn:       opts.IDColumn,
			ResourceColumn: opts.ResourceColumn,
		},
		Variables: opts.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}

	ids := opts.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Compiler{
		tr:      tr,
		builder: cte.NewBuilder(d, tr.Base().Table),
		dialect: d,
		check:   opts.SyntaxCheck,
		ids:     ids,
		logger:  logger,
	}, nil
}

// Dialect returns the target dialect.
func (c *Compiler) Dialect() dialect.Dialect {
	return c.dialect
}

// Base returns the driving table description.
func (c *Compiler) Base() translator.Base {
	return c.tr.Base()
}

// CompileString parses and compiles expr.
func (c *Compiler) CompileString(expr string) (*Result, error) {
	node, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	return c.Compile(node)
}

func parseExpr(expr string) (ast.Node, error) {
	node, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", expr, err)
	}
	return node, nil
}

// Compile translates node into a single SQL statement. It returns either a
// result or an error, never both.
func (c *Compiler) Compile(node ast.Node) (*Result, error) {
	res, _, err := c.compile(node)
	return res, err
}

func (c *Compiler) compile(node ast.Node) (*Result, []translator.Fragment, error) {
	if node == nil {
		return nil, nil, errors.New("compiler: nil expression")
	}
	start := time.Now()
	id := c.ids.Generate()
	expr := node.Source()

	res, fragments, err := c.run(id, node)

	evt := c.logger.Debug()
	if err != nil {
		evt = evt.Err(err)
	} else {
		evt = evt.Int("ctes", len(res.CTEs))
	}
	evt.
		Str("compilation_id", id).
		Str("expression", expr).
		Str("dialect", c.dialect.Name()).
		Dur("duration", time.Since(start)).
		Msg("compiled expression")

	if err != nil {
		return nil, nil, err
	}
	return res, fragments, nil
}

func (c *Compiler) run(id string, node ast.Node) (*Result, []translator.Fragment, error) {
	ctx := c.tr.NewContext()
	final, err := c.tr.Translate(ctx, node)
	if err != nil {
		return nil, nil, err
	}
	fragments := ctx.Fragments()

	ctes, err := c.builder.BuildCTEChain(fragments)
	if err != nil {
		return nil, nil, err
	}
	ordered, err := cte.Order(ctes)
	if err != nil {
		return nil, nil, err
	}
	sql, err := cte.AssembleQuery(ordered, c.builder.BuildFinalSelect(final))
	if err != nil {
		return nil, nil, err
	}

	if c.check != nil {
		if err := c.check(sql); err != nil {
			return nil, nil, fmt.Errorf("generated SQL failed syntax check: %w", err)
		}
	}

	return &Result{
		ID:         id,
		Expression: node.Source(),
		SQL:        sql,
		CTEs:       ordered,
	}, fragments, nil
}
