package cte

import (
	"fmt"
	"strings"

	"github.com/roach88/fhirsql/internal/dialect"
	"github.com/roach88/fhirsql/internal/translator"
)

// Builder wraps translator fragments into CTE queries. It holds
// configuration only and is safe for concurrent use.
type Builder struct {
	d     dialect.Dialect
	table string
}

// NewBuilder returns a Builder for the given dialect and driving table.
func NewBuilder(d dialect.Dialect, drivingTable string) *Builder {
	return &Builder{d: d, table: drivingTable}
}

// FragmentToCTE renders one fragment as a CTE reading from sourceTable.
//
// Unnest fragments yield one row per element of the array column, with the
// identity column and an ordering key. Aggregate fragments regroup the
// source per record of the driving table. Anything else is a projection
// over the source rows.
func (b *Builder) FragmentToCTE(f translator.Fragment, sourceTable string) (CTE, error) {
	name := f.Meta(translator.MetaCTEName)
	if name == "" {
		return CTE{}, newAssemblyError(ErrCodeMissingName, "", "fragment %q has no CTE name", f.Expression)
	}
	if sourceTable == "" {
		return CTE{}, newAssemblyError(ErrCodeEmptySourceTable, name, "CTE %s has no source table", name)
	}

	var (
		query string
		err   error
	)
	switch {
	case f.RequiresUnnest:
		query, err = b.wrapUnnest(name, f, sourceTable)
	case f.IsAggregate:
		query = b.wrapAggregate(f, sourceTable)
	default:
		query = b.wrapProjection(f, sourceTable)
	}
	if err != nil {
		return CTE{}, err
	}

	return CTE{
		Name:         name,
		Query:        query,
		Dependencies: b.dependencies(f, sourceTable),
	}, nil
}

// BuildCTEChain converts fragments in emission order. A fragment without a
// source table reads from the CTE before it, or from the driving table
// when it is first.
func (b *Builder) BuildCTEChain(fragments []translator.Fragment) ([]CTE, error) {
	ctes := make([]CTE, 0, len(fragments))
	previous := b.table
	for _, f := range fragments {
		source := f.SourceTable
		if source == "" {
			source = previous
		}
		c, err := b.FragmentToCTE(f, source)
		if err != nil {
			return nil, err
		}
		ctes = append(ctes, c)
		previous = c.Name
	}
	return ctes, nil
}

// BuildFinalSelect renders the statement returning one row per record of
// the driving table: the identity column and the record's result as a JSON
// array. A fragment that reads no table yields a single FROM-less row.
func (b *Builder) BuildFinalSelect(final translator.Fragment) string {
	alias := final.Meta(translator.MetaResultAlias)
	if alias == "" {
		alias = "result"
	}
	value := b.d.GenerateArrayAggregate(final.Expression, final.Meta(translator.MetaSourceOrd))

	if final.SourceTable == "" {
		return fmt.Sprintf("SELECT %s AS %s", value, alias)
	}

	id := b.idColumn(final)
	lines := []string{
		fmt.Sprintf("SELECT %s.%s AS %s, %s AS %s", b.table, id, id, value, alias),
		"FROM " + b.table,
	}
	if final.SourceTable != b.table {
		lines = append(lines, b.join(final.SourceTable, id))
	}
	lines = append(lines,
		fmt.Sprintf("GROUP BY %s.%s", b.table, id),
		fmt.Sprintf("ORDER BY %s.%s", b.table, id),
	)
	return strings.Join(lines, "\n")
}

func (b *Builder) wrapUnnest(name string, f translator.Fragment, source string) (string, error) {
	array := f.Meta(translator.MetaArrayColumn)
	if array == "" {
		return "", newAssemblyError(ErrCodeMissingArrayExpression, name,
			"unnest CTE %s has no array expression", name)
	}
	alias := f.Meta(translator.MetaElementAlias)
	if alias == "" {
		alias = "elem"
	}
	ordinal := f.Meta(translator.MetaOrdinal)
	if ordinal == "" {
		ordinal = b.d.GenerateOrdinalKey("''", b.d.UnnestOrdinal(alias))
	}
	id := b.idColumn(f)

	lines := []string{
		fmt.Sprintf("SELECT %s.%s AS %s, %s AS %s, %s AS %s",
			source, id, id, f.Expression, b.valueColumn(f), ordinal, translator.OrdColumn),
		"FROM " + b.d.GenerateLateralUnnest(source, array, alias),
	}
	if filter := f.Meta(translator.MetaFilter); filter != "" {
		lines = append(lines, "WHERE "+filter)
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Builder) wrapAggregate(f translator.Fragment, source string) string {
	id := b.idColumn(f)
	lines := []string{
		fmt.Sprintf("SELECT %s.%s AS %s, %s AS %s", b.table, id, id, f.Expression, b.valueColumn(f)),
		"FROM " + b.table,
	}
	if source != b.table {
		lines = append(lines, b.join(source, id))
	}
	lines = append(lines, fmt.Sprintf("GROUP BY %s.%s", b.table, id))
	return strings.Join(lines, "\n")
}

func (b *Builder) wrapProjection(f translator.Fragment, source string) string {
	id := b.idColumn(f)
	head := fmt.Sprintf("SELECT %s.%s AS %s, %s AS %s", source, id, id, f.Expression, b.valueColumn(f))
	if ord := f.Meta(translator.MetaSourceOrd); ord != "" {
		head += fmt.Sprintf(", %s AS %s", ord, translator.OrdColumn)
	}

	lines := []string{head, "FROM " + source}
	if filter := f.Meta(translator.MetaFilter); filter != "" {
		lines = append(lines, "WHERE "+filter)
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) join(source, id string) string {
	return fmt.Sprintf("LEFT JOIN %s ON %s.%s = %s.%s", source, source, id, b.table, id)
}

// dependencies are the fragment's declared CTEs plus the source it reads,
// unless that is the driving table.
func (b *Builder) dependencies(f translator.Fragment, source string) []string {
	var deps []string
	add := func(name string) {
		if name == "" || name == b.table {
			return
		}
		for _, d := range deps {
			if d == name {
				return
			}
		}
		deps = append(deps, name)
	}
	add(source)
	for _, d := range f.Dependencies {
		add(d)
	}
	return deps
}

func (b *Builder) idColumn(f translator.Fragment) string {
	if id := f.Meta(translator.MetaIDColumn); id != "" {
		return id
	}
	return "id"
}

func (b *Builder) valueColumn(f translator.Fragment) string {
	if alias := f.Meta(translator.MetaResultAlias); alias != "" {
		return alias
	}
	return translator.ValueColumn
}
