package translator

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrPopRootScope is the panic value when a caller pops the root variable
// scope. It always indicates a translator defect.
var ErrPopRootScope = errors.New("translator: cannot pop the root variable scope")

// Base describes the driving table: one row per record of ResourceType.
type Base struct {
	// ResourceType is the FHIR resource type held by the table.
	ResourceType string

	// Table is the driving table name.
	Table string

	// IDColumn is the record identity column. It is the grouping key for
	// every per-record regrouping.
	IDColumn string

	// ResourceColumn holds the resource JSON.
	ResourceColumn string
}

// scope is one frame of the variable stack. Frames are snapshots: pushing
// copies bindings, never aliases them.
type scope struct {
	bindings map[string]VariableBinding

	// opaque frames hide everything but the root frame.
	opaque bool
}

// rowSource is the relation the next translation step reads from.
type rowSource struct {
	// table is the relation name, "" for expressions that read no table.
	table string

	// expr is the value expression of one row before path navigation.
	expr string

	// ord is the row ordering column, "" when rows carry no order.
	ord string

	// dense is true when the relation has exactly one row per record of the
	// driving table.
	dense bool

	// path holds pending navigation steps relative to expr.
	path []string

	// collection marks a value that is read as a JSON array.
	collection bool

	typ  string
	kind Kind

	// choice is set right after navigating to a choice element, so that a
	// following ofType/as/is can select the typed property.
	choice *choiceRef
}

type choiceRef struct {
	parent string
	owner  string
	base   string
}

// pathString renders navigation steps as a JSON path: ["name", "[0]",
// "given"] becomes "$.name[0].given".
func pathString(path []string) string {
	var sb strings.Builder
	sb.WriteByte('$')
	for _, step := range path {
		if !strings.HasPrefix(step, "[") {
			sb.WriteByte('.')
		}
		sb.WriteString(step)
	}
	return sb.String()
}

// Context is the mutable state of one compilation. It is owned by a single
// Translate call and must not be shared between goroutines.
type Context struct {
	base   Base
	source rowSource
	scopes []scope

	cteCounter   int
	aliasCounter int

	fragments []Fragment
}

// NewContext creates a context over the driving table with the given root
// bindings (user variables, keyed by name including the % sigil).
func NewContext(base Base, root map[string]VariableBinding) *Context {
	ctx := &Context{
		base:   base,
		scopes: []scope{{bindings: maps.Clone(root)}},
	}
	if ctx.scopes[0].bindings == nil {
		ctx.scopes[0].bindings = make(map[string]VariableBinding)
	}
	ctx.source = ctx.baseSource()
	return ctx
}

func (c *Context) baseSource() rowSource {
	return rowSource{
		table: c.base.Table,
		expr:  c.base.Table + "." + c.base.ResourceColumn,
		dense: true,
		typ:   c.base.ResourceType,
		kind:  KindJSON,
	}
}

// Base returns the driving table description.
func (c *Context) Base() Base {
	return c.base
}

// CurrentTable returns the relation the next step reads from.
func (c *Context) CurrentTable() string {
	return c.source.table
}

// ParentPath returns the navigation accumulated on the current relation.
func (c *Context) ParentPath() []string {
	return slices.Clone(c.source.path)
}

// NextCTEName returns a fresh CTE name. Names are deterministic and
// monotonically increasing across the whole compilation, whatever the scope
// depth.
func (c *Context) NextCTEName() string {
	c.cteCounter++
	return fmt.Sprintf("cte_%d", c.cteCounter)
}

// NextAlias returns a fresh lateral alias.
func (c *Context) NextAlias() string {
	c.aliasCounter++
	return fmt.Sprintf("e%d", c.aliasCounter)
}

// PushVariableScope opens a scope. With preserveParent the new frame starts
// as a copy of the current one, so outer bindings stay visible until
// shadowed. Otherwise the frame starts empty and only root bindings remain
// reachable.
func (c *Context) PushVariableScope(preserveParent bool) {
	frame := scope{bindings: make(map[string]VariableBinding), opaque: !preserveParent}
	if preserveParent {
		frame.bindings = maps.Clone(c.scopes[len(c.scopes)-1].bindings)
	}
	c.scopes = append(c.scopes, frame)
}

// PopVariableScope closes the innermost scope. Popping the root scope is a
// caller defect and panics with ErrPopRootScope.
func (c *Context) PopVariableScope() {
	if len(c.scopes) <= 1 {
		panic(ErrPopRootScope)
	}
	c.scopes = c.scopes[:len(c.scopes)-1]
}

// ScopeDepth returns the number of open scopes, root included.
func (c *Context) ScopeDepth() int {
	return len(c.scopes)
}

// Bind sets a variable in the innermost scope.
func (c *Context) Bind(name string, b VariableBinding) {
	c.scopes[len(c.scopes)-1].bindings[name] = b
}

// Lookup resolves a variable innermost-first. An opaque frame ends the walk
// except for the root frame.
func (c *Context) Lookup(name string) (VariableBinding, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		frame := c.scopes[i]
		if b, ok := frame.bindings[name]; ok {
			return b, true
		}
		if frame.opaque {
			b, ok := c.scopes[0].bindings[name]
			return b, ok
		}
	}
	return VariableBinding{}, false
}

// WithScope runs fn inside a new scope holding bindings. The scope is popped
// on every exit path, including errors and panics.
func (c *Context) WithScope(preserveParent bool, bindings map[string]VariableBinding, fn func() error) error {
	c.PushVariableScope(preserveParent)
	depth := len(c.scopes)
	defer func() {
		if len(c.scopes) != depth {
			panic(fmt.Sprintf("translator: unbalanced variable scope (depth %d, want %d)", len(c.scopes), depth))
		}
		c.PopVariableScope()
	}()

	for _, name := range slices.Sorted(maps.Keys(bindings)) {
		c.Bind(name, bindings[name])
	}
	return fn()
}

// emit records a fragment that must become a CTE.
func (c *Context) emit(f Fragment) {
	c.fragments = append(c.fragments, f)
}

// Fragments returns the fragments emitted so far, in creation order.
func (c *Context) Fragments() []Fragment {
	out := make([]Fragment, len(c.fragments))
	for i, f := range c.fragments {
		out[i] = f.clone()
	}
	return out
}
