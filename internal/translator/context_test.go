package translator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBase() Base {
	return Base{ResourceType: "Patient", Table: "patient", IDColumn: "id", ResourceColumn: "resource"}
}

func binding(expr string) VariableBinding {
	return VariableBinding{Expression: expr, Kind: KindScalar}
}

func TestContext_PopRootScope(t *testing.T) {
	ctx := NewContext(testBase(), nil)
	assert.Equal(t, 1, ctx.ScopeDepth())
	assert.PanicsWithValue(t, ErrPopRootScope, func() { ctx.PopVariableScope() })
	assert.Equal(t, 1, ctx.ScopeDepth())
}

func TestContext_PreservingScopeShadows(t *testing.T) {
	ctx := NewContext(testBase(), map[string]VariableBinding{"%min": binding("1")})

	ctx.PushVariableScope(true)
	ctx.Bind("$this", binding("outer"))

	ctx.PushVariableScope(true)
	b, ok := ctx.Lookup("$this")
	require.True(t, ok)
	assert.Equal(t, "outer", b.Expression)

	ctx.Bind("$this", binding("inner"))
	b, _ = ctx.Lookup("$this")
	assert.Equal(t, "inner", b.Expression)

	ctx.PopVariableScope()
	b, _ = ctx.Lookup("$this")
	assert.Equal(t, "outer", b.Expression, "inner binding must not leak")

	ctx.PopVariableScope()
	_, ok = ctx.Lookup("$this")
	assert.False(t, ok)

	b, ok = ctx.Lookup("%min")
	require.True(t, ok)
	assert.Equal(t, "1", b.Expression)
}

func TestContext_OpaqueScopeSeesOnlyRoot(t *testing.T) {
	ctx := NewContext(testBase(), map[string]VariableBinding{"%min": binding("1")})
	ctx.PushVariableScope(true)
	ctx.Bind("$this", binding("outer"))

	ctx.PushVariableScope(false)
	_, ok := ctx.Lookup("$this")
	assert.False(t, ok)
	_, ok = ctx.Lookup("%min")
	assert.True(t, ok)
}

func TestContext_WithScopePopsOnError(t *testing.T) {
	ctx := NewContext(testBase(), nil)
	boom := errors.New("boom")

	err := ctx.WithScope(true, map[string]VariableBinding{"$this": binding("x")}, func() error {
		assert.Equal(t, 2, ctx.ScopeDepth())
		b, ok := ctx.Lookup("$this")
		assert.True(t, ok)
		assert.Equal(t, "x", b.Expression)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ctx.ScopeDepth())
}

func TestContext_WithScopeDetectsImbalance(t *testing.T) {
	ctx := NewContext(testBase(), nil)
	assert.Panics(t, func() {
		_ = ctx.WithScope(true, nil, func() error {
			ctx.PushVariableScope(true)
			return nil
		})
	})
}

func TestContext_Counters(t *testing.T) {
	ctx := NewContext(testBase(), nil)
	assert.Equal(t, "cte_1", ctx.NextCTEName())
	assert.Equal(t, "cte_2", ctx.NextCTEName())
	assert.Equal(t, "e1", ctx.NextAlias())

	ctx.PushVariableScope(true)
	assert.Equal(t, "cte_3", ctx.NextCTEName(), "counters are independent of scope depth")
	assert.Equal(t, "e2", ctx.NextAlias())

	other := NewContext(testBase(), nil)
	assert.Equal(t, "cte_1", other.NextCTEName())
}

func TestContext_SourceAccessors(t *testing.T) {
	ctx := NewContext(testBase(), nil)
	assert.Equal(t, "patient", ctx.CurrentTable())
	assert.Empty(t, ctx.ParentPath())
	assert.Empty(t, ctx.Fragments())
}

func TestPathString(t *testing.T) {
	assert.Equal(t, "$", pathString(nil))
	assert.Equal(t, "$.name[0].given", pathString([]string{"name", "[0]", "given"}))
}
