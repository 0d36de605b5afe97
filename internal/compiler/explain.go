package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/fhirsql/internal/translator"
)

// Step kinds reported by Explain.
const (
	StepUnnest     = "unnest"
	StepAggregate  = "aggregate"
	StepProjection = "projection"
)

// Step describes one CTE of a compiled statement.
type Step struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Source       string   `json:"source"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Explanation is a compiled statement with its CTE chain in execution
// order.
type Explanation struct {
	*Result
	Steps []Step `json:"steps"`
}

// Explain compiles expr and describes the CTE chain.
func (c *Compiler) Explain(expr string) (*Explanation, error) {
	node, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	res, fragments, err := c.compile(node)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]translator.Fragment, len(fragments))
	for _, f := range fragments {
		byName[f.Meta(translator.MetaCTEName)] = f
	}

	steps := make([]Step, 0, len(res.CTEs))
	for _, ct := range res.CTEs {
		f := byName[ct.Name]
		steps = append(steps, Step{
			Name:         ct.Name,
			Kind:         stepKind(f),
			Source:       f.SourceTable,
			Dependencies: ct.Dependencies,
		})
	}
	return &Explanation{Result: res, Steps: steps}, nil
}

func stepKind(f translator.Fragment) string {
	switch {
	case f.RequiresUnnest:
		return StepUnnest
	case f.IsAggregate:
		return StepAggregate
	default:
		return StepProjection
	}
}

// String renders the chain one step per line:
//
//	cte_1  unnest      patient
//	cte_2  aggregate   cte_1     <- cte_1
func (e *Explanation) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "expression: %s\n", e.Expression)
	if len(e.Steps) == 0 {
		sb.WriteString("no CTEs: the final select reads the driving table directly\n")
		return sb.String()
	}

	width := 0
	for _, s := range e.Steps {
		width = max(width, len(s.Name))
	}
	for i, s := range e.Steps {
		fmt.Fprintf(&sb, "%2d. %-*s  %-10s  from %s", i+1, width, s.Name, s.Kind, s.Source)
		if len(s.Dependencies) > 0 {
			fmt.Fprintf(&sb, "  <- %s", strings.Join(s.Dependencies, ", "))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
