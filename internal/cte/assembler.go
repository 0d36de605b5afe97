package cte

import (
	"regexp"
	"strings"
)

var stringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)

// AssembleQuery orders ctes by dependency and renders one statement:
// a WITH clause followed by finalSelect. Without CTEs the final select is
// returned as is.
//
// Every CTE name a query mentions outside string literals must be a
// declared dependency, and every dependency must be defined.
func AssembleQuery(ctes []CTE, finalSelect string) (string, error) {
	ordered, err := Order(ctes)
	if err != nil {
		return "", err
	}
	if len(ordered) == 0 {
		return finalSelect, nil
	}

	var sb strings.Builder
	sb.WriteString("WITH\n")
	for i, c := range ordered {
		sb.WriteString("  ")
		sb.WriteString(c.Name)
		sb.WriteString(" AS (\n")
		for _, line := range strings.Split(c.Query, "\n") {
			sb.WriteString("    ")
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteString("  )")
		if i < len(ordered)-1 {
			sb.WriteByte(',')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(finalSelect)
	return sb.String(), nil
}

// Order returns ctes sorted so that each CTE follows its dependencies,
// after checking that declared and actual references agree.
func Order(ctes []CTE) ([]CTE, error) {
	ordered, err := order(ctes)
	if err != nil {
		return nil, err
	}
	if err := checkReferences(ctes); err != nil {
		return nil, err
	}
	return ordered, nil
}

// checkReferences rejects queries that read a CTE without declaring it.
func checkReferences(ctes []CTE) error {
	patterns := make([]*regexp.Regexp, len(ctes))
	for i, c := range ctes {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(c.Name) + `\b`)
	}

	for _, c := range ctes {
		body := stringLiteral.ReplaceAllString(c.Query, "''")
		declared := make(map[string]bool, len(c.Dependencies))
		for _, d := range c.Dependencies {
			declared[d] = true
		}
		for i, other := range ctes {
			if other.Name == c.Name || declared[other.Name] {
				continue
			}
			if patterns[i].MatchString(body) {
				return newAssemblyError(ErrCodeUndeclaredReference, c.Name,
					"CTE %s reads %s without declaring it", c.Name, other.Name)
			}
		}
	}
	return nil
}
