package postgres

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// Validate parses sql with the PostgreSQL grammar and checks that it is a
// single SELECT whose statement and CTEs carry no LIMIT clause. A LIMIT on
// the driving query would truncate the population instead of selecting one
// element per record.
func Validate(sql string) error {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("postgres syntax: %w", err)
	}
	if len(tree.Stmts) != 1 {
		return fmt.Errorf("postgres syntax: expected one statement, got %d", len(tree.Stmts))
	}

	sel := tree.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil {
		return fmt.Errorf("postgres syntax: expected a SELECT statement")
	}
	if sel.LimitCount != nil {
		return fmt.Errorf("postgres syntax: final SELECT must not use LIMIT")
	}

	if sel.WithClause == nil {
		return nil
	}
	for _, node := range sel.WithClause.Ctes {
		cte := node.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		if inner := cte.Ctequery.GetSelectStmt(); inner != nil && inner.LimitCount != nil {
			return fmt.Errorf("postgres syntax: CTE %s must not use LIMIT", cte.Ctename)
		}
	}
	return nil
}
