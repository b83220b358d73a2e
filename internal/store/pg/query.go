package pg

import "strconv"

// query accumulates WHERE clauses with positional $n placeholders.
type query struct {
	sql  string
	args []any
}

func newQuery(base string) *query {
	return &query{sql: base + ` WHERE TRUE`}
}

func (q *query) where(column string, arg any) {
	q.whereOp(column, "=", arg)
}

func (q *query) whereOp(column, op string, arg any) {
	q.args = append(q.args, arg)
	q.sql += ` AND ` + column + ` ` + op + ` $` + strconv.Itoa(len(q.args))
}

func (q *query) orderBy(clause string) {
	q.sql += ` ORDER BY ` + clause
}

func (q *query) limit(n int) {
	if n > 0 {
		q.args = append(q.args, n)
		q.sql += ` LIMIT $` + strconv.Itoa(len(q.args))
	}
}
