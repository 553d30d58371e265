package store

import "strings"

// NoMatchID replaces an empty identifier set so IN clauses stay well formed
// while matching nothing.
const NoMatchID = "\x00no-match"

// whereBuilder accumulates AND-ed conditions and their arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// in adds "col IN (?, ...)" substituting NoMatchID for an empty set.
func (w *whereBuilder) in(col string, ids []string) {
	if len(ids) == 0 {
		ids = []string{NoMatchID}
	}
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	w.conds = append(w.conds, col+" IN ("+ph+")")
	for _, id := range ids {
		w.args = append(w.args, id)
	}
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// Page bounds a newest-first listing. The zero Page returns every row.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) clause() (string, []any) {
	if p.Limit <= 0 {
		return "", nil
	}
	return " LIMIT ? OFFSET ?", []any{p.Limit, p.Offset}
}

// likePattern builds a folded substring LIKE pattern, escaping wildcards
// with a backslash. Match it against foldLike.
func likePattern(keyword string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(Fold(keyword)) + "%"
}

// foldLike compares the folded column against a likePattern argument.
// SQLite's own LIKE folds ASCII only, so both sides go through Fold.
func foldLike(col string) string {
	return "casefold(COALESCE(" + col + `, '')) LIKE ? ESCAPE '\'`
}

// Fold is the case folding used by keyword search, in SQL and in memory.
func Fold(s string) string {
	return strings.ToLower(s)
}

// orderAndLimit returns the ORDER BY / LIMIT tail. Newest queries are sorted
// descending so LIMIT keeps the newest rows; callers reverse the result.
func orderAndLimit(tsCol, idCol string, newest bool, limit int) (string, []any) {
	dir := "ASC"
	if newest {
		dir = "DESC"
	}
	tail := " ORDER BY COALESCE(" + tsCol + ", 0) " + dir + ", " + idCol + " " + dir
	if limit > 0 {
		return tail + " LIMIT ?", []any{limit}
	}
	return tail, nil
}
