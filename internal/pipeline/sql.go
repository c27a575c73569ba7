package pipeline

import (
	"fmt"
	"strings"
)

// CaseExpr compiles the classification table to a SQL CASE expression over
// a LEFT JOINed stage row aliased as alias. The expression yields the
// category name as text and never NULL.
//
// The stage table is expected to carry id, name, is_final and category
// columns. Keywords are inlined as literals; they come from the table, not
// from callers.
func CaseExpr(alias string) string {
	return caseExpr(Rules, alias)
}

func caseExpr(rules []Rule, alias string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, r := range rules {
		switch r.Match {
		case MatchNoStage:
			fmt.Fprintf(&b, " WHEN %s.id IS NULL THEN %s", alias, quote(string(r.Category)))
		case MatchFinal:
			fmt.Fprintf(&b, " WHEN %s.is_final = 1 THEN %s", alias, quote(string(r.Category)))
		case MatchExplicit:
			allowed := make([]string, 0, 4)
			for _, c := range ExplicitCategories() {
				allowed = append(allowed, quote(string(c)))
			}
			fmt.Fprintf(&b, " WHEN %s.category IN (%s) THEN %s.category", alias, strings.Join(allowed, ", "), alias)
		case MatchName:
			conds := make([]string, 0, len(r.Keywords))
			for _, kw := range r.Keywords {
				conds = append(conds, fmt.Sprintf("lower(%s.name) LIKE %s", alias, quote("%"+asciiLower(kw)+"%")))
			}
			fmt.Fprintf(&b, " WHEN %s THEN %s", strings.Join(conds, " OR "), quote(string(r.Category)))
		case MatchAny:
			fmt.Fprintf(&b, " ELSE %s", quote(string(r.Category)))
		}
	}
	b.WriteString(" END")
	return b.String()
}

// OpenExpr is a SQL predicate that holds when the stage is absent or not
// final.
func OpenExpr(alias string) string {
	return fmt.Sprintf("(%s.id IS NULL OR %s.is_final = 0)", alias, alias)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
