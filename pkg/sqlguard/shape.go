package sqlguard

import (
	"strings"

	"github.com/spendlens/spendlens/pkg/errors"
)

// outerShape describes the clause layout of the outermost query in a
// masked SQL string. For WITH chains it describes the final outer
// SELECT, never an intermediate CTE body (those are inside parens and
// therefore below depth 0).
type outerShape struct {
	selectKw  int  // byte offset of the outer SELECT keyword
	end       int  // exclusive end of the statement, before any trailing ';'
	whereKw   int  // offset of the outer WHERE keyword, -1 when absent
	predStart int  // predicate span when whereKw >= 0
	predEnd   int
	insertPos int  // where a WHERE clause would be inserted when absent
	hasSetOp  bool // UNION/INTERSECT/EXCEPT at the outer level
}

// clause keywords that terminate the outer WHERE predicate and mark the
// insertion point for a missing WHERE.
var trailingClauses = map[string]bool{
	"GROUP":   true,
	"HAVING":  true,
	"ORDER":   true,
	"LIMIT":   true,
	"OFFSET":  true,
	"FETCH":   true,
	"QUALIFY": true,
	"WINDOW":  true,
}

var setOps = map[string]bool{
	"UNION":     true,
	"INTERSECT": true,
	"EXCEPT":    true,
}

// stmtEnd returns the exclusive end of the first statement in masked
// text: the offset of the first semicolon, or the trimmed length.
func stmtEnd(masked string) int {
	if i := strings.IndexByte(masked, ';'); i >= 0 {
		return i
	}
	end := len(masked)
	for end > 0 {
		switch masked[end-1] {
		case ' ', '\t', '\n', '\r':
			end--
		default:
			return end
		}
	}
	return end
}

// analyzeOuter locates the outermost query's clause structure. The
// masked text must already be known to balance its parentheses.
func analyzeOuter(masked string) (outerShape, error) {
	sh := outerShape{whereKw: -1, predStart: -1, predEnd: -1}
	sh.end = stmtEnd(masked)

	// The outer SELECT is the first SELECT at paren depth 0; CTE bodies
	// and subqueries always sit inside parentheses.
	depth := 0
	i := 0
	for i < sh.end {
		c := masked[i]
		switch {
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case isWordByte(c) && (c < '0' || c > '9'):
			j := i
			for j < sh.end && isWordByte(masked[j]) {
				j++
			}
			if depth == 0 && strings.ToUpper(masked[i:j]) == "SELECT" {
				sh.selectKw = i
				i = j
				goto outer
			}
			i = j
		default:
			i++
		}
	}
	return sh, errors.New(errors.CodeUnsupportedQueryShape, "no outer SELECT found")

outer:
	// Walk the rest of the outer query at depth 0.
	depth = 0
	sh.insertPos = sh.end
	for i < sh.end {
		c := masked[i]
		switch {
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case isWordByte(c) && (c < '0' || c > '9'):
			j := i
			for j < sh.end && isWordByte(masked[j]) {
				j++
			}
			if depth == 0 {
				word := strings.ToUpper(masked[i:j])
				switch {
				case setOps[word]:
					sh.hasSetOp = true
				case word == "WHERE" && sh.whereKw < 0:
					sh.whereKw = i
					sh.predStart = j
				case trailingClauses[word]:
					if sh.insertPos == sh.end {
						sh.insertPos = i
					}
					if sh.whereKw >= 0 && sh.predEnd < 0 {
						sh.predEnd = i
					}
				}
			}
			i = j
		default:
			i++
		}
	}
	if sh.whereKw >= 0 && sh.predEnd < 0 {
		sh.predEnd = sh.end
	}
	return sh, nil
}

// conjuncts splits a masked predicate span into its top-level AND
// conjuncts, returning the byte spans of each conjunct.
func conjuncts(masked string, from, to int) [][2]int {
	var spans [][2]int
	depth := 0
	start := from
	i := from
	for i < to {
		c := masked[i]
		switch {
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case isWordByte(c) && (c < '0' || c > '9'):
			j := i
			for j < to && isWordByte(masked[j]) {
				j++
			}
			if depth == 0 && strings.ToUpper(masked[i:j]) == "AND" {
				spans = append(spans, [2]int{start, i})
				start = j
			}
			i = j
		default:
			i++
		}
	}
	spans = append(spans, [2]int{start, to})
	return spans
}

// hasTopLevelOr reports whether an OR keyword appears at depth 0 within
// the masked predicate span.
func hasTopLevelOr(masked string, from, to int) bool {
	depth := 0
	i := from
	for i < to {
		c := masked[i]
		switch {
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case isWordByte(c) && (c < '0' || c > '9'):
			j := i
			for j < to && isWordByte(masked[j]) {
				j++
			}
			if depth == 0 && strings.ToUpper(masked[i:j]) == "OR" {
				return true
			}
			i = j
		default:
			i++
		}
	}
	return false
}
