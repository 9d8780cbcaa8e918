package sqlguard

import (
	"strings"

	"github.com/spendlens/spendlens/pkg/errors"
)

// Rewriter injects a tenant filter into a query known to lack one. It
// never mutates its input: every rewrite produces a new string so the
// original survives for audit logging. Like the Validator it is pure
// and safe for concurrent use.
type Rewriter struct {
	cfg       Config
	validator *Validator
}

// NewRewriter creates a rewriter for the configured tenant column and
// placeholder style.
func NewRewriter(cfg Config) *Rewriter {
	cfg.setDefaults()
	return &Rewriter{
		cfg:       cfg,
		validator: NewValidator(cfg),
	}
}

// InjectTenantFilter rewrites sql so its outermost query filters on the
// tenant column, returning the new SQL. The tenant value itself is
// always a bound parameter; callers append it to the statement's
// parameter list.
//
// Precondition: sql has already passed validation with tenant-filter
// detection reporting no filter. Calling it on an already-isolated
// query is a programming error and fails fast rather than silently
// double-injecting. For WITH chains the filter lands on the final outer
// SELECT only: intermediate CTEs may aggregate across tenants before
// the outer query narrows scope.
func (r *Rewriter) InjectTenantFilter(sql string) (string, error) {
	res := scan(sql)
	if strings.TrimSpace(res.masked) == "" || res.unterminatedString || res.unterminatedComment || !balancedParens(res.masked) {
		return "", errors.New(errors.CodeInvalidSQL, "cannot rewrite unparsable sql")
	}

	sh, err := analyzeOuter(res.masked)
	if err != nil {
		return "", err
	}
	if sh.hasSetOp {
		return "", errors.New(errors.CodeUnsupportedQueryShape,
			"set operations combine independent outer queries; tenant filter insertion point is ambiguous")
	}
	if r.validator.hasTenantFilter(res.masked, sh) {
		return "", errors.ErrAlreadyIsolated
	}

	filter := r.cfg.TenantColumn + " = " + r.cfg.Placeholder

	// Existing WHERE clause: extend its top-level conjunction,
	// parenthesizing the current predicate when a top-level OR would
	// otherwise capture the new conjunct.
	if sh.whereKw >= 0 {
		pred := strings.TrimSpace(sql[sh.predStart:sh.predEnd])
		if hasTopLevelOr(res.masked, sh.predStart, sh.predEnd) {
			pred = "(" + pred + ")"
		}
		var b strings.Builder
		b.WriteString(sql[:sh.predStart])
		b.WriteString(" ")
		b.WriteString(pred)
		b.WriteString(" AND ")
		b.WriteString(filter)
		b.WriteString(" ")
		b.WriteString(strings.TrimLeft(sql[sh.predEnd:], " \t\n\r"))
		return strings.TrimSpace(b.String()), nil
	}

	// No WHERE clause: insert one before the first trailing clause, or
	// at statement end when none follows.
	var b strings.Builder
	b.WriteString(strings.TrimRight(sql[:sh.insertPos], " \t\n\r"))
	b.WriteString(" WHERE ")
	b.WriteString(filter)
	if tail := strings.TrimLeft(sql[sh.insertPos:], " \t\n\r"); tail != "" {
		if tail[0] != ';' {
			b.WriteString(" ")
		}
		b.WriteString(tail)
	}
	return b.String(), nil
}
