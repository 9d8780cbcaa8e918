package sqlguard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spendlens/spendlens/pkg/models"
)

// Config carries the validator/rewriter configuration. The tenant
// column name is supplied by the host application, never discovered at
// runtime.
type Config struct {
	// TenantColumn is the column that scopes rows to one tenant.
	TenantColumn string
	// Placeholder is the bound-parameter marker the rewriter emits.
	Placeholder string
}

func (c *Config) setDefaults() {
	if c.TenantColumn == "" {
		c.TenantColumn = "user_id"
	}
	if c.Placeholder == "" {
		c.Placeholder = "?"
	}
}

// writeVerbs are statement keywords that make a statement non-read-only
// when they appear as a verb at any nesting level. A token in function
// position (immediately followed by an opening paren) is excused so
// that scalar functions such as REPLACE(x, 'a', 'b') do not trip the
// rule.
var writeVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "TRUNCATE": true, "CREATE": true, "GRANT": true,
	"REVOKE": true, "CALL": true, "MERGE": true, "UPSERT": true,
	"REPLACE": true, "COPY": true, "ATTACH": true, "DETACH": true,
	"INSTALL": true, "LOAD": true, "EXPORT": true, "IMPORT": true,
	"VACUUM": true, "CHECKPOINT": true, "REINDEX": true, "SET": true,
	"PRAGMA": true, "BEGIN": true, "COMMIT": true, "ROLLBACK": true,
	"SAVEPOINT": true,
}

// sideEffectPattern matches calls to functions known to mutate state or
// stall the engine: sequence advances, sleeps, extension management,
// session configuration.
var sideEffectPattern = regexp.MustCompile(
	`(?i)\b(nextval|setval|pg_sleep|sleep|load_extension|install_extension|set_config|checkpoint|force_checkpoint)\s*\(`)

// Validator classifies a SQL string as safe-to-run or not. It is pure
// and safe for concurrent use.
type Validator struct {
	cfg        Config
	tenantPred *regexp.Regexp
}

// NewValidator creates a validator for the configured tenant column.
func NewValidator(cfg Config) *Validator {
	cfg.setDefaults()
	return &Validator{
		cfg:        cfg,
		tenantPred: tenantPredicatePattern(cfg.TenantColumn),
	}
}

// tenantPredicatePattern matches a single conjunct of the shape
// <tenant_column> = <bound parameter or literal>, optionally qualified
// and optionally parenthesized once.
func tenantPredicatePattern(column string) *regexp.Regexp {
	return regexp.MustCompile(
		`(?i)^\s*\(?\s*(?:[a-z_][a-z0-9_]*\s*\.\s*)?` + regexp.QuoteMeta(column) +
			`\s*=\s*(\?|\$[0-9]+|\$[a-z_][a-z0-9_]*|:[a-z_][a-z0-9_]*|'[^']*'|[0-9]+)\s*\)?\s*$`)
}

// Validate inspects sql and returns a Verdict enumerating every
// violation found. It never panics on malformed input; malformed SQL is
// itself a violation. When requireTenantFilter is set the verdict also
// reports whether the outermost query already restricts rows to one
// tenant; absence of the filter is resolved by the Rewriter, not
// rejected here.
func (v *Validator) Validate(sql string, requireTenantFilter bool) models.Verdict {
	var violations []models.ViolationKind

	res := scan(sql)
	body := strings.TrimSpace(res.masked)

	if body == "" || res.unterminatedString || res.unterminatedComment || !balancedParens(res.masked) {
		violations = append(violations, models.ViolationUnparsable)
	}
	if body == "" {
		// Nothing further to inspect: empty, whitespace-only, or
		// comment-only input.
		return models.Verdict{Valid: false, Violations: violations}
	}

	end := stmtEnd(res.masked)

	// Rule 1: exactly one statement. A trailing semicolon followed only
	// by whitespace (comments are already blanked) is tolerated.
	if end < len(res.masked) {
		if trailer := strings.TrimSpace(res.masked[end+1:]); trailer != "" {
			violations = append(violations, models.ViolationMultiStatement)
		}
	}

	// Rule 2: read-only. The top-level verb must be SELECT or WITH, and
	// no write verb may appear at any nesting level.
	toks := wordTokens(res.masked, 0, end)
	writeOp := false
	if len(toks) == 0 {
		if !contains(violations, models.ViolationUnparsable) {
			violations = append(violations, models.ViolationUnparsable)
		}
	} else {
		if first := toks[0].upper; first != "SELECT" && first != "WITH" {
			writeOp = true
		}
		for _, tok := range toks {
			if !writeVerbs[tok.upper] {
				continue
			}
			if next, _ := nextNonSpace(res.masked, tok.end, end); next == '(' {
				continue // function position
			}
			writeOp = true
			break
		}
	}
	if writeOp {
		violations = append(violations, models.ViolationWriteOperation)
	}

	// Rule 3: no side-effecting function calls.
	if sideEffectPattern.MatchString(res.masked) {
		violations = append(violations, models.ViolationSideEffectingCall)
	}

	// Rule 5: comment-based smuggling. A comment whose body hides a
	// statement separator or a write verb can change the validated
	// structure once the comment is stripped downstream; executable
	// comment markers get the same treatment.
	for _, comment := range res.comments {
		if suspiciousComment(comment) {
			violations = append(violations, models.ViolationSuspiciousComment)
			break
		}
	}

	verdict := models.Verdict{
		Valid:      len(violations) == 0,
		Violations: violations,
	}

	// Rule 6: tenant filter presence, detection only.
	if requireTenantFilter {
		if sh, err := analyzeOuter(res.masked); err == nil && !sh.hasSetOp {
			verdict.HasTenantFilter = v.hasTenantFilter(res.masked, sh)
		}
	}
	return verdict
}

// HasTenantFilter reports whether the outermost query already carries a
// tenant predicate at its top conjunction level.
func (v *Validator) HasTenantFilter(sql string) bool {
	res := scan(sql)
	sh, err := analyzeOuter(res.masked)
	if err != nil {
		return false
	}
	return v.hasTenantFilter(res.masked, sh)
}

func (v *Validator) hasTenantFilter(masked string, sh outerShape) bool {
	if sh.whereKw < 0 {
		return false
	}
	// A top-level OR means there is no top conjunction: even when one OR
	// branch carries the tenant predicate, the other branches return
	// unscoped rows. Such a predicate never counts as a tenant filter;
	// the rewriter parenthesizes it and adds the real one.
	if hasTopLevelOr(masked, sh.predStart, sh.predEnd) {
		return false
	}
	for _, span := range conjuncts(masked, sh.predStart, sh.predEnd) {
		if v.tenantPred.MatchString(masked[span[0]:span[1]]) {
			return true
		}
	}
	return false
}

// TenantFilter describes the tenant predicate found on the outermost
// query, when one is present.
type TenantFilter struct {
	Present bool
	Bound   bool   // value arrives as a bound parameter
	Literal string // literal value when Bound is false
}

// TenantFilterInfo locates the outer tenant predicate and reports how
// its value is supplied. Literal values are read back from the original
// sql because the masked view blanks them.
func (v *Validator) TenantFilterInfo(sql string) TenantFilter {
	res := scan(sql)
	sh, err := analyzeOuter(res.masked)
	if err != nil || sh.whereKw < 0 {
		return TenantFilter{}
	}
	if hasTopLevelOr(res.masked, sh.predStart, sh.predEnd) {
		return TenantFilter{}
	}
	for _, span := range conjuncts(res.masked, sh.predStart, sh.predEnd) {
		m := v.tenantPred.FindStringSubmatchIndex(res.masked[span[0]:span[1]])
		if m == nil {
			continue
		}
		raw := sql[span[0]+m[2] : span[0]+m[3]]
		if strings.HasPrefix(raw, "'") {
			return TenantFilter{
				Present: true,
				Literal: strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"),
			}
		}
		if raw[0] >= '0' && raw[0] <= '9' {
			return TenantFilter{Present: true, Literal: raw}
		}
		return TenantFilter{Present: true, Bound: true}
	}
	return TenantFilter{}
}

// suspiciousComment reports whether a raw comment body could smuggle
// structure past the validator.
func suspiciousComment(comment string) bool {
	if strings.HasPrefix(comment, "/*!") {
		return true
	}
	if strings.ContainsRune(comment, ';') {
		return true
	}
	for _, tok := range wordTokens(comment, 0, len(comment)) {
		if writeVerbs[tok.upper] {
			return true
		}
	}
	return false
}

func contains(violations []models.ViolationKind, kind models.ViolationKind) bool {
	for _, v := range violations {
		if v == kind {
			return true
		}
	}
	return false
}

// DescribeViolations renders a violation list for operator-facing
// error messages.
func DescribeViolations(violations []models.ViolationKind) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = string(v)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}
