package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/spendlens/pkg/errors"
)

func TestRewriter_InjectTenantFilter(t *testing.T) {
	r := NewRewriter(Config{TenantColumn: "user_id"})

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "no where clause",
			sql:  "SELECT amount, category FROM expense",
			want: "SELECT amount, category FROM expense WHERE user_id = ?",
		},
		{
			name: "existing where with top-level or gets parenthesized",
			sql:  "SELECT amount FROM expense WHERE category = 'food' OR category = 'transport'",
			want: "SELECT amount FROM expense WHERE (category = 'food' OR category = 'transport') AND user_id = ?",
		},
		{
			name: "existing where without or",
			sql:  "SELECT amount FROM expense WHERE amount > 100",
			want: "SELECT amount FROM expense WHERE amount > 100 AND user_id = ?",
		},
		{
			name: "where before group by",
			sql:  "SELECT category, SUM(amount) FROM expense WHERE amount > 0 GROUP BY category",
			want: "SELECT category, SUM(amount) FROM expense WHERE amount > 0 AND user_id = ? GROUP BY category",
		},
		{
			name: "no where with group by",
			sql:  "SELECT category, SUM(amount) FROM expense GROUP BY category",
			want: "SELECT category, SUM(amount) FROM expense WHERE user_id = ? GROUP BY category",
		},
		{
			name: "no where with order by and limit",
			sql:  "SELECT amount FROM expense ORDER BY amount DESC LIMIT 10",
			want: "SELECT amount FROM expense WHERE user_id = ? ORDER BY amount DESC LIMIT 10",
		},
		{
			name: "cte chain filters the outer select only",
			sql:  "WITH totals AS (SELECT category, SUM(amount) s FROM expense GROUP BY category) SELECT * FROM totals",
			want: "WITH totals AS (SELECT category, SUM(amount) s FROM expense GROUP BY category) SELECT * FROM totals WHERE user_id = ?",
		},
		{
			name: "subquery where is untouched",
			sql:  "SELECT amount FROM expense WHERE category IN (SELECT name FROM category WHERE active = true)",
			want: "SELECT amount FROM expense WHERE category IN (SELECT name FROM category WHERE active = true) AND user_id = ?",
		},
		{
			name: "trailing semicolon preserved",
			sql:  "SELECT amount FROM expense;",
			want: "SELECT amount FROM expense WHERE user_id = ?;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.InjectTenantFilter(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRewriter_RewrittenQueryPassesDetection(t *testing.T) {
	r := NewRewriter(Config{TenantColumn: "user_id"})
	v := NewValidator(Config{TenantColumn: "user_id"})

	inputs := []string{
		"SELECT amount, category FROM expense",
		"SELECT amount FROM expense WHERE category = 'food' OR category = 'transport'",
		"SELECT category, SUM(amount) FROM expense GROUP BY category ORDER BY 2 DESC",
		"WITH t AS (SELECT * FROM expense) SELECT category FROM t",
	}

	for _, sql := range inputs {
		rewritten, err := r.InjectTenantFilter(sql)
		require.NoError(t, err, sql)

		verdict := v.Validate(rewritten, true)
		assert.True(t, verdict.Valid, "rewritten sql must stay valid: %s", rewritten)
		assert.True(t, verdict.HasTenantFilter, "rewritten sql must carry the filter: %s", rewritten)
	}
}

func TestRewriter_AlreadyIsolatedFailsFast(t *testing.T) {
	r := NewRewriter(Config{TenantColumn: "user_id"})

	_, err := r.InjectTenantFilter("SELECT amount FROM expense WHERE user_id = ?")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyIsolated)
}

func TestRewriter_SetOperationsAreRejected(t *testing.T) {
	r := NewRewriter(Config{TenantColumn: "user_id"})

	for _, sql := range []string{
		"SELECT amount FROM expense UNION SELECT amount FROM archived_expense",
		"SELECT amount FROM expense INTERSECT SELECT amount FROM archived_expense",
		"SELECT amount FROM expense EXCEPT SELECT amount FROM archived_expense",
	} {
		_, err := r.InjectTenantFilter(sql)
		require.Error(t, err, sql)
		assert.True(t, errors.IsUnsupportedShape(err), "want unsupported shape for %s, got %v", sql, err)
	}
}

func TestRewriter_UnparsableInputIsRejected(t *testing.T) {
	r := NewRewriter(Config{TenantColumn: "user_id"})

	for _, sql := range []string{"", "   ", "SELECT 'oops", "SELECT a FROM (b"} {
		_, err := r.InjectTenantFilter(sql)
		require.Error(t, err, "input %q", sql)
	}
}

func TestRewriter_CustomTenantColumn(t *testing.T) {
	r := NewRewriter(Config{TenantColumn: "account_id"})

	got, err := r.InjectTenantFilter("SELECT amount FROM expense")
	require.NoError(t, err)
	assert.Equal(t, "SELECT amount FROM expense WHERE account_id = ?", got)
}
