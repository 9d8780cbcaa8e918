package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/models"
)

type stubRetriever struct {
	rctx models.RetrievalContext
	err  error
}

func (s *stubRetriever) Retrieve(ctx context.Context, question string) (models.RetrievalContext, error) {
	return s.rctx, s.err
}

type stubGenerator struct {
	sql string
	err error
}

func (s *stubGenerator) Generate(ctx context.Context, question string, rctx models.RetrievalContext) (string, error) {
	return s.sql, s.err
}

type stubExecutor struct {
	result *models.ExecutionResult
	err    error

	calls   int
	gotSQL  string
	gotArgs []any
}

func (s *stubExecutor) Execute(ctx context.Context, query string, params []any, timeout time.Duration) (*models.ExecutionResult, error) {
	s.calls++
	s.gotSQL = query
	s.gotArgs = params
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &models.ExecutionResult{Columns: []string{"n"}, Rows: [][]interface{}{{int64(1)}}, RowCount: 1}, nil
}

func goodContext() models.RetrievalContext {
	return models.RetrievalContext{
		Examples: []models.ContextEntry{{Text: "q -> SELECT ...", Score: 0.8, Kind: models.ContextExample}},
		DDL:      []models.ContextEntry{{Text: "CREATE TABLE expense (...)", Score: 0.6, Kind: models.ContextDDL}},
	}
}

func newTestService(r Retriever, g *stubGenerator, e Executor) *Service {
	return NewService(r, g, e, Config{}, zerolog.Nop(), nil)
}

func TestConvertQuestionToSQL_RewritesUnfilteredCandidate(t *testing.T) {
	svc := newTestService(
		&stubRetriever{rctx: goodContext()},
		&stubGenerator{sql: "SELECT SUM(amount) FROM expense"},
		&stubExecutor{},
	)

	got, err := svc.ConvertQuestionToSQL(context.Background(), "total spend?", "u1")
	require.NoError(t, err)

	assert.Equal(t, "SELECT SUM(amount) FROM expense WHERE user_id = ?", got.SQL)
	assert.Greater(t, got.Confidence, 0.0)
	assert.LessOrEqual(t, got.Confidence, 1.0)
	assert.Contains(t, got.Explanation, "filter was added")
}

func TestConvertQuestionToSQL_KeepsSelfScopedCandidate(t *testing.T) {
	svc := newTestService(
		&stubRetriever{rctx: goodContext()},
		&stubGenerator{sql: "SELECT SUM(amount) FROM expense WHERE user_id = ?"},
		&stubExecutor{},
	)

	got, err := svc.ConvertQuestionToSQL(context.Background(), "total spend?", "u1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(amount) FROM expense WHERE user_id = ?", got.SQL)
	assert.Contains(t, got.Explanation, "already scoped")
}

func TestConvertQuestionToSQL_SelfScopedOutranksRewritten(t *testing.T) {
	scoped := newTestService(
		&stubRetriever{rctx: goodContext()},
		&stubGenerator{sql: "SELECT amount FROM expense WHERE user_id = ?"},
		&stubExecutor{},
	)
	unscoped := newTestService(
		&stubRetriever{rctx: goodContext()},
		&stubGenerator{sql: "SELECT amount FROM expense"},
		&stubExecutor{},
	)

	a, err := scoped.ConvertQuestionToSQL(context.Background(), "q", "u1")
	require.NoError(t, err)
	b, err := unscoped.ConvertQuestionToSQL(context.Background(), "q", "u1")
	require.NoError(t, err)
	assert.Greater(t, a.Confidence, b.Confidence)
}

func TestConvertQuestionToSQL_RejectsInvalidCandidate(t *testing.T) {
	svc := newTestService(
		&stubRetriever{rctx: goodContext()},
		&stubGenerator{sql: "DELETE FROM expense; SELECT 1"},
		&stubExecutor{},
	)

	_, err := svc.ConvertQuestionToSQL(context.Background(), "wipe it", "u1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalidSQL(err))

	var ae *pkgerrors.AssistantError
	require.ErrorAs(t, err, &ae)
	violations, ok := ae.Details["violations"].([]models.ViolationKind)
	require.True(t, ok, "error must carry the full violation list")
	assert.Contains(t, violations, models.ViolationWriteOperation)
	assert.Contains(t, violations, models.ViolationMultiStatement)
}

func TestConvertQuestionToSQL_RejectsSetOperations(t *testing.T) {
	svc := newTestService(
		&stubRetriever{rctx: goodContext()},
		&stubGenerator{sql: "SELECT amount FROM expense UNION SELECT amount FROM archived_expense"},
		&stubExecutor{},
	)

	_, err := svc.ConvertQuestionToSQL(context.Background(), "all spend ever", "u1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUnsupportedShape(err))
}

func TestConvertQuestionToSQL_PropagatesStageFailures(t *testing.T) {
	retrievalErr := pkgerrors.New(pkgerrors.CodeRetrievalFailed, "search backend down")
	_, err := newTestService(&stubRetriever{err: retrievalErr}, &stubGenerator{}, &stubExecutor{}).
		ConvertQuestionToSQL(context.Background(), "q", "u1")
	assert.Equal(t, pkgerrors.CodeRetrievalFailed, pkgerrors.GetCode(err))

	genErr := pkgerrors.New(pkgerrors.CodeGenerationFailed, "model unavailable")
	_, err = newTestService(&stubRetriever{rctx: goodContext()}, &stubGenerator{err: genErr}, &stubExecutor{}).
		ConvertQuestionToSQL(context.Background(), "q", "u1")
	assert.Equal(t, pkgerrors.CodeGenerationFailed, pkgerrors.GetCode(err))
}

func TestConvertQuestionToSQL_EmptyInputs(t *testing.T) {
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, &stubExecutor{})

	_, err := svc.ConvertQuestionToSQL(context.Background(), "  ", "u1")
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyQuestion)

	_, err = svc.ConvertQuestionToSQL(context.Background(), "q", "")
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyTenant)
}

func TestRunSQL_InjectsFilterAndBindsTenant(t *testing.T) {
	exec := &stubExecutor{}
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, exec)

	result, err := svc.RunSQL(context.Background(), "SELECT amount FROM expense", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RowCount)
	assert.Equal(t, "SELECT amount FROM expense WHERE user_id = ?", exec.gotSQL)
	assert.Equal(t, []any{"u1"}, exec.gotArgs)
}

func TestRunSQL_BindsExistingBoundFilter(t *testing.T) {
	exec := &stubExecutor{}
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, exec)

	_, err := svc.RunSQL(context.Background(), "SELECT amount FROM expense WHERE user_id = ?", "u1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT amount FROM expense WHERE user_id = ?", exec.gotSQL)
	assert.Equal(t, []any{"u1"}, exec.gotArgs)
}

func TestRunSQL_MatchingLiteralPassesThrough(t *testing.T) {
	exec := &stubExecutor{}
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, exec)

	_, err := svc.RunSQL(context.Background(), "SELECT amount FROM expense WHERE user_id = 'u1'", "u1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT amount FROM expense WHERE user_id = 'u1'", exec.gotSQL)
	assert.Nil(t, exec.gotArgs)
}

func TestRunSQL_FilterDefeatedByOrIsRewritten(t *testing.T) {
	exec := &stubExecutor{}
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, exec)

	// The tenant conjunct only guards one OR branch; the other branch
	// would return every tenant's rows if executed as-is.
	_, err := svc.RunSQL(context.Background(),
		"SELECT amount FROM expense WHERE user_id = 'u1' AND amount > 0 OR category = 'food'", "u1")
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT amount FROM expense WHERE (user_id = 'u1' AND amount > 0 OR category = 'food') AND user_id = ?",
		exec.gotSQL)
	assert.Equal(t, []any{"u1"}, exec.gotArgs)
}

func TestRunSQL_ForeignLiteralRejected(t *testing.T) {
	exec := &stubExecutor{}
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, exec)

	_, err := svc.RunSQL(context.Background(), "SELECT amount FROM expense WHERE user_id = 'someone-else'", "u1")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInvalidRequest, pkgerrors.GetCode(err))
	assert.Zero(t, exec.calls, "cross-tenant query must never reach the gateway")
}

func TestRunSQL_InvalidSQLNeverExecutes(t *testing.T) {
	exec := &stubExecutor{}
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, exec)

	_, err := svc.RunSQL(context.Background(), "DROP TABLE expense", "u1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalidSQL(err))
	assert.Zero(t, exec.calls)
}

func TestRunSQL_ExecutionErrorsPropagate(t *testing.T) {
	exec := &stubExecutor{err: pkgerrors.ErrExecutionTimeout}
	svc := newTestService(&stubRetriever{}, &stubGenerator{}, exec)

	_, err := svc.RunSQL(context.Background(), "SELECT amount FROM expense", "u1")
	assert.True(t, pkgerrors.IsTimeout(err))
}

func TestAskAndRun(t *testing.T) {
	exec := &stubExecutor{}
	svc := newTestService(
		&stubRetriever{rctx: goodContext()},
		&stubGenerator{sql: "SELECT SUM(amount) FROM expense"},
		exec,
	)

	gen, result, err := svc.AskAndRun(context.Background(), "total spend?", "u1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(amount) FROM expense WHERE user_id = ?", gen.SQL)
	assert.Equal(t, int64(1), result.RowCount)
	assert.Equal(t, []any{"u1"}, exec.gotArgs)
}
