// Package assistant orchestrates the question-to-SQL pipeline:
// retrieval, generation, validation, tenant isolation, and bounded
// execution. Every path fails closed: SQL that did not clear every
// prior stage is never executed.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/generator"
	"github.com/spendlens/spendlens/pkg/infrastructure/metrics"
	"github.com/spendlens/spendlens/pkg/models"
	"github.com/spendlens/spendlens/pkg/sqlguard"
)

// Retriever assembles grounding context for one question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (models.RetrievalContext, error)
}

// Executor runs one validated, isolated statement.
type Executor interface {
	Execute(ctx context.Context, query string, params []any, timeout time.Duration) (*models.ExecutionResult, error)
}

// Config carries pipeline settings.
type Config struct {
	// TenantColumn scopes every executed query to one tenant.
	TenantColumn string
	// QueryTimeout bounds Gateway execution per request.
	QueryTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.TenantColumn == "" {
		c.TenantColumn = "user_id"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

// Service is the assistant pipeline exposed to the API surface.
type Service struct {
	retriever Retriever
	generator generator.Generator
	validator *sqlguard.Validator
	rewriter  *sqlguard.Rewriter
	executor  Executor
	logger    zerolog.Logger
	metrics   metrics.Collector
	config    Config
}

// NewService wires the pipeline stages together.
func NewService(retriever Retriever, gen generator.Generator, executor Executor,
	config Config, logger zerolog.Logger, collector metrics.Collector) *Service {
	config.setDefaults()
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	guard := sqlguard.Config{TenantColumn: config.TenantColumn}
	return &Service{
		retriever: retriever,
		generator: gen,
		validator: sqlguard.NewValidator(guard),
		rewriter:  sqlguard.NewRewriter(guard),
		executor:  executor,
		logger:    logger.With().Str("component", "assistant").Logger(),
		metrics:   collector,
		config:    config,
	}
}

// ConvertQuestionToSQL runs the generation path: retrieve context,
// generate a candidate, validate it, and isolate it to the tenant. The
// returned SQL carries the tenant value as a trailing bound parameter
// whenever the filter was injected.
func (s *Service) ConvertQuestionToSQL(ctx context.Context, question, userID string) (*models.GeneratedSQL, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, pkgerrors.ErrEmptyQuestion
	}
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.ErrEmptyTenant
	}

	requestID := uuid.NewString()
	log := s.logger.With().Str("request_id", requestID).Str("user_id", userID).Logger()
	timer := s.metrics.StartTimer("convert_duration_seconds")
	defer func() { s.metrics.RecordHistogram("convert_duration_seconds", timer.Stop()) }()

	rctx, err := s.retriever.Retrieve(ctx, question)
	if err != nil {
		s.metrics.IncrementCounter("convert_total", "status", "retrieval_failed")
		return nil, err
	}

	candidate, err := s.generator.Generate(ctx, question, rctx)
	if err != nil {
		s.metrics.IncrementCounter("convert_total", "status", "generation_failed")
		return nil, err
	}

	verdict := s.validator.Validate(candidate, true)
	if !verdict.Valid {
		s.metrics.IncrementCounter("convert_total", "status", "invalid_sql")
		log.Warn().
			Interface("violations", verdict.Violations).
			Msg("Generated SQL rejected")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSQL,
			"generated sql failed validation "+sqlguard.DescribeViolations(verdict.Violations)).
			WithDetail("violations", verdict.Violations)
	}

	finalSQL := candidate
	rewritten := false
	if !verdict.HasTenantFilter {
		finalSQL, err = s.rewriter.InjectTenantFilter(candidate)
		if err != nil {
			s.metrics.IncrementCounter("convert_total", "status", "rewrite_failed")
			return nil, err
		}
		rewritten = true
	}

	confidence := Score(rctx.TopScore(), rewritten)
	s.metrics.IncrementCounter("convert_total", "status", "ok")
	log.Info().
		Bool("rewritten", rewritten).
		Float64("confidence", confidence).
		Int("examples", len(rctx.Examples)).
		Msg("Question converted")

	return &models.GeneratedSQL{
		SQL:         finalSQL,
		Confidence:  confidence,
		Explanation: explain(rctx, rewritten),
	}, nil
}

// RunSQL runs the direct path: a caller-supplied statement enters at
// the validator and must end up tenant-isolated before execution. A
// pre-existing bound tenant filter receives the caller's id as its
// parameter; a pre-existing literal filter must name the caller's own
// tenant.
func (s *Service) RunSQL(ctx context.Context, sqlText, userID string) (*models.ExecutionResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.ErrEmptyTenant
	}

	requestID := uuid.NewString()
	log := s.logger.With().Str("request_id", requestID).Str("user_id", userID).Logger()
	start := time.Now()

	verdict := s.validator.Validate(sqlText, true)
	if !verdict.Valid {
		s.metrics.IncrementCounter("run_sql_total", "status", "invalid_sql")
		log.Warn().
			Interface("violations", verdict.Violations).
			Msg("Submitted SQL rejected")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSQL,
			"sql failed validation "+sqlguard.DescribeViolations(verdict.Violations)).
			WithDetail("violations", verdict.Violations)
	}

	finalSQL := sqlText
	var params []any
	rewritten := false
	switch {
	case !verdict.HasTenantFilter:
		var err error
		finalSQL, err = s.rewriter.InjectTenantFilter(sqlText)
		if err != nil {
			s.metrics.IncrementCounter("run_sql_total", "status", "rewrite_failed")
			return nil, err
		}
		params = []any{userID}
		rewritten = true
	default:
		tf := s.validator.TenantFilterInfo(sqlText)
		if tf.Bound {
			params = []any{userID}
		} else if tf.Literal != userID {
			s.metrics.IncrementCounter("run_sql_total", "status", "tenant_mismatch")
			return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest,
				"tenant filter does not match the requesting user")
		}
	}

	result, err := s.executor.Execute(ctx, finalSQL, params, s.config.QueryTimeout)
	if err != nil {
		s.metrics.IncrementCounter("run_sql_total", "status", "execution_failed")
		return nil, err
	}

	s.metrics.IncrementCounter("run_sql_total", "status", "ok")
	log.Info().
		Str("original_sql", sqlText).
		Str("final_sql", finalSQL).
		Bool("rewritten", rewritten).
		Int64("rows", result.RowCount).
		Dur("duration", time.Since(start)).
		Msg("SQL executed")
	return result, nil
}

// AskAndRun converts a question and immediately executes the result,
// returning both the SQL and its rows.
func (s *Service) AskAndRun(ctx context.Context, question, userID string) (*models.GeneratedSQL, *models.ExecutionResult, error) {
	gen, err := s.ConvertQuestionToSQL(ctx, question, userID)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.RunSQL(ctx, gen.SQL, userID)
	if err != nil {
		return gen, nil, err
	}
	return gen, result, nil
}

func explain(rctx models.RetrievalContext, rewritten bool) string {
	isolation := "the query already scoped rows to your account"
	if rewritten {
		isolation = "an account filter was added automatically"
	}
	return fmt.Sprintf("Generated from %d similar examples and %d schema fragments; %s.",
		len(rctx.Examples), len(rctx.DDL), isolation)
}
