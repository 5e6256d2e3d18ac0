package analysis

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/veritas/internal/errors"
	"github.com/ZanzyTHEbar/veritas/internal/monitoring"
	"github.com/ZanzyTHEbar/veritas/internal/resilience"
)

const (
	DefaultTimeout              = 60 * time.Second
	DefaultMaxAttempts          = 2
	DefaultRetryDelay           = 250 * time.Millisecond
	DefaultConsistencyTolerance = 1.0
)

// Options configures an Orchestrator. Zero values select the defaults.
type Options struct {
	// Timeout bounds each engine attempt.
	Timeout time.Duration
	// MaxAttempts counts the first call. Only transport failures are retried.
	MaxAttempts int
	RetryDelay  time.Duration
	// ForwardTrimmed sends the trimmed text to the engine instead of the original.
	ForwardTrimmed bool
	// ConsistencyTolerance is how far plagiarism+uniqueness may stray from 100
	// before a warning is logged.
	ConsistencyTolerance float64

	Logger  *monitoring.Logger
	Metrics *monitoring.Metrics
	Health  *resilience.DegradationManager
	Tracer  trace.Tracer
}

// Outcome is the result of one analysis: exactly one of Report and Err is set.
type Outcome struct {
	Report *Report
	Err    *errors.AppError
}

// OK reports whether the analysis produced a report.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Report != nil
}

// Orchestrator runs the validate, detect, check pipeline for one text at a
// time. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	detector Detector
	opts     Options
}

// NewOrchestrator wires a detector with its call policy.
func NewOrchestrator(detector Detector, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.ConsistencyTolerance <= 0 {
		opts.ConsistencyTolerance = DefaultConsistencyTolerance
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.NopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = monitoring.Tracer()
	}
	if opts.Health != nil {
		opts.Health.RegisterService(detector.Name())
	}

	return &Orchestrator{detector: detector, opts: opts}
}

// Engine names the detector behind this orchestrator.
func (o *Orchestrator) Engine() string {
	return o.detector.Name()
}

// Analyze validates text, asks the engine for a report, and checks the
// answer against the detection contract. Rejected input never reaches the
// engine.
func (o *Orchestrator) Analyze(ctx context.Context, text string) Outcome {
	start := time.Now()
	engine := o.detector.Name()
	length := utf8.RuneCountInString(strings.TrimSpace(text))

	ctx, span := o.opts.Tracer.Start(ctx, "analysis.Analyze", trace.WithAttributes(
		attribute.String("veritas.engine", engine),
		attribute.Int("veritas.text_length", length),
	))

	outcome := o.analyze(ctx, text)

	var spanErr error
	label := monitoring.OutcomeSuccess
	if outcome.Err != nil {
		spanErr = outcome.Err
		label = outcomeLabel(outcome.Err)
		span.SetAttributes(attribute.String("veritas.error_category", string(outcome.Err.Category)))
	} else {
		span.SetAttributes(
			attribute.Float64("veritas.plagiarism_score", outcome.Report.PlagiarismScore),
			attribute.Int("veritas.matches", len(outcome.Report.Matches)),
		)
		o.opts.Metrics.RecordScore(outcome.Report.PlagiarismScore)
	}
	monitoring.EndSpan(span, spanErr)

	o.opts.Metrics.RecordAnalysis(label, length)

	var score float64
	var matches int
	if outcome.Report != nil {
		score = outcome.Report.PlagiarismScore
		matches = len(outcome.Report.Matches)
	}
	o.opts.Logger.AnalysisLogger(ctx, engine, length, label, score, matches, time.Since(start))

	return outcome
}

func (o *Orchestrator) analyze(ctx context.Context, text string) Outcome {
	if err := Validate(text); err != nil {
		return Outcome{Err: errors.ToAppError(err)}
	}

	req := DetectionRequest{Text: PrepareText(text, o.opts.ForwardTrimmed)}

	report, err := o.detect(ctx, req)
	if err == nil && report == nil {
		err = &ContractError{Violations: []Violation{{Field: "body", Rule: "engine returned no report"}}}
	}
	if err == nil {
		err = ValidateReport(*report)
	}

	o.recordHealth(ctx, err)

	if err != nil {
		appErr := o.classify(ctx, err)
		errors.Log(o.opts.Logger.With("engine", o.detector.Name()), appErr)
		return Outcome{Err: appErr}
	}

	if !report.ScoresConsistent(o.opts.ConsistencyTolerance) {
		o.opts.Logger.WarnContext(ctx, "Inconsistent report scores",
			"engine", o.detector.Name(),
			"plagiarism_score", report.PlagiarismScore,
			"uniqueness_score", report.UniquenessScore,
		)
	}

	result := report.clone()
	return Outcome{Report: &result}
}

// detect calls the engine with the retry policy. Each attempt gets its own
// deadline.
func (o *Orchestrator) detect(ctx context.Context, req DetectionRequest) (*Report, error) {
	var report *Report

	cfg := resilience.RetryConfig{
		MaxAttempts:     o.opts.MaxAttempts,
		InitialDelay:    o.opts.RetryDelay,
		MaxDelay:        10 * o.opts.RetryDelay,
		BackoffFactor:   2.0,
		JitterEnabled:   true,
		RetryableErrors: isTransient,
	}

	err := resilience.RetryWithConfig(ctx, cfg, func(attempt int) error {
		r, err := o.attempt(ctx, req, attempt)
		if err != nil {
			return err
		}
		report = r
		return nil
	})

	return report, err
}

type attemptResult struct {
	report *Report
	err    error
}

func (o *Orchestrator) attempt(ctx context.Context, req DetectionRequest, attempt int) (*Report, error) {
	engine := o.detector.Name()
	attemptCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	attemptCtx, span := o.opts.Tracer.Start(attemptCtx, "analysis.Detect", trace.WithAttributes(
		attribute.String("veritas.engine", engine),
		attribute.Int("veritas.attempt", attempt),
	))

	start := time.Now()
	done := make(chan attemptResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: &PanicError{Value: r, Stack: string(debug.Stack())}}
			}
		}()
		report, err := o.detector.Detect(attemptCtx, req)
		done <- attemptResult{report: report, err: err}
	}()

	var res attemptResult
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		// The engine ignored its deadline; stop waiting for it.
		res = attemptResult{err: attemptCtx.Err()}
	}

	if res.err != nil && ctx.Err() == nil && stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		res.err = &TimeoutError{Timeout: o.opts.Timeout, Attempt: attempt, Cause: res.err}
	}

	duration := time.Since(start)
	o.opts.Metrics.RecordEngineAttempt(engine, attemptLabel(res.err), duration)
	o.opts.Logger.DetectorLogger(ctx, engine, attempt, duration, res.err)
	monitoring.EndSpan(span, res.err)

	return res.report, res.err
}

func (o *Orchestrator) recordHealth(ctx context.Context, err error) {
	if o.opts.Health == nil {
		return
	}
	// A caller that gave up says nothing about the engine.
	if err != nil && ctx.Err() != nil && !isTimeout(err) {
		return
	}
	o.opts.Health.Record(o.detector.Name(), err)
}

// classify turns an engine-side failure into the sanitized error callers see.
func (o *Orchestrator) classify(ctx context.Context, err error) *errors.AppError {
	var contractErr *ContractError
	var panicErr *PanicError

	switch {
	case stderrors.As(err, &contractErr):
		return errors.NewContractViolation(err)
	case stderrors.As(err, &panicErr):
		return errors.NewDetectionFailure(errors.MsgAnalysisFailed, errors.ReasonEngineError, err)
	case isTimeout(err):
		return errors.NewDetectionFailure(errors.MsgAnalysisTimeout, errors.ReasonTimeout, err)
	case stderrors.Is(err, resilience.ErrCircuitOpen):
		return errors.NewDetectionFailure(errors.MsgEngineUnavailable, errors.ReasonCircuitOpen, err)
	case ctx.Err() != nil:
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.NewDetectionFailure(errors.MsgAnalysisTimeout, errors.ReasonTimeout, err)
		}
		return errors.NewDetectionFailure(errors.MsgAnalysisFailed, errors.ReasonCanceled, err)
	case isTransient(err):
		return errors.NewDetectionFailure(errors.MsgAnalysisFailed, errors.ReasonTransport, err)
	default:
		return errors.NewDetectionFailure(errors.MsgAnalysisFailed, errors.ReasonEngineError, err)
	}
}

// TimeoutError reports an engine attempt that ran past its deadline.
type TimeoutError struct {
	Timeout time.Duration
	Attempt int
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("detection attempt %d exceeded %s: %v", e.Attempt, e.Timeout, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// PanicError carries a panic recovered from a detector.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("detector panicked: %v", e.Value)
}

// Transient is implemented by engine errors that are worth another attempt,
// such as an HTTP 503 from a remote engine.
type Transient interface {
	Transient() bool
}

// isTransient decides what the retry loop may repeat: transport failures
// only. Timeouts, an open circuit, cancellations and contract violations
// are final.
func isTransient(err error) bool {
	if err == nil || isTimeout(err) {
		return false
	}
	if stderrors.Is(err, resilience.ErrCircuitOpen) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var contractErr *ContractError
	var panicErr *PanicError
	if stderrors.As(err, &contractErr) || stderrors.As(err, &panicErr) {
		return false
	}

	var t Transient
	if stderrors.As(err, &t) {
		return t.Transient()
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Category == errors.CategoryNetwork || appErr.Category == errors.CategoryRateLimit
	}

	return false
}

func isTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return stderrors.As(err, &timeoutErr)
}

func attemptLabel(err error) string {
	var contractErr *ContractError
	switch {
	case err == nil:
		return "ok"
	case isTimeout(err):
		return "timeout"
	case stderrors.As(err, &contractErr):
		return "contract_violation"
	case stderrors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

func outcomeLabel(err *errors.AppError) string {
	switch err.Category {
	case errors.CategoryValidation:
		return monitoring.OutcomeValidation
	case errors.CategoryContractViolation:
		return monitoring.OutcomeContractViolation
	default:
		return monitoring.OutcomeDetectionFailure
	}
}
