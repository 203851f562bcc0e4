package bulk

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"inventorycore/internal/placement"
	"inventorycore/pkg/domain"
)

// Logger is the structured logger used to report internal record failures.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// InternalErrorMessage replaces the text of unexpected errors in results.
const InternalErrorMessage = "internal error"

var errBatchReverted = errors.New("batch reverted on error")

// Executor runs bulk requests against a persistent store.
type Executor struct {
	store    domain.PersistentStore
	ops      *Operations
	validate *validator.Validate
	maxBatch int
	logger   Logger
}

// Option customises an Executor.
type Option func(*Executor)

// WithMaxBatchSize overrides DefaultMaxBatchSize.
func WithMaxBatchSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxBatch = n
		}
	}
}

// WithLogger sets the logger used for internal failures.
func WithLogger(logger Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor builds an executor over store. A nil ops allows every actor
// and skips edit lock checks.
func NewExecutor(store domain.PersistentStore, ops *Operations, opts ...Option) *Executor {
	if ops == nil {
		ops = NewOperations(nil, nil)
	}
	e := &Executor{
		store:    store,
		ops:      ops,
		validate: newValidator(),
		maxBatch: DefaultMaxBatchSize,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Operations returns the record operations used by the executor.
func (e *Executor) Operations() *Operations { return e.ops }

// MaxBatchSize returns the configured record limit.
func (e *Executor) MaxBatchSize() int { return e.maxBatch }

// Prevalidate checks the request structure without touching the store. Every
// failing record gets its own error entry.
func (e *Executor) Prevalidate(req Request) Result {
	res := Result{Status: StatusPrevalidated, Results: make([]RecordResult, len(req.Records))}
	if err := e.validate.Struct(req); err != nil {
		res.Errors = append(res.Errors, describe(err)...)
	}
	switch {
	case len(req.Records) == 0:
		res.Errors = append(res.Errors, "records must not be empty")
	case len(req.Records) > e.maxBatch:
		res.Errors = append(res.Errors, fmt.Sprintf("batch of %d records exceeds the maximum of %d", len(req.Records), e.maxBatch))
	}
	for i, rec := range req.Records {
		if rec.ID != nil {
			res.Results[i].ID = *rec.ID
		}
		if msgs := e.prevalidateRecord(req, rec); len(msgs) > 0 {
			res.Results[i].Errors = msgs
			res.Results[i].Err = domain.ValidationError{Messages: msgs}
		}
	}
	res.tally()
	if len(res.Errors) > 0 || res.ErrorCount > 0 {
		res.Status = StatusPrevalidationError
	}
	return res
}

// Execute prevalidates req and applies its records in order inside one unit
// of work. Each record runs behind a savepoint so a failure discards only its
// own effects; consecutive MOVE records are applied together so items can
// swap locations. With rollback enabled any failure reverts the whole batch,
// but the remaining records still run to report their errors.
func (e *Executor) Execute(ctx context.Context, actor string, req Request) (Result, error) {
	res := e.Prevalidate(req)
	res.BatchID = uuid.NewString()
	if res.Status == StatusPrevalidationError {
		return res, nil
	}
	rollback := req.Rollback()
	// resolved before the store lock is taken
	engine := e.store.RulesEngine()

	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		records := req.Records
		for i := 0; i < len(records); {
			op := effectiveOp(req, records[i])
			if op != OpMove {
				res.Results[i] = e.applyRecord(ctx, tx, engine, actor, op, records[i])
				i++
				continue
			}
			j := i + 1
			for j < len(records) && effectiveOp(req, records[j]) == OpMove {
				j++
			}
			e.applyMoves(ctx, tx, engine, actor, records[i:j], res.Results[i:j])
			i = j
		}
		if rollback {
			for _, r := range res.Results {
				if r.Failed() {
					return errBatchReverted
				}
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, errBatchReverted):
		res.Status = StatusRevertedOnError
		for i := range res.Results {
			if !res.Results[i].Failed() {
				res.Results[i].Record = nil
			}
		}
	case err != nil:
		e.logger.Error("bulk commit failed", "batch", res.BatchID, "error", err)
		return res, fmt.Errorf("bulk %s: %w", res.BatchID, err)
	default:
		res.Status = StatusCompleted
	}
	res.tally()
	e.logger.Info("bulk batch finished", "batch", res.BatchID, "status", string(res.Status),
		"success", res.SuccessCount, "errors", res.ErrorCount)
	return res, nil
}

func (e *Executor) applyRecord(ctx context.Context, tx domain.Transaction, engine *domain.RulesEngine, actor string, op OperationType, rec Record) (out RecordResult) {
	sp := tx.Savepoint()
	if rec.ID != nil {
		out.ID = *rec.ID
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.RollbackTo(sp)
			out = e.failure(out.ID, fmt.Errorf("panic: %v", r))
		}
	}()
	id, err := e.ops.Apply(ctx, tx, actor, op, rec)
	if err == nil {
		err = checkRules(ctx, engine, tx, sp)
	}
	if err != nil {
		if rbErr := tx.RollbackTo(sp); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		if id.IsZero() {
			id = out.ID
		}
		return e.failure(id, err)
	}
	return RecordResult{ID: id, Record: Load(tx, id)}
}

// applyMoves runs a group of MOVE records as one batch move.
func (e *Executor) applyMoves(ctx context.Context, tx domain.Transaction, engine *domain.RulesEngine, actor string, recs []Record, out []RecordResult) {
	sp := tx.Savepoint()
	var (
		moves []placement.MoveRequest
		index []int
	)
	for i, rec := range recs {
		id := *rec.ID
		out[i] = RecordResult{ID: id}
		if err := e.ops.checkLock(ctx, id, actor); err != nil {
			out[i] = e.failure(id, err)
			continue
		}
		moves = append(moves, placement.MoveRequest{
			Item:   domain.ItemRef{Type: id.Type, ID: id.ID},
			Target: *rec.Target,
		})
		index = append(index, i)
	}
	if len(moves) == 0 {
		return
	}

	failAll := func(err error) {
		_ = tx.RollbackTo(sp)
		for _, i := range index {
			if !out[i].Failed() {
				out[i] = e.failure(out[i].ID, err)
			}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			failAll(fmt.Errorf("panic: %v", r))
		}
	}()

	outcomes, err := e.ops.placement.BatchMove(ctx, tx, actor, moves)
	if err != nil {
		failAll(err)
		return
	}
	for k, oc := range outcomes {
		i := index[k]
		if oc.Err != nil {
			out[i] = e.failure(out[i].ID, oc.Err)
		}
	}
	if err := checkRules(ctx, engine, tx, sp); err != nil {
		failAll(err)
		return
	}
	for _, i := range index {
		if !out[i].Failed() {
			out[i].Record = Load(tx, out[i].ID)
		}
	}
}

// checkRules evaluates the rules engine against the changes made since sp.
func checkRules(ctx context.Context, engine *domain.RulesEngine, tx domain.Transaction, sp domain.Savepoint) error {
	if engine == nil {
		return nil
	}
	changes := tx.ChangesSince(sp)
	if len(changes) == 0 {
		return nil
	}
	res, err := engine.Evaluate(ctx, tx, changes)
	if err != nil {
		return err
	}
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	return nil
}

func (e *Executor) failure(id domain.GlobalID, err error) RecordResult {
	msg := err.Error()
	if !domain.IsDomainError(err) {
		e.logger.Error("bulk record failed", "id", id.String(), "error", err)
		msg = InternalErrorMessage
	}
	return RecordResult{ID: id, Errors: []string{msg}, Err: err}
}

// PrevalidateRecord runs the structural checks of one record for op and
// returns them as a ValidationError.
func (e *Executor) PrevalidateRecord(op OperationType, rec Record) error {
	if msgs := e.prevalidateRecord(Request{OperationType: op}, rec); len(msgs) > 0 {
		return domain.ValidationError{Messages: msgs}
	}
	return nil
}
