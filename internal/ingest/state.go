package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/metrics"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
)

// scanContext is the context of the scan task created by Start.
var scanContext = json.RawMessage(`{"scanner":{"type":"template","dir":"/"}}`)

// transition moves ing to status inside sess and persists it.
func transition(ctx context.Context, sess db.Session, ing *model.Ingest, status model.IngestStatus) error {
	if err := ing.AppendHistory(status, model.Now()); err != nil {
		return err
	}
	if _, err := sess.Exec(ctx,
		"UPDATE ingests SET status = ?, history = ?, updated_at = ? WHERE id = ?",
		ing.Status, ing.History, ing.UpdatedAt, ing.ID); err != nil {
		return fmt.Errorf("update ingest status: %w", err)
	}
	return nil
}

func createTask(ctx context.Context, sess db.Session, ing *model.Ingest, typ model.TaskType, taskCtx json.RawMessage) error {
	return store.InsertRows(ctx, sess, model.KindTask, ing.ID, []model.Mapping{{
		"type":    typ,
		"status":  model.TaskPending,
		"context": taskCtx,
	}})
}

// mutate runs fn against the locked ingest in an immediate unit of work and
// records the resulting status after commit.
func (c *Client) mutate(ctx context.Context, op string, fn func(ctx context.Context, sess db.Session, ing *model.Ingest) (bool, error)) (*model.Ingest, error) {
	var (
		out     *model.Ingest
		changed bool
	)
	err := c.svc.runner.Run(ctx, db.Immediate, func(ctx context.Context, sess db.Session) error {
		ing, err := loadIngest(ctx, sess, c.id, true)
		if err != nil {
			return err
		}
		changed, err = fn(ctx, sess, ing)
		if err != nil {
			return err
		}
		out = ing
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s ingest %s: %w", op, c.id, err)
	}
	if changed {
		metrics.Get().Transitions.WithLabelValues(string(out.Status)).Inc()
		c.log.Info().Str("op", op).Str("status", string(out.Status)).Msg("ingest transitioned")
	}
	return out, nil
}

func expectStatus(op string, ing *model.Ingest, want ...model.IngestStatus) error {
	for _, s := range want {
		if ing.Status == s {
			return nil
		}
	}
	return &TransitionError{Op: op, Status: ing.Status, Want: want}
}

// Start moves a created ingest to scanning and queues the scan task.
func (c *Client) Start(ctx context.Context) (*model.Ingest, error) {
	return c.mutate(ctx, "start", func(ctx context.Context, sess db.Session, ing *model.Ingest) (bool, error) {
		if err := expectStatus("start", ing, model.StatusCreated); err != nil {
			return false, err
		}
		if err := transition(ctx, sess, ing, model.StatusScanning); err != nil {
			return false, err
		}
		return true, createTask(ctx, sess, ing, model.TaskScan, scanContext)
	})
}

// ReviewChange is a user adjustment applied when leaving review.
type ReviewChange struct {
	Path    string
	Skip    bool
	Context json.RawMessage
}

// Review records the review changes, moves the ingest to preparing and
// queues the prepare task.
func (c *Client) Review(ctx context.Context, changes ...ReviewChange) (*model.Ingest, error) {
	rows := make([]model.Mapping, 0, len(changes))
	for _, ch := range changes {
		if ch.Path == "" {
			return nil, fmt.Errorf("review: change path is required")
		}
		rows = append(rows, model.Mapping{"path": ch.Path, "skip": ch.Skip, "context": ch.Context})
	}
	return c.mutate(ctx, "review", func(ctx context.Context, sess db.Session, ing *model.Ingest) (bool, error) {
		if err := expectStatus("review", ing, model.StatusInReview); err != nil {
			return false, err
		}
		if len(rows) > 0 {
			if err := store.InsertRows(ctx, sess, model.KindReviewChange, ing.ID, rows); err != nil {
				return false, err
			}
		}
		if err := transition(ctx, sess, ing, model.StatusPreparing); err != nil {
			return false, err
		}
		return true, createTask(ctx, sess, ing, model.TaskPrepare, nil)
	})
}

// Abort moves the ingest to aborted and cancels its pending tasks. Aborting
// an aborted ingest changes nothing. Running tasks are left to finish.
func (c *Client) Abort(ctx context.Context) (*model.Ingest, error) {
	return c.mutate(ctx, "abort", func(ctx context.Context, sess db.Session, ing *model.Ingest) (bool, error) {
		if ing.Status == model.StatusAborted {
			return false, nil
		}
		if ing.Status.IsTerminal() {
			return false, &TransitionError{Op: "abort", Status: ing.Status}
		}
		if err := transition(ctx, sess, ing, model.StatusAborted); err != nil {
			return false, err
		}
		return true, c.cancelPending(ctx, sess, ing)
	})
}

// cancelPending cancels every pending task of ing. Running tasks are left to
// their workers.
func (c *Client) cancelPending(ctx context.Context, sess db.Session, ing *model.Ingest) error {
	n, err := sess.Exec(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE ingest_id = ? AND status = ?",
		model.TaskCanceled, ing.UpdatedAt, ing.ID, model.TaskPending)
	if err != nil {
		return fmt.Errorf("cancel pending tasks: %w", err)
	}
	c.log.Debug().Int64("tasks", n).Msg("pending tasks canceled")
	return nil
}

// Fail moves the ingest to failed from any status and cancels its pending
// tasks.
func (c *Client) Fail(ctx context.Context) (*model.Ingest, error) {
	return c.mutate(ctx, "fail", func(ctx context.Context, sess db.Session, ing *model.Ingest) (bool, error) {
		if err := transition(ctx, sess, ing, model.StatusFailed); err != nil {
			return false, err
		}
		return true, c.cancelPending(ctx, sess, ing)
	})
}

// SetStatus moves the ingest to status unconditionally. Worker code uses it
// to advance between the stages it drives (scanning to in_review, preparing
// to uploading, finalizing to finished).
func (c *Client) SetStatus(ctx context.Context, status model.IngestStatus) (*model.Ingest, error) {
	if _, err := model.ParseIngestStatus(string(status)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	return c.mutate(ctx, "set status", func(ctx context.Context, sess db.Session, ing *model.Ingest) (bool, error) {
		return true, transition(ctx, sess, ing, status)
	})
}

// StartSingleton enters the stage run by exactly one task of type typ. If
// the ingest is already in that stage, or a task of typ was ever created for
// it, nothing changes, so concurrent and late callers create one task between
// them.
func (c *Client) StartSingleton(ctx context.Context, typ model.TaskType) (*model.Ingest, error) {
	target, ok := model.SingletonStatus(typ)
	if !ok {
		return nil, fmt.Errorf("start %s: %w: %s is not a singleton stage", typ, ErrPrecondition, typ)
	}
	op := "start " + string(typ)
	return c.mutate(ctx, op, func(ctx context.Context, sess db.Session, ing *model.Ingest) (bool, error) {
		if ing.Status == target {
			return false, nil
		}
		if ing.Status.IsTerminal() {
			return false, &TransitionError{Op: op, Status: ing.Status}
		}
		var existing int64
		if err := sess.Get(ctx, &existing,
			"SELECT COUNT(*) FROM tasks WHERE ingest_id = ? AND type = ?", ing.ID, typ); err != nil {
			return false, fmt.Errorf("count %s tasks: %w", typ, err)
		}
		if existing > 0 {
			c.log.Debug().Str("stage", string(typ)).Str("status", string(ing.Status)).Msg("stage task already created")
			return false, nil
		}
		if err := transition(ctx, sess, ing, target); err != nil {
			return false, err
		}
		return true, createTask(ctx, sess, ing, typ, nil)
	})
}

// startStage enters a singleton stage once no task of the ingest is pending
// or running. While work remains it returns the ingest unchanged.
func (c *Client) startStage(ctx context.Context, typ model.TaskType) (*model.Ingest, error) {
	var (
		ing        *model.Ingest
		unfinished int64
	)
	err := c.svc.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		var err error
		if ing, err = loadIngest(ctx, sess, c.id, false); err != nil {
			return err
		}
		return sess.Get(ctx, &unfinished,
			"SELECT COUNT(*) FROM tasks WHERE ingest_id = ? AND status IN (?, ?)",
			c.id, model.TaskPending, model.TaskRunning)
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", typ, err)
	}
	if unfinished > 0 {
		c.log.Debug().Int64("unfinished", unfinished).Str("stage", string(typ)).Msg("stage deferred, tasks still open")
		return ing, nil
	}
	return c.StartSingleton(ctx, typ)
}

// StartResolving enters the resolving stage once all tasks are done.
func (c *Client) StartResolving(ctx context.Context) (*model.Ingest, error) {
	return c.startStage(ctx, model.TaskResolve)
}

// StartDetectingDuplicates enters the duplicate detection stage once all
// tasks are done.
func (c *Client) StartDetectingDuplicates(ctx context.Context) (*model.Ingest, error) {
	return c.startStage(ctx, model.TaskDetectDuplicates)
}

// StartFinalizing enters the finalizing stage once all tasks are done.
func (c *Client) StartFinalizing(ctx context.Context) (*model.Ingest, error) {
	return c.startStage(ctx, model.TaskFinalize)
}
