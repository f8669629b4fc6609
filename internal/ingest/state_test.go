package ingest_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/ingest"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
	"github.com/gyeh/ingestflow/internal/testsupport"
)

func tasksOf(t *testing.T, c *ingest.Client, filter store.Filter) []*model.Task {
	t.Helper()
	var out []*model.Task
	for rec, err := range c.GetAll(context.Background(), model.KindTask, filter) {
		require.NoError(t, err)
		out = append(out, rec.(*model.Task))
	}
	return out
}

func historyLen(t *testing.T, ing *model.Ingest) int {
	t.Helper()
	entries, err := ing.Entries()
	require.NoError(t, err)
	return len(entries)
}

func TestStartClaimResolveScenario(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		svc := newService(r, 100)
		c := createIngest(t, svc, `{}`)

		ing, err := c.Start(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusScanning, ing.Status)

		tasks := tasksOf(t, c, nil)
		require.Len(t, tasks, 1)
		require.Equal(t, model.TaskScan, tasks[0].Type)
		require.JSONEq(t, `{"scanner": {"type": "template", "dir": "/"}}`, string(tasks[0].Context))

		claimed, err := svc.NextTask(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.Equal(t, tasks[0].ID, claimed.ID)
		require.Equal(t, model.TaskRunning, claimed.Status)
		require.Equal(t, "w1", *claimed.Worker)

		none, err := svc.NextTask(ctx, "w2")
		require.NoError(t, err)
		require.Nil(t, none)

		_, err = c.Update(ctx, model.KindTask, claimed.ID, model.Mapping{"status": model.TaskCompleted})
		require.NoError(t, err)

		ing, err = c.StartResolving(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusResolving, ing.Status)
		require.Len(t, tasksOf(t, c, store.Filter{"type": model.TaskResolve}), 1)

		again, err := c.StartResolving(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusResolving, again.Status)
		require.Equal(t, historyLen(t, ing), historyLen(t, again), "no new history entry")
		require.Len(t, tasksOf(t, c, store.Filter{"type": model.TaskResolve}), 1)
	})
}

func TestStartTwiceIsPreconditionError(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 100), `{}`)

	_, err := c.Start(ctx)
	require.NoError(t, err)

	_, err = c.Start(ctx)
	require.ErrorIs(t, err, ingest.ErrPrecondition)
	var te *ingest.TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, model.StatusScanning, te.Status)

	require.Len(t, tasksOf(t, c, nil), 1, "failed start created nothing")
}

func TestReviewPersistsChanges(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 100), `{}`)

	_, err := c.Review(ctx)
	require.ErrorIs(t, err, ingest.ErrPrecondition, "review needs in_review")

	_, err = c.SetStatus(ctx, model.StatusInReview)
	require.NoError(t, err)

	ing, err := c.Review(ctx,
		ingest.ReviewChange{Path: "/study/a", Skip: true},
		ingest.ReviewChange{Path: "/study/b", Context: json.RawMessage(`{"subject":"s1"}`)},
	)
	require.NoError(t, err)
	require.Equal(t, model.StatusPreparing, ing.Status)
	require.Len(t, tasksOf(t, c, store.Filter{"type": model.TaskPrepare}), 1)

	entries, err := ing.Entries()
	require.NoError(t, err)
	var statuses []model.IngestStatus
	for _, e := range entries {
		statuses = append(statuses, e.Status)
	}
	require.Equal(t, []model.IngestStatus{model.StatusCreated, model.StatusInReview, model.StatusPreparing}, statuses)
}

func TestAbortIsIdempotentAndSparesFinishedTasks(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		svc := newService(r, 100)
		c := createIngest(t, svc, `{}`)

		require.NoError(t, c.Bulk(ctx, model.BulkInsert, model.KindTask, []model.Mapping{
			{"type": model.TaskUpload, "status": model.TaskCompleted},
			{"type": model.TaskUpload, "status": model.TaskRunning},
			{"type": model.TaskUpload},
			{"type": model.TaskUpload},
		}))

		first, err := c.Abort(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusAborted, first.Status)

		second, err := c.Abort(ctx)
		require.NoError(t, err)
		require.Equal(t, first.Status, second.Status)
		require.Equal(t, historyLen(t, first), historyLen(t, second))

		count := func(status model.TaskStatus) int64 {
			n, err := c.CountAll(ctx, model.KindTask, store.Filter{"status": status})
			require.NoError(t, err)
			return n
		}
		require.EqualValues(t, 1, count(model.TaskCompleted))
		require.EqualValues(t, 1, count(model.TaskRunning))
		require.EqualValues(t, 2, count(model.TaskCanceled))
		require.EqualValues(t, 0, count(model.TaskPending))
	})
}

func TestAbortFinishedIngestIsRejected(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 100), `{}`)
	_, err := c.SetStatus(ctx, model.StatusFinished)
	require.NoError(t, err)

	_, err = c.Abort(ctx)
	require.ErrorIs(t, err, ingest.ErrPrecondition)
}

func TestFailCancelsPendingTasks(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 100), `{}`)
	_, err := c.Start(ctx)
	require.NoError(t, err)

	ing, err := c.Fail(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, ing.Status)
	require.Len(t, tasksOf(t, c, store.Filter{"status": model.TaskCanceled}), 1)

	_, err = c.StartFinalizing(ctx)
	require.ErrorIs(t, err, ingest.ErrPrecondition, "terminal ingests enter no stage")
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	c := createIngest(t, newService(r, 100), `{}`)
	_, err := c.SetStatus(context.Background(), model.IngestStatus("sleeping"))
	require.ErrorIs(t, err, ingest.ErrInvalidStatus)
}

func TestStageWaitsForOpenTasks(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 100), `{}`)
	_, err := c.SetStatus(ctx, model.StatusUploading)
	require.NoError(t, err)
	require.NoError(t, c.Bulk(ctx, model.BulkInsert, model.KindTask, []model.Mapping{
		{"type": model.TaskUpload, "status": model.TaskRunning},
	}))

	ing, err := c.StartDetectingDuplicates(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StatusUploading, ing.Status)
	require.Empty(t, tasksOf(t, c, store.Filter{"type": model.TaskDetectDuplicates}))

	running := tasksOf(t, c, store.Filter{"status": model.TaskRunning})
	require.Len(t, running, 1)
	_, err = c.Update(ctx, model.KindTask, running[0].ID, model.Mapping{"status": model.TaskFailed})
	require.NoError(t, err)

	ing, err = c.StartDetectingDuplicates(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StatusDetectingDuplicates, ing.Status)
	require.Len(t, tasksOf(t, c, store.Filter{"type": model.TaskDetectDuplicates}), 1)
}

func TestLateStartResolvingAfterFinalizingIsNoop(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		c := createIngest(t, newService(r, 100), `{}`)

		completeAll := func() {
			for _, task := range tasksOf(t, c, store.Filter{"status": model.TaskPending}) {
				_, err := c.Update(ctx, model.KindTask, task.ID, model.Mapping{"status": model.TaskCompleted})
				require.NoError(t, err)
			}
		}

		_, err := c.Start(ctx)
		require.NoError(t, err)
		completeAll()
		ing, err := c.StartResolving(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusResolving, ing.Status)
		completeAll()
		ing, err = c.StartFinalizing(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusFinalizing, ing.Status)
		completeAll()

		late, err := c.StartResolving(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusFinalizing, late.Status)
		require.Equal(t, historyLen(t, ing), historyLen(t, late))
		require.Len(t, tasksOf(t, c, store.Filter{"type": model.TaskResolve}), 1)
		require.Len(t, tasksOf(t, c, store.Filter{"type": model.TaskFinalize}), 1)
	})
}

func TestConcurrentStartSingletonCreatesOneTask(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		c := createIngest(t, newService(r, 100), `{}`)
		_, err := c.SetStatus(ctx, model.StatusUploading)
		require.NoError(t, err)

		const callers = 8
		var wg sync.WaitGroup
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ing, err := c.StartSingleton(ctx, model.TaskFinalize)
				if err == nil && ing.Status != model.StatusFinalizing {
					t.Errorf("caller saw status %s", ing.Status)
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		require.Len(t, tasksOf(t, c, store.Filter{"type": model.TaskFinalize}), 1)
		ing, err := c.Load(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusFinalizing, ing.Status)
	})
}

func TestStartSingletonRejectsNonSingletonType(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	c := createIngest(t, newService(r, 100), `{}`)
	_, err := c.StartSingleton(context.Background(), model.TaskUpload)
	require.ErrorIs(t, err, ingest.ErrPrecondition)
}

func TestCreateAndListIngests(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	svc := newService(r, 2)
	for i := 0; i < 3; i++ {
		createIngest(t, svc, `{}`)
	}
	_, err := svc.CreateIngest(ctx, ingest.CreateParams{Label: "other", Auth: ingest.Auth{APIKey: "key-2"}})
	require.NoError(t, err)

	var mine []*model.Ingest
	for ing, err := range svc.ListIngests(ctx, ingest.ListFilter{APIKey: "key-1"}) {
		require.NoError(t, err)
		mine = append(mine, ing)
	}
	require.Len(t, mine, 3)
	require.Equal(t, model.StatusCreated, mine[0].Status)
	require.JSONEq(t, `{}`, string(mine[0].Config))

	n := 0
	for _, err := range svc.ListIngests(ctx, ingest.ListFilter{}) {
		require.NoError(t, err)
		n++
	}
	require.Equal(t, 4, n)

	_, err = svc.CreateIngest(ctx, ingest.CreateParams{Config: json.RawMessage(`{broken`)})
	require.Error(t, err)
}
