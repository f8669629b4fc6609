package ingest_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
	"github.com/gyeh/ingestflow/internal/testsupport"
)

func TestNextTaskClaimsEachTaskOnce(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		svc := newService(r, 100)
		c := createIngest(t, svc, `{}`)

		const tasks = 40
		rows := make([]model.Mapping, tasks)
		for i := range rows {
			rows[i] = model.Mapping{"type": model.TaskUpload}
		}
		require.NoError(t, c.Bulk(ctx, model.BulkInsert, model.KindTask, rows))

		const workers = 6
		var (
			mu      sync.Mutex
			claimed = map[uuid.UUID]string{}
			wg      sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				for {
					task, err := svc.NextTask(ctx, name)
					if err != nil {
						t.Errorf("next task: %v", err)
						return
					}
					if task == nil {
						return
					}
					mu.Lock()
					if prev, ok := claimed[task.ID]; ok {
						t.Errorf("task %s claimed by %s and %s", task.ID, prev, name)
					}
					claimed[task.ID] = name
					mu.Unlock()
				}
			}(string(rune('a' + w)))
		}
		wg.Wait()

		require.Len(t, claimed, tasks)
		n, err := c.CountAll(ctx, model.KindTask, store.Filter{"status": model.TaskRunning})
		require.NoError(t, err)
		require.EqualValues(t, tasks, n)

		for rec, err := range c.GetAll(ctx, model.KindTask, nil) {
			require.NoError(t, err)
			task := rec.(*model.Task)
			require.NotNil(t, task.Worker)
			require.Equal(t, claimed[task.ID], *task.Worker)
		}
	})
}

func TestNextTaskOrderAndScope(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	svc := newService(r, 100)
	first := createIngest(t, svc, `{}`)
	second := createIngest(t, svc, `{}`)

	require.NoError(t, first.Bulk(ctx, model.BulkInsert, model.KindTask, []model.Mapping{
		{"type": model.TaskScan},
		{"type": model.TaskUpload, "status": model.TaskCompleted},
		{"type": model.TaskExtractUID},
	}))
	require.NoError(t, second.Bulk(ctx, model.BulkInsert, model.KindTask, []model.Mapping{
		{"type": model.TaskPrepare},
	}))

	task, err := second.NextTask(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, model.TaskPrepare, task.Type)

	none, err := second.NextTask(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, none)

	task, err = svc.NextTask(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, model.TaskScan, task.Type, "oldest pending first")

	task, err = svc.NextTask(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, model.TaskExtractUID, task.Type, "completed tasks are never claimed")

	none, err = svc.NextTask(ctx, "w2")
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = svc.NextTask(ctx, "")
	require.Error(t, err)
}

func TestNextTaskSkipsCanceled(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	svc := newService(r, 100)
	c := createIngest(t, svc, `{}`)
	_, err := c.Start(ctx)
	require.NoError(t, err)
	_, err = c.Abort(ctx)
	require.NoError(t, err)

	task, err := svc.NextTask(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, task)
}
