package ingest_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/ingest"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/testsupport"
)

type fixture struct {
	root, child           uuid.UUID
	uploaded, failed, new uuid.UUID
	skipped               uuid.UUID
}

// seedHierarchy builds two containers, four items in different stages and
// one item error.
func seedHierarchy(t *testing.T, c *ingest.Client) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		root: model.NewID(), child: model.NewID(),
		uploaded: model.NewID(), failed: model.NewID(), new: model.NewID(), skipped: model.NewID(),
	}
	done, broken := model.NewID(), model.NewID()

	require.NoError(t, c.Bulk(ctx, model.BulkInsert, model.KindTask, []model.Mapping{
		{"id": done, "type": model.TaskUpload, "status": model.TaskCompleted},
		{"id": broken, "type": model.TaskUpload, "status": model.TaskFailed},
	}))
	require.NoError(t, c.Bulk(ctx, model.BulkInsert, model.KindContainer, []model.Mapping{
		{"id": f.root, "level": 0, "path": "/study", "dst_path": "/dst/study"},
		{"id": f.child, "parent_id": f.root, "level": 1, "path": "/study/series", "dst_path": "/dst/study/series", "existing": true},
	}))
	require.NoError(t, c.Bulk(ctx, model.BulkInsert, model.KindItem, []model.Mapping{
		{"id": f.uploaded, "container_id": f.child, "task_id": done, "type": "file", "dir": "/study/series", "filename": "a.dcm", "files_cnt": 1, "bytes_sum": 100},
		{"id": f.failed, "container_id": f.child, "task_id": broken, "type": "file", "dir": "/study/series", "filename": "b.dcm", "files_cnt": 1, "bytes_sum": 50},
		{"id": f.new, "container_id": f.child, "type": "packfile", "dir": "/study/series/c", "files_cnt": 3, "bytes_sum": 300},
		{"id": f.skipped, "container_id": f.root, "type": "file", "dir": "/study", "filename": "notes.txt", "files_cnt": 1, "bytes_sum": 7, "skipped": true},
	}))
	require.NoError(t, c.Bulk(ctx, model.BulkInsert, model.KindItemError, []model.Mapping{
		{"item_id": f.failed, "task_id": broken, "code": "UPLOAD_FAILED", "message": "connection reset"},
	}))
	return f
}

func TestProgressAndSummary(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		c := createIngest(t, newService(r, 2), `{}`)
		seedHierarchy(t, c)

		p, err := c.Progress(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusCreated, p.Status)
		require.EqualValues(t, 1, p.Tasks[model.TaskUpload][model.TaskCompleted])
		require.EqualValues(t, 1, p.Tasks[model.TaskUpload][model.TaskFailed])
		require.Equal(t, model.StageCount{Items: 1, Files: 1, Bytes: 100}, p.Stages[model.StageCompleted])
		require.Equal(t, model.StageCount{Items: 1, Files: 1, Bytes: 50}, p.Stages[model.StageFailed])
		require.Equal(t, model.StageCount{Items: 1, Files: 3, Bytes: 300}, p.Stages[model.StageScanned])
		require.Equal(t, model.StageCount{Items: 1, Files: 1, Bytes: 7}, p.Stages[model.StageSkipped])
		require.Equal(t, model.StageCount{Items: 4, Files: 6, Bytes: 457}, p.Total)

		sum, err := c.Summary(ctx)
		require.NoError(t, err)
		require.Equal(t, map[int]int64{0: 1, 1: 1}, sum.ContainersByLevel)
		require.EqualValues(t, 4, sum.Items)
		require.EqualValues(t, 6, sum.Files)
		require.EqualValues(t, 457, sum.Bytes)
		require.EqualValues(t, 1, sum.Skipped)
		require.EqualValues(t, 0, sum.Existing)
		require.Equal(t, map[string]int64{"UPLOAD_FAILED": 1}, sum.ErrorsByCode)
	})
}

func TestProgressOfEmptyIngest(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	c := createIngest(t, newService(r, 100), `{}`)
	p, err := c.Progress(context.Background())
	require.NoError(t, err)
	require.Empty(t, p.Tasks)
	require.Empty(t, p.Stages)
	require.Zero(t, p.Total)

	_, err = newService(r, 100).Ingest(model.NewID()).Progress(context.Background())
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestReportCollectsErrorsAndElapsed(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		c := createIngest(t, newService(r, 100), `{}`)
		f := seedHierarchy(t, c)
		_, err := c.Fail(ctx)
		require.NoError(t, err)

		rep, err := c.Report(ctx)
		require.NoError(t, err)
		require.Equal(t, model.StatusFailed, rep.Status)
		require.EqualValues(t, 1, rep.ErrorCount)
		require.Equal(t, model.ReportError{
			ItemID:   f.failed,
			Path:     "/study/series/b.dcm",
			Code:     "UPLOAD_FAILED",
			Message:  "connection reset",
			TaskType: string(model.TaskUpload),
		}, rep.Errors[0])

		require.Len(t, rep.Elapsed, 2)
		require.Equal(t, model.StatusCreated, rep.Elapsed[0].Status)
		require.Equal(t, model.StatusFailed, rep.Elapsed[1].Status)
		require.Zero(t, rep.Elapsed[1].Duration, "terminal status does not accrue time")
	})
}

func TestElapsed(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ing := &model.Ingest{}
	require.NoError(t, ing.AppendHistory(model.StatusCreated, model.Time{Time: t0}))
	require.NoError(t, ing.AppendHistory(model.StatusScanning, model.Time{Time: t0.Add(time.Minute)}))

	got, err := ingest.Elapsed(ing, t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, time.Minute, got[0].Duration)
	require.Equal(t, 2*time.Minute, got[1].Duration)

	require.NoError(t, ing.AppendHistory(model.StatusFinished, model.Time{Time: t0.Add(5 * time.Minute)}))
	got, err = ingest.Elapsed(ing, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 4*time.Minute, got[1].Duration)
	require.Zero(t, got[2].Duration)
}

func TestTreeInPathOrder(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	c := createIngest(t, newService(r, 1), `{}`)
	f := seedHierarchy(t, c)

	var nodes []*model.TreeNode
	for n, err := range c.Tree(context.Background()) {
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	require.Len(t, nodes, 2)
	require.Equal(t, "/study", nodes[0].Path)
	require.False(t, nodes[0].ParentID.Valid)
	require.EqualValues(t, 1, nodes[0].Items)
	require.Equal(t, "/study/series", nodes[1].Path)
	require.Equal(t, f.root, nodes[1].ParentID.UUID)
	require.True(t, nodes[1].Existing)
	require.EqualValues(t, 3, nodes[1].Items)
}

func TestAuditLogsCSV(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		c := createIngest(t, newService(r, 3), `{}`)
		f := seedHierarchy(t, c)

		var buf bytes.Buffer
		n, err := ingest.WriteCSV(&buf, c.AuditLogs(ctx))
		require.NoError(t, err)
		require.Equal(t, 5, n)

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Equal(t, ingest.AuditHeader, records[0])

		byID := map[string][]string{}
		for _, rec := range records[1:] {
			byID[rec[0]] = rec
		}
		require.Equal(t, []string{f.uploaded.String(), "/study/series/a.dcm", "/dst/study/series/a.dcm", "completed", "false", ""}, byID[f.uploaded.String()])
		require.Equal(t, "failed", byID[f.failed.String()][3])
		require.Equal(t, "UPLOAD_FAILED: connection reset", byID[f.failed.String()][5])
		require.Equal(t, "scanned", byID[f.new.String()][3])
		require.Equal(t, "/dst/study/series", byID[f.new.String()][2])
		require.Equal(t, "skipped", byID[f.skipped.String()][3])
	})
}

func TestDeidLogsCSV(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 100), `{}`)

	require.NoError(t, c.Add(ctx, &model.DeidLog{
		Path:       "/b.dcm",
		TagsBefore: model.JSON(`{"PatientName":"Doe^Jane","PatientID":"123"}`),
		TagsAfter:  model.JSON(`{"PatientName":"Sub-1"}`),
	}))
	require.NoError(t, c.Add(ctx, &model.DeidLog{
		Path:       "/a.dcm",
		TagsBefore: model.JSON(`{"PatientName":"Doe^John"}`),
		TagsAfter:  model.JSON(`{"PatientName":"Sub-2"}`),
	}))

	var rows [][]string
	for rec, err := range c.DeidLogs(ctx, ingest.FieldList{"PatientName", "PatientID"}) {
		require.NoError(t, err)
		rows = append(rows, rec)
	}
	require.Equal(t, [][]string{
		{"path", "PatientName_before", "PatientName_after", "PatientID_before", "PatientID_after"},
		{"/a.dcm", "Doe^John", "Sub-2", "", ""},
		{"/b.dcm", "Doe^Jane", "Sub-1", "123", ""},
	}, rows)
}

func TestSubjectsCSV(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 100),
		`{"subject_config":{"code_format":"Sub-{SubjectCode}","map_keys":["PatientName","PatientBirthDate"]}}`)

	_, err := c.ResolveSubject(ctx, []string{"Doe^Jane", "19800101"})
	require.NoError(t, err)
	_, err = c.ResolveSubject(ctx, []string{"Doe^John", "19790202"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = ingest.WriteCSV(&buf, c.Subjects(ctx))
	require.NoError(t, err)
	require.Equal(t,
		"code,PatientName,PatientBirthDate\nSub-1,Doe^Jane,19800101\nSub-2,Doe^John,19790202\n",
		buf.String())
}

func TestSubjectsCSVFollowsIssueOrder(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	ctx := context.Background()
	c := createIngest(t, newService(r, 5),
		`{"subject_config":{"code_format":"Sub-{SubjectCode}","map_keys":["PatientName"]}}`)

	want := [][]string{{"code", "PatientName"}}
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("patient-%d", i)
		code, err := c.ResolveSubject(ctx, []string{name})
		require.NoError(t, err)
		want = append(want, []string{code, name})
	}

	var got [][]string
	for rec, err := range c.Subjects(ctx) {
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Equal(t, want, got)
	require.Equal(t, "Sub-2", got[2][0], "numeric, not lexical, order")
}
