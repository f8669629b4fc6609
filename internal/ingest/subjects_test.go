package ingest_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/ingest"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/testsupport"
)

func TestFormatSubjectCode(t *testing.T) {
	tests := []struct {
		format string
		serial int64
		want   string
	}{
		{"", 7, "7"},
		{"{SubjectCode}", 12, "12"},
		{"Sub-{SubjectCode}", 1, "Sub-1"},
		{"S{SubjectCode:03d}", 5, "S005"},
		{"S{SubjectCode:3d}", 5, "S  5"},
		{"{SubjectCode:2}", 7, " 7"},
		{"S{SubjectCode:03d}", 1234, "S1234"},
		{"fixed", 9, "fixed"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			require.Equal(t, tt.want, ingest.FormatSubjectCode(tt.format, tt.serial))
		})
	}
}

func TestResolveSubjectScenario(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		c := createIngest(t, newService(r, 100),
			`{"subject_config":{"code_format":"Sub-{SubjectCode}","code_serial":0,"map_keys":["first","last"]}}`)

		code, err := c.ResolveSubject(ctx, []string{"Jane", "Doe"})
		require.NoError(t, err)
		require.Equal(t, "Sub-1", code)

		code, err = c.ResolveSubject(ctx, []string{"Jane", "Doe"})
		require.NoError(t, err)
		require.Equal(t, "Sub-1", code)

		code, err = c.ResolveSubject(ctx, []string{"John", "Doe"})
		require.NoError(t, err)
		require.Equal(t, "Sub-2", code)

		ing, err := c.Load(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, gjson.GetBytes(ing.Config, "subject_config.code_serial").Int())
		require.Equal(t, []string{"first", "last"}, ingest.SubjectMapKeys(ing))
		require.Equal(t, "Sub-{SubjectCode}", ingest.SubjectCodeFormat(ing))

		_, err = c.CountAll(ctx, model.KindSubject, nil)
		require.ErrorIs(t, err, ingest.ErrUnknownKind, "subjects are not a CRUD kind")
	})
}

func TestResolveSubjectNeedsConfig(t *testing.T) {
	r := testsupport.MustOpenSQLite(t)
	c := createIngest(t, newService(r, 100), `{}`)
	_, err := c.ResolveSubject(context.Background(), []string{"Jane"})
	require.ErrorIs(t, err, ingest.ErrPrecondition)
}

func TestConcurrentResolveSubject(t *testing.T) {
	testsupport.ForEachBackend(t, pgDSN, func(t *testing.T, r *db.Runner) {
		ctx := context.Background()
		c := createIngest(t, newService(r, 100), `{"subject_config":{"code_format":"{SubjectCode:03d}"}}`)

		const (
			workers  = 6
			subjects = 10
		)
		results := make([]map[string]string, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				got := map[string]string{}
				for i := 0; i < subjects; i++ {
					// Each worker walks the tuples in a different order.
					name := fmt.Sprintf("patient-%d", (i+w)%subjects)
					code, err := c.ResolveSubject(ctx, []string{name})
					if err != nil {
						t.Errorf("resolve %s: %v", name, err)
						return
					}
					got[name] = code
				}
				results[w] = got
			}(w)
		}
		wg.Wait()

		codes := map[string]string{}
		for _, got := range results {
			require.Len(t, got, subjects)
			for name, code := range got {
				if prev, ok := codes[name]; ok {
					require.Equal(t, prev, code, "same tuple, same code")
				}
				codes[name] = code
			}
		}
		seen := map[string]bool{}
		for _, code := range codes {
			require.False(t, seen[code], "code %s issued twice", code)
			seen[code] = true
		}
		for i := 1; i <= subjects; i++ {
			require.True(t, seen[fmt.Sprintf("%03d", i)], "serial %d skipped", i)
		}

		var rows [][]string
		for rec, err := range c.Subjects(ctx) {
			require.NoError(t, err)
			rows = append(rows, rec)
		}
		require.Len(t, rows, subjects+1)
		require.Equal(t, []string{"code"}, rows[0])
		require.Equal(t, "001", rows[1][0])
	})
}
