// Package ingest implements the ingest lifecycle: creating ingests, the
// status state machine, the task queue, subject code issuance and the
// reporting views over an ingest's entities.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/metrics"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
)

var ingestColumns = []string{
	"id", "label", "status", "config", "strategy_config", "api_key",
	"host", "username", "history", "created_at", "updated_at",
}

var taskColumns = []string{
	"id", "ingest_id", "type", "status", "worker", "context", "completed",
	"total", "error", "created_at", "updated_at",
}

func selectIngest() string {
	return "SELECT " + strings.Join(ingestColumns, ", ") + " FROM ingests"
}

func selectTask() string {
	return "SELECT " + strings.Join(taskColumns, ", ") + " FROM tasks"
}

// Service is the entry point to the ingest core.
type Service struct {
	runner *db.Runner
	store  *store.Store
	log    zerolog.Logger
}

// NewService returns a Service over runner. pageSize bounds every paginated
// read; <= 0 selects store.DefaultPageSize.
func NewService(runner *db.Runner, log zerolog.Logger, pageSize int) *Service {
	return &Service{
		runner: runner,
		store:  store.New(runner, log, pageSize),
		log:    log,
	}
}

// Store exposes the entity store backing the service.
func (s *Service) Store() *store.Store { return s.store }

// Auth identifies who created an ingest.
type Auth struct {
	APIKey string
	Host   string
	User   string
}

// CreateParams describes a new ingest.
type CreateParams struct {
	Label          string
	Config         json.RawMessage
	StrategyConfig json.RawMessage
	Auth           Auth
}

// CreateIngest persists a new ingest in status created.
func (s *Service) CreateIngest(ctx context.Context, p CreateParams) (*model.Ingest, error) {
	for name, doc := range map[string]json.RawMessage{"config": p.Config, "strategy_config": p.StrategyConfig} {
		if len(doc) > 0 && !json.Valid(doc) {
			return nil, fmt.Errorf("create ingest: %s is not valid JSON", name)
		}
	}
	now := model.Now()
	ing := &model.Ingest{
		ID:             model.NewID(),
		Label:          p.Label,
		Config:         orEmptyObject(p.Config),
		StrategyConfig: orEmptyObject(p.StrategyConfig),
		APIKey:         p.Auth.APIKey,
		Host:           p.Auth.Host,
		User:           p.Auth.User,
		CreatedAt:      now,
	}
	if err := ing.AppendHistory(model.StatusCreated, now); err != nil {
		return nil, err
	}

	err := s.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		_, err := sess.Exec(ctx,
			"INSERT INTO ingests ("+strings.Join(ingestColumns, ", ")+") VALUES ("+db.Placeholders(len(ingestColumns))+")",
			ing.ID, ing.Label, ing.Status, ing.Config, ing.StrategyConfig, ing.APIKey,
			ing.Host, ing.User, ing.History, ing.CreatedAt, ing.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create ingest: %w", err)
	}
	metrics.Get().Transitions.WithLabelValues(string(model.StatusCreated)).Inc()
	s.log.Info().Str("ingest_id", ing.ID.String()).Str("label", ing.Label).Msg("ingest created")
	return ing, nil
}

// ListFilter narrows ListIngests. An empty APIKey lists every ingest.
type ListFilter struct {
	APIKey string
	Status model.IngestStatus
}

// ListIngests streams ingests in creation order.
func (s *Service) ListIngests(ctx context.Context, f ListFilter) iter.Seq2[*model.Ingest, error] {
	q := store.PageQuery{
		Select: strings.Join(ingestColumns, ", "),
		From:   "ingests",
		ID:     "id",
		Size:   s.store.PageSize(),
	}
	if f.APIKey != "" {
		q.Where = append(q.Where, "api_key = ?")
		q.Args = append(q.Args, f.APIKey)
	}
	if f.Status != "" {
		q.Where = append(q.Where, "status = ?")
		q.Args = append(q.Args, f.Status)
	}
	return store.Paginate(ctx, s.runner, q,
		func() *model.Ingest { return &model.Ingest{} },
		func(i *model.Ingest) []any { return []any{i.ID} })
}

// Ingest returns a client scoped to one ingest. The ingest is not loaded.
func (s *Service) Ingest(id uuid.UUID) *Client {
	return &Client{svc: s, id: id, log: s.log.With().Str("ingest_id", id.String()).Logger()}
}

// NextTask claims the oldest pending task of any ingest for worker. It
// returns nil when no task is pending. Concurrent callers never receive the
// same task.
func (s *Service) NextTask(ctx context.Context, worker string) (*model.Task, error) {
	return s.claim(ctx, worker, uuid.Nil)
}

func (s *Service) claim(ctx context.Context, worker string, ingestID uuid.UUID) (*model.Task, error) {
	if worker == "" {
		return nil, fmt.Errorf("next task: worker name is required")
	}
	var task *model.Task
	err := s.runner.Run(ctx, db.Immediate, func(ctx context.Context, sess db.Session) error {
		task = nil
		query := selectTask() + " WHERE status = ?"
		args := []any{model.TaskPending}
		if ingestID != uuid.Nil {
			query += " AND ingest_id = ?"
			args = append(args, ingestID)
		}
		query += " ORDER BY id LIMIT 1" + sess.Locker().SkipLocked()

		var t model.Task
		if err := sess.Get(ctx, &t, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		now := model.Now()
		if _, err := sess.Exec(ctx,
			"UPDATE tasks SET worker = ?, status = ?, updated_at = ? WHERE id = ?",
			worker, model.TaskRunning, now, t.ID); err != nil {
			return err
		}
		t.Worker = &worker
		t.Status = model.TaskRunning
		t.UpdatedAt = now
		task = &t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("next task: %w", err)
	}

	m := metrics.Get()
	if task == nil {
		m.ClaimsEmpty.Inc()
		return nil, nil
	}
	m.TasksClaimed.WithLabelValues(string(task.Type)).Inc()
	s.log.Debug().
		Str("task_id", task.ID.String()).
		Str("ingest_id", task.IngestID.String()).
		Str("type", string(task.Type)).
		Str("worker", worker).
		Msg("task claimed")
	return task, nil
}

func orEmptyObject(doc json.RawMessage) model.JSON {
	if len(doc) == 0 {
		return model.JSON("{}")
	}
	return model.JSON(doc)
}
