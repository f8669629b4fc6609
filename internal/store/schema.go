package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/gyeh/ingestflow/internal/model"
)

type colType int

const (
	colText colType = iota
	colUUID
	colJSON
	colTime
	colBool
	colInt
	colTaskType
	colTaskStatus
)

type column struct {
	name     string
	typ      colType
	required bool
	zero     any // value used when an insert mapping omits the column; nil means NULL
}

type schema struct {
	info      model.KindInfo
	columns   []column
	byName    map[string]column
	newRecord func() model.Record
	crud      bool // addressable by the generic CRUD verbs, not only Bulk
	updatedAt bool
}

func (s *schema) names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.name
	}
	return out
}

func (s *schema) column(name string) (column, error) {
	c, ok := s.byName[name]
	if !ok {
		return column{}, fmt.Errorf("%w: %s has no column %q", ErrInvalidColumn, s.info.Name, name)
	}
	return c, nil
}

var base = []column{
	{name: "id", typ: colUUID},
	{name: "ingest_id", typ: colUUID},
}

func newSchema(kind model.Kind, crud bool, newRecord func() model.Record, cols ...column) *schema {
	info, _ := kind.Info()
	s := &schema{info: info, newRecord: newRecord, crud: crud, byName: map[string]column{}}
	s.columns = append(append(append([]column{}, base...), cols...), column{name: "created_at", typ: colTime})
	for _, c := range s.columns {
		if c.name == "updated_at" {
			s.updatedAt = true
		}
		s.byName[c.name] = c
	}
	return s
}

var schemas = map[model.Kind]*schema{
	model.KindTask: newSchema(model.KindTask, true, func() model.Record { return &model.Task{} },
		column{name: "type", typ: colTaskType, required: true},
		column{name: "status", typ: colTaskStatus, zero: string(model.TaskPending)},
		column{name: "worker", typ: colText},
		column{name: "context", typ: colJSON},
		column{name: "completed", typ: colInt, zero: int64(0)},
		column{name: "total", typ: colInt, zero: int64(0)},
		column{name: "error", typ: colText},
		column{name: "updated_at", typ: colTime},
	),
	model.KindContainer: newSchema(model.KindContainer, true, func() model.Record { return &model.Container{} },
		column{name: "parent_id", typ: colUUID},
		column{name: "level", typ: colInt, zero: int64(0)},
		column{name: "path", typ: colText, required: true},
		column{name: "src_context", typ: colJSON},
		column{name: "dst_context", typ: colJSON},
		column{name: "dst_path", typ: colText},
		column{name: "existing", typ: colBool, zero: false},
	),
	model.KindItem: newSchema(model.KindItem, true, func() model.Record { return &model.Item{} },
		column{name: "container_id", typ: colUUID},
		column{name: "task_id", typ: colUUID},
		column{name: "type", typ: colText, required: true},
		column{name: "dir", typ: colText, required: true},
		column{name: "filename", typ: colText},
		column{name: "files", typ: colJSON},
		column{name: "files_cnt", typ: colInt, zero: int64(0)},
		column{name: "bytes_sum", typ: colInt, zero: int64(0)},
		column{name: "context", typ: colJSON},
		column{name: "existing", typ: colBool, zero: false},
		column{name: "skipped", typ: colBool, zero: false},
	),
	model.KindItemError: newSchema(model.KindItemError, false, func() model.Record { return &model.ItemError{} },
		column{name: "item_id", typ: colUUID, required: true},
		column{name: "task_id", typ: colUUID},
		column{name: "code", typ: colText, required: true},
		column{name: "message", typ: colText, zero: ""},
	),
	model.KindDeidLog: newSchema(model.KindDeidLog, true, func() model.Record { return &model.DeidLog{} },
		column{name: "path", typ: colText, required: true},
		column{name: "tags_before", typ: colJSON},
		column{name: "tags_after", typ: colJSON},
	),
	model.KindSubject: newSchema(model.KindSubject, false, func() model.Record { return &model.Subject{} },
		column{name: "code", typ: colText, required: true},
		column{name: "map_key", typ: colText, required: true},
		column{name: "map_values", typ: colJSON},
	),
	model.KindReviewChange: newSchema(model.KindReviewChange, false, func() model.Record { return &model.ReviewChange{} },
		column{name: "path", typ: colText, required: true},
		column{name: "skip", typ: colBool, zero: false},
		column{name: "context", typ: colJSON},
	),
}

// lookup resolves kind for a verb; crudOnly restricts it to the kinds the
// generic CRUD verbs accept.
func lookup(kind model.Kind, crudOnly bool) (*schema, error) {
	s, ok := schemas[kind]
	if !ok || (crudOnly && !s.crud) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return s, nil
}

// coerce converts a mapping value into the form the column stores.
func (c column) coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.typ {
	case colUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case uuid.NullUUID:
			if !x.Valid {
				return nil, nil
			}
			return x.UUID, nil
		case string:
			id, err := uuid.Parse(x)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidColumn, c.name, err)
			}
			return id, nil
		}
	case colJSON:
		switch x := v.(type) {
		case json.RawMessage:
			return x, nil
		case model.JSON:
			return json.RawMessage(x), nil
		case []byte:
			return json.RawMessage(x), nil
		case string:
			return json.RawMessage(x), nil
		default:
			data, err := json.Marshal(x)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidColumn, c.name, err)
			}
			return json.RawMessage(data), nil
		}
	case colTime:
		switch x := v.(type) {
		case model.Time:
			return x, nil
		case time.Time:
			return model.Time{Time: x.UTC().Truncate(time.Microsecond)}, nil
		case string:
			var t model.Time
			if err := t.Scan(x); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidColumn, c.name, err)
			}
			return t, nil
		}
	case colInt:
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%w: %s: %v is not an integer", ErrInvalidColumn, c.name, x)
			}
			return int64(x), nil
		case json.Number:
			n, err := x.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidColumn, c.name, err)
			}
			return n, nil
		}
		return v, nil
	case colTaskType:
		t, err := model.ParseTaskType(enumText(v))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidColumn, c.name, err)
		}
		return string(t), nil
	case colTaskStatus:
		st, err := model.ParseTaskStatus(enumText(v))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidColumn, c.name, err)
		}
		return string(st), nil
	default:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s: unsupported value type %T", ErrInvalidColumn, c.name, v)
}

// enumText returns the text of a string-valued enum, or a rendering that no
// enum parser accepts.
func enumText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case model.TaskType:
		return string(x)
	case model.TaskStatus:
		return string(x)
	}
	return fmt.Sprintf("%T(%v)", v, v)
}
