package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/metrics"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
)

const (
	subjectConfigPath = "subject_config"
	codeSerialPath    = subjectConfigPath + ".code_serial"
	codeFormatPath    = subjectConfigPath + ".code_format"
	mapKeysPath       = subjectConfigPath + ".map_keys"

	defaultCodeFormat = "{SubjectCode}"
)

// codePlaceholder matches {SubjectCode} and the width forms {SubjectCode:3d}
// (space padded) and {SubjectCode:03d} (zero padded).
var codePlaceholder = regexp.MustCompile(`\{SubjectCode(?::(0?)(\d+)d?)?\}`)

// FormatSubjectCode renders a subject code format for serial.
func FormatSubjectCode(format string, serial int64) string {
	if format == "" {
		format = defaultCodeFormat
	}
	return codePlaceholder.ReplaceAllStringFunc(format, func(m string) string {
		sub := codePlaceholder.FindStringSubmatch(m)
		if sub[2] == "" {
			return strconv.FormatInt(serial, 10)
		}
		width, _ := strconv.Atoi(sub[2])
		if sub[1] == "0" {
			return fmt.Sprintf("%0*d", width, serial)
		}
		return fmt.Sprintf("%*d", width, serial)
	})
}

// subjectMapKey is the canonical encoding of a map-values tuple.
func subjectMapKey(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode subject map values: %w", err)
	}
	return string(data), nil
}

// ResolveSubject returns the subject code for mapValues, issuing the next
// code from the ingest's subject_config when the tuple is new. Issuance and
// the serial increment commit together under the ingest's lock, so equal
// tuples always receive the same code and serials never repeat.
func (c *Client) ResolveSubject(ctx context.Context, mapValues []string) (string, error) {
	key, err := subjectMapKey(mapValues)
	if err != nil {
		return "", err
	}
	var (
		code   string
		issued bool
	)
	err = c.svc.runner.Run(ctx, db.Immediate, func(ctx context.Context, sess db.Session) error {
		issued = false
		ing, err := loadIngest(ctx, sess, c.id, true)
		if err != nil {
			return err
		}

		err = sess.Get(ctx, &code, "SELECT code FROM subjects WHERE ingest_id = ? AND map_key = ?", c.id, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("look up subject: %w", err)
		}

		cfg := gjson.GetBytes(ing.Config, subjectConfigPath)
		if !cfg.IsObject() {
			return fmt.Errorf("%w: ingest has no subject_config", ErrPrecondition)
		}
		serial := cfg.Get("code_serial").Int() + 1
		code = FormatSubjectCode(cfg.Get("code_format").String(), serial)

		updated, err := sjson.SetBytes(ing.Config, codeSerialPath, serial)
		if err != nil {
			return fmt.Errorf("update code serial: %w", err)
		}
		if _, err := sess.Exec(ctx, "UPDATE ingests SET config = ?, updated_at = ? WHERE id = ?",
			json.RawMessage(updated), model.Now(), c.id); err != nil {
			return fmt.Errorf("store code serial: %w", err)
		}
		issued = true
		return store.InsertRows(ctx, sess, model.KindSubject, c.id, []model.Mapping{{
			"code":       code,
			"map_key":    key,
			"map_values": json.RawMessage(key),
		}})
	})
	if err != nil {
		return "", fmt.Errorf("resolve subject: %w", err)
	}
	if issued {
		metrics.Get().SubjectsIssued.Inc()
		c.log.Debug().Str("code", code).Msg("subject code issued")
	}
	return code, nil
}

// SubjectMapKeys returns the map key names configured for the ingest.
func SubjectMapKeys(ing *model.Ingest) []string {
	var keys []string
	for _, k := range gjson.GetBytes(ing.Config, mapKeysPath).Array() {
		keys = append(keys, k.String())
	}
	return keys
}

// SubjectCodeFormat returns the configured subject code format.
func SubjectCodeFormat(ing *model.Ingest) string {
	if f := gjson.GetBytes(ing.Config, codeFormatPath).String(); f != "" {
		return f
	}
	return defaultCodeFormat
}
