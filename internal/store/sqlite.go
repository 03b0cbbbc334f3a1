// Package store persists responses and questionnaires in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

// ErrConflict is returned when creating a record whose id already exists.
var ErrConflict = errors.New("already exists")

// SQLiteStore keeps each aggregate as a JSON document next to the columns
// used for filtering.
type SQLiteStore struct {
	db *sqlx.DB
	mu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS responses (
	id               TEXT PRIMARY KEY,
	campaign_id      TEXT NOT NULL DEFAULT '',
	questionnaire_id TEXT NOT NULL,
	status           TEXT NOT NULL,
	processing_error TEXT NOT NULL DEFAULT '',
	document         TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS responses_status ON responses (status);
CREATE INDEX IF NOT EXISTS responses_campaign ON responses (campaign_id);

CREATE TABLE IF NOT EXISTS questionnaires (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	scoring_type TEXT NOT NULL,
	document     TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type responseRow struct {
	ID              string `db:"id"`
	CampaignID      string `db:"campaign_id"`
	QuestionnaireID string `db:"questionnaire_id"`
	Status          string `db:"status"`
	ProcessingError string `db:"processing_error"`
	Document        string `db:"document"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

func rowFor(r *response.Response) (responseRow, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return responseRow{}, fmt.Errorf("encode response %s: %w", r.ID, err)
	}
	return responseRow{
		ID:              r.ID,
		CampaignID:      r.CampaignID,
		QuestionnaireID: r.QuestionnaireID,
		Status:          string(r.Status),
		ProcessingError: r.ProcessingError,
		Document:        string(doc),
		CreatedAt:       timeToString(r.CreatedAt),
		UpdatedAt:       timeToString(r.UpdatedAt),
	}, nil
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateResponse inserts a new response and fails with ErrConflict when the
// id is taken.
func (s *SQLiteStore) CreateResponse(ctx context.Context, r *response.Response) error {
	row, err := rowFor(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.NamedExecContext(ctx, `INSERT INTO responses
		(id, campaign_id, questionnaire_id, status, processing_error, document, created_at, updated_at)
		VALUES (:id, :campaign_id, :questionnaire_id, :status, :processing_error, :document, :created_at, :updated_at)`, row)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("response %s: %w", r.ID, ErrConflict)
	}
	return err
}

func (s *SQLiteStore) SaveResponse(ctx context.Context, r *response.Response) error {
	row, err := rowFor(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO responses
		(id, campaign_id, questionnaire_id, status, processing_error, document, created_at, updated_at)
		VALUES (:id, :campaign_id, :questionnaire_id, :status, :processing_error, :document, :created_at, :updated_at)`, row)
	return err
}

func (s *SQLiteStore) GetResponse(ctx context.Context, id string) (*response.Response, error) {
	var row responseRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM responses WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("response %s: %w", id, response.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var r response.Response
	if err := json.Unmarshal([]byte(row.Document), &r); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", id, err)
	}
	return &r, nil
}

// Summary is the listing view of a response.
type Summary struct {
	ID              string          `db:"id" json:"id"`
	CampaignID      string          `db:"campaign_id" json:"campaign_id"`
	QuestionnaireID string          `db:"questionnaire_id" json:"questionnaire_id"`
	Status          response.Status `db:"status" json:"processing_status"`
	ProcessingError string          `db:"processing_error" json:"processing_error,omitempty"`
	UpdatedAt       string          `db:"updated_at" json:"updated_at"`
}

type Filter struct {
	Status     response.Status
	CampaignID string
	Limit      int
}

func (s *SQLiteStore) ListResponses(ctx context.Context, f Filter) ([]Summary, error) {
	query := `SELECT id, campaign_id, questionnaire_id, status, processing_error, updated_at FROM responses`
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.CampaignID != "" {
		where = append(where, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	out := []Summary{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// IDsInStatus returns the ids of every response in one of the statuses.
func (s *SQLiteStore) IDsInStatus(ctx context.Context, statuses ...response.Status) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	query, args, err := sqlx.In(`SELECT id FROM responses WHERE status IN (?) ORDER BY created_at, id`, values)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return ids, nil
}

// CountByStatus returns the number of responses per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[response.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM responses GROUP BY status`); err != nil {
		return nil, err
	}
	out := make(map[response.Status]int, len(rows))
	for _, r := range rows {
		out[response.Status(r.Status)] = r.N
	}
	return out, nil
}

func (s *SQLiteStore) PutQuestionnaire(ctx context.Context, q *questionnaire.Questionnaire) error {
	if err := q.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode questionnaire %s: %w", q.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO questionnaires (id, title, scoring_type, document, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.Title, string(q.ScoringType), string(doc), timeToString(time.Now()))
	return err
}

// ImportCatalog stores every questionnaire in one transaction.
func (s *SQLiteStore) ImportCatalog(ctx context.Context, qs []*questionnaire.Questionnaire) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := timeToString(time.Now())
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			return err
		}
		doc, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode questionnaire %s: %w", q.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO questionnaires (id, title, scoring_type, document, updated_at)
			VALUES (?, ?, ?, ?, ?)`, q.ID, q.Title, string(q.ScoringType), string(doc), now); err != nil {
			return fmt.Errorf("store questionnaire %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetQuestionnaire(ctx context.Context, id string) (*questionnaire.Questionnaire, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, `SELECT document FROM questionnaires WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("questionnaire %s: %w", id, response.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var q questionnaire.Questionnaire
	if err := json.Unmarshal([]byte(doc), &q); err != nil {
		return nil, fmt.Errorf("decode questionnaire %s: %w", id, err)
	}
	return &q, nil
}

func (s *SQLiteStore) ListQuestionnaires(ctx context.Context) ([]*questionnaire.Questionnaire, error) {
	var docs []string
	if err := s.db.SelectContext(ctx, &docs, `SELECT document FROM questionnaires ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]*questionnaire.Questionnaire, 0, len(docs))
	for _, doc := range docs {
		var q questionnaire.Questionnaire
		if err := json.Unmarshal([]byte(doc), &q); err != nil {
			return nil, err
		}
		out = append(out, &q)
	}
	return out, nil
}
