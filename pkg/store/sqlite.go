package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contexhq/contex/pkg/sqliteutil"
)

// SQLite stores projects, items and agents in a single-writer SQLite
// database. Vectors and needs are stored as JSON blobs so a restart
// rebuilds the in-memory index without re-embedding anything.
type SQLite struct {
	db *sql.DB
}

// Item and agent rows cascade when their project row is deleted, which
// is why sqliteutil enables the foreign_keys pragma.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		last_sequence INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		format TEXT NOT NULL DEFAULT '',
		vector TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		needs TEXT NOT NULL,
		webhook_url TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL DEFAULT '',
		cursor INTEGER NOT NULL DEFAULT 0,
		registered_at TEXT NOT NULL,
		PRIMARY KEY (project_id, id)
	)`,
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sqliteutil.Open(path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// ensureProject inserts the project row items and agents reference.
func ensureProject(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO projects (id, last_sequence) VALUES (?, 0) ON CONFLICT(id) DO NOTHING",
		projectID)
	return err
}

func (s *SQLite) SaveItem(ctx context.Context, projectID string, item Item) error {
	if projectID == "" || item.Key == "" {
		return ErrEmptyID
	}

	vectorJSON, err := json.Marshal(item.Vector)
	if err != nil {
		return fmt.Errorf("marshaling vector: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureProject(ctx, tx, projectID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO items (project_id, key, description, data, format, vector, sequence, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, key) DO UPDATE SET
		   description = excluded.description,
		   data = excluded.data,
		   format = excluded.format,
		   vector = excluded.vector,
		   sequence = excluded.sequence,
		   updated_at = excluded.updated_at`,
		projectID, item.Key, item.Description, string(item.Data), item.Format, string(vectorJSON),
		item.Sequence, item.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) GetItems(ctx context.Context, projectID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, description, data, format, vector, sequence, updated_at FROM items WHERE project_id = ? ORDER BY key",
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item       Item
			data       string
			vectorJSON string
			updatedAt  string
		)
		if err := rows.Scan(&item.Key, &item.Description, &data, &item.Format, &vectorJSON, &item.Sequence, &updatedAt); err != nil {
			return nil, err
		}
		item.Data = json.RawMessage(data)
		if err := json.Unmarshal([]byte(vectorJSON), &item.Vector); err != nil {
			return nil, fmt.Errorf("unmarshaling vector for %q: %w", item.Key, err)
		}
		if item.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for %q: %w", item.Key, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLite) SaveAgent(ctx context.Context, projectID string, agent Agent) error {
	if projectID == "" || agent.ID == "" {
		return ErrEmptyID
	}

	needsJSON, err := json.Marshal(agent.Needs)
	if err != nil {
		return fmt.Errorf("marshaling needs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureProject(ctx, tx, projectID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO agents (project_id, id, needs, webhook_url, secret, cursor, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, id) DO UPDATE SET
		   needs = excluded.needs,
		   webhook_url = excluded.webhook_url,
		   secret = excluded.secret,
		   cursor = excluded.cursor,
		   registered_at = excluded.registered_at`,
		projectID, agent.ID, string(needsJSON), agent.WebhookURL, agent.Secret,
		agent.Cursor, agent.RegisteredAt.Format(time.RFC3339))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) SaveCursor(ctx context.Context, projectID, agentID string, cursor int64) error {
	if projectID == "" || agentID == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET cursor = ? WHERE project_id = ? AND id = ?",
		cursor, projectID, agentID)
	return err
}

func (s *SQLite) DeleteAgent(ctx context.Context, projectID, agentID string) error {
	if projectID == "" || agentID == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM agents WHERE project_id = ? AND id = ?", projectID, agentID)
	return err
}

func (s *SQLite) GetAgents(ctx context.Context, projectID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, needs, webhook_url, secret, cursor, registered_at FROM agents WHERE project_id = ? ORDER BY id",
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var (
			agent        Agent
			needsJSON    string
			registeredAt string
		)
		if err := rows.Scan(&agent.ID, &needsJSON, &agent.WebhookURL, &agent.Secret, &agent.Cursor, &registeredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(needsJSON), &agent.Needs); err != nil {
			return nil, fmt.Errorf("unmarshaling needs for %q: %w", agent.ID, err)
		}
		if agent.RegisteredAt, err = time.Parse(time.RFC3339, registeredAt); err != nil {
			return nil, fmt.Errorf("parsing registered_at for %q: %w", agent.ID, err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func (s *SQLite) SaveSequence(ctx context.Context, projectID string, seq int64) error {
	if projectID == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, last_sequence) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_sequence = excluded.last_sequence`,
		projectID, seq)
	return err
}

func (s *SQLite) GetProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, last_sequence FROM projects ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.LastSequence); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes the project row; items and agents go with it
// via ON DELETE CASCADE.
func (s *SQLite) DeleteProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", projectID)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
