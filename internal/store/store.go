// Package store persists tasks, comments and the append-only event feed.
package store

import (
	"fmt"

	"github.com/missionctl/missionctl/internal/db"
	"github.com/missionctl/missionctl/internal/db/dialect"
)

// Store provides transactional access to the Mission Control tables.
type Store struct {
	db *db.Pool
}

// New creates a Store over the given pool and ensures the schema exists.
func New(pool *db.Pool) (*Store, error) {
	s := &Store{db: pool}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables and indexes if they don't exist. Statements
// run one at a time because the pgx driver rejects multi-statement strings.
func (s *Store) initSchema() error {
	driver := s.db.DriverName()
	jsonType := dialect.JSONType(driver)
	tsType := dialect.TimestampType(driver)

	stmts := []string{
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'INBOX',
		assignee TEXT,
		tags %s NOT NULL DEFAULT '[]',
		created_at %s NOT NULL,
		updated_at %s NOT NULL
	)`, jsonType, tsType, tsType),
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at %s NOT NULL
	)`, tsType),
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		agent TEXT,
		task_id TEXT,
		payload %s NOT NULL DEFAULT '{}',
		created_at %s NOT NULL
	)`, jsonType, tsType),
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS agent_skill_mappings (
		id TEXT PRIMARY KEY,
		agent_slug TEXT NOT NULL,
		skill_slug TEXT NOT NULL,
		created_at %s NOT NULL,
		UNIQUE (agent_slug, skill_slug)
	)`, tsType),
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_updated_at ON tasks(status, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_task_id ON comments(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_created_at ON events(type, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_skill_mappings_agent_slug ON agent_skill_mappings(agent_slug)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Writer().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
