package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DriverSQLite and DriverPostgres are the supported database/sql drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLTaskStore implements TaskRepository over database/sql. Each row carries
// a JCS-canonical payload hash chained to the previous entry, so tampering
// with stored tasks breaks the chain.
type SQLTaskStore struct {
	db     *sql.DB
	driver string

	mu        sync.Mutex
	chainHead string
}

// NewSQLTaskStore creates the store and runs its migration. driver must be
// DriverSQLite or DriverPostgres.
func NewSQLTaskStore(db *sql.DB, driver string) (*SQLTaskStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported audit driver: %s", driver)
	}
	s := &SQLTaskStore{db: db, driver: driver, chainHead: "genesis"}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	if err := s.loadChainHead(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLTaskStore) migrate() error {
	// SQLite rows carry an implicit rowid; Postgres needs an explicit
	// sequence column to order the chain reliably.
	seq := ""
	if s.driver == DriverPostgres {
		seq = "seq BIGSERIAL,\n        "
	}
	query := `
    CREATE TABLE IF NOT EXISTS execution_tasks (
        ` + seq + `task_id TEXT PRIMARY KEY,
        event_id TEXT,
        action_name TEXT NOT NULL,
        action_args TEXT,
        action_server_id TEXT,
        started_at TEXT,
        ended_at TEXT,
        status TEXT NOT NULL,
        failure_reason TEXT,
        response_status INTEGER NOT NULL DEFAULT 0,
        payload_hash TEXT NOT NULL,
        prev_hash TEXT NOT NULL DEFAULT '',
        entry_hash TEXT NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate execution_tasks: %w", err)
	}
	return nil
}

func (s *SQLTaskStore) loadChainHead() error {
	query := `SELECT entry_hash FROM execution_tasks ORDER BY rowid DESC LIMIT 1`
	if s.driver == DriverPostgres {
		query = `SELECT entry_hash FROM execution_tasks ORDER BY seq DESC LIMIT 1`
	}
	var head string
	err := s.db.QueryRowContext(context.Background(), query).Scan(&head)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("load audit chain head: %w", err)
	}
	s.chainHead = head
	return nil
}

func (s *SQLTaskStore) CreateTask(ctx context.Context, task *ExecutionTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("serialize task: %w", err)
	}
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return fmt.Errorf("canonicalize task: %w", err)
	}
	payloadHash := computeHash(canonical)

	argsJSON, _ := json.Marshal(task.ActionArgs)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.chainHead
	entryHash := computeHash([]byte(prev + payloadHash))

	query := s.rebind(`INSERT INTO execution_tasks (
        task_id, event_id, action_name, action_args, action_server_id,
        started_at, ended_at, status, failure_reason, response_status,
        payload_hash, prev_hash, entry_hash
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.EventID, task.ActionName, string(argsJSON), task.ActionServerID,
		task.StartedAt.UTC().Format(time.RFC3339Nano), task.EndedAt.UTC().Format(time.RFC3339Nano),
		string(task.Status), task.FailureReason, task.ResponseStatus,
		payloadHash, prev, entryHash,
	)
	if err != nil {
		return fmt.Errorf("insert execution task: %w", err)
	}
	s.chainHead = entryHash
	return nil
}

func (s *SQLTaskStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func computeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
