/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	code            TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	card_set        TEXT NOT NULL,
	anonymous_votes INTEGER NOT NULL DEFAULT 0,
	current_task_id TEXT,
	is_revealed     INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id               TEXT PRIMARY KEY,
	connection_id    TEXT NOT NULL,
	room_code        TEXT NOT NULL,
	name             TEXT NOT NULL,
	role             TEXT NOT NULL,
	mode             TEXT NOT NULL DEFAULT '',
	current_estimate TEXT,
	joined_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS participants_room ON participants (room_code);
CREATE INDEX IF NOT EXISTS participants_connection ON participants (connection_id);

CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	room_code      TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT,
	final_estimate TEXT,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS tasks_room ON tasks (room_code);

CREATE TABLE IF NOT EXISTS estimates (
	task_id        TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	estimate       TEXT NOT NULL,
	PRIMARY KEY (task_id, participant_id)
);

CREATE INDEX IF NOT EXISTS estimates_participant ON estimates (participant_id);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA temp_store=MEMORY",
}

type SQLiteConfig struct {
	// Path is the database file. ":memory:" gives a private database
	// that lives as long as the store.
	Path string

	// PoolSize defaults to 4. It is forced to 1 for ":memory:", since
	// every in-memory connection would otherwise see its own database.
	PoolSize int

	Logger *slog.Logger
}

// SQLite persists records through a pool of zombiezen connections.
// Each Tx takes one connection and wraps fn in an IMMEDIATE transaction.
type SQLite struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	if cfg.Path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite store opened",
		"path", cfg.Path,
		"pool_size", poolSize,
	)

	return &SQLite{
		pool:   pool,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}

	return nil
}

func (s *SQLite) Tx(ctx context.Context, fn func(Records) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(&sqliteRecords{conn: conn})
}

func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close error",
			"path", s.path,
			"error", err,
		)

		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}

	s.logger.Info("sqlite store closed", "path", s.path)

	return nil
}

type sqliteRecords struct {
	conn *sqlite.Conn
}

func (r *sqliteRecords) exec(query string, args ...any) error {
	return sqlitex.Execute(r.conn, query, &sqlitex.ExecOptions{
		Args: args,
	})
}

func (r *sqliteRecords) query(query string, fn func(stmt *sqlite.Stmt) error, args ...any) error {
	return sqlitex.Execute(r.conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: fn,
	})
}

// execOne runs a write that must touch at least one row.
func (r *sqliteRecords) execOne(query string, args ...any) error {
	if err := r.exec(query, args...); err != nil {
		return err
	}

	if r.conn.Changes() == 0 {
		return ErrNotFound
	}

	return nil
}

// insert runs an INSERT ... ON CONFLICT DO NOTHING and reports a skipped
// row as a conflict.
func (r *sqliteRecords) insert(query string, args ...any) error {
	if err := r.exec(query, args...); err != nil {
		return err
	}

	if r.conn.Changes() == 0 {
		return ErrConflict
	}

	return nil
}

func (r *sqliteRecords) roomExists(code string) (bool, error) {
	found := false

	err := r.query(`SELECT 1 FROM rooms WHERE code = ?`, func(stmt *sqlite.Stmt) error {
		found = true

		return nil
	}, code)

	return found, err
}

func (r *sqliteRecords) CreateRoom(room Room) error {
	cardSet, err := json.Marshal(room.CardSet)
	if err != nil {
		return fmt.Errorf("store: encoding card set: %w", err)
	}

	return r.insert(`
		INSERT INTO rooms (code, name, card_set, anonymous_votes, current_task_id, is_revealed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING`,
		room.Code,
		room.Name,
		string(cardSet),
		boolInt(room.AnonymousVotes),
		emptyNull(room.CurrentTaskID),
		boolInt(room.IsRevealed),
		room.CreatedAt.UnixNano(),
	)
}

func (r *sqliteRecords) GetRoom(code string) (Room, error) {
	var (
		room  Room
		found bool
	)

	err := r.query(`
		SELECT code, name, card_set, anonymous_votes, current_task_id, is_revealed, created_at
		FROM rooms WHERE code = ?`,
		func(stmt *sqlite.Stmt) error {
			found = true

			room.Code = stmt.ColumnText(0)
			room.Name = stmt.ColumnText(1)
			if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &room.CardSet); err != nil {
				return fmt.Errorf("store: decoding card set for room %s: %w", room.Code, err)
			}
			room.AnonymousVotes = stmt.ColumnInt64(3) != 0
			room.CurrentTaskID = stmt.ColumnText(4)
			room.IsRevealed = stmt.ColumnInt64(5) != 0
			room.CreatedAt = time.Unix(0, stmt.ColumnInt64(6))

			return nil
		}, code)
	if err != nil {
		return Room{}, err
	}

	if !found {
		return Room{}, ErrNotFound
	}

	return room, nil
}

func (r *sqliteRecords) ListRoomCodes() ([]string, error) {
	var codes []string

	err := r.query(`SELECT code FROM rooms ORDER BY created_at, rowid`,
		func(stmt *sqlite.Stmt) error {
			codes = append(codes, stmt.ColumnText(0))

			return nil
		})
	if err != nil {
		return nil, err
	}

	return codes, nil
}

func (r *sqliteRecords) UpdateRoom(code string, patch RoomPatch) error {
	room, err := r.GetRoom(code)
	if err != nil {
		return err
	}

	if patch.CardSet != nil {
		room.CardSet = patch.CardSet
	}
	if patch.AnonymousVotes != nil {
		room.AnonymousVotes = *patch.AnonymousVotes
	}
	if patch.CurrentTaskID != nil {
		room.CurrentTaskID = *patch.CurrentTaskID
	}
	if patch.IsRevealed != nil {
		room.IsRevealed = *patch.IsRevealed
	}

	cardSet, err := json.Marshal(room.CardSet)
	if err != nil {
		return fmt.Errorf("store: encoding card set: %w", err)
	}

	return r.execOne(`
		UPDATE rooms
		SET card_set = ?, anonymous_votes = ?, current_task_id = ?, is_revealed = ?
		WHERE code = ?`,
		string(cardSet),
		boolInt(room.AnonymousVotes),
		emptyNull(room.CurrentTaskID),
		boolInt(room.IsRevealed),
		code,
	)
}

func (r *sqliteRecords) DeleteRoom(code string) error {
	if err := r.exec(`
		DELETE FROM estimates
		WHERE task_id IN (SELECT id FROM tasks WHERE room_code = ?)`, code); err != nil {
		return err
	}

	if err := r.exec(`DELETE FROM tasks WHERE room_code = ?`, code); err != nil {
		return err
	}

	if err := r.exec(`DELETE FROM participants WHERE room_code = ?`, code); err != nil {
		return err
	}

	return r.execOne(`DELETE FROM rooms WHERE code = ?`, code)
}

func (r *sqliteRecords) CreateParticipant(p Participant) error {
	exists, err := r.roomExists(p.RoomCode)
	if err != nil {
		return err
	}

	if !exists {
		return ErrNotFound
	}

	return r.insert(`
		INSERT INTO participants (id, connection_id, room_code, name, role, mode, current_estimate, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.ID,
		p.ConnectionID,
		p.RoomCode,
		p.Name,
		p.Role,
		p.Mode,
		nullable(p.CurrentEstimate),
		p.JoinedAt.UnixNano(),
	)
}

const participantColumns = `id, connection_id, room_code, name, role, mode, current_estimate, joined_at`

func scanParticipant(stmt *sqlite.Stmt) Participant {
	return Participant{
		ID:              stmt.ColumnText(0),
		ConnectionID:    stmt.ColumnText(1),
		RoomCode:        stmt.ColumnText(2),
		Name:            stmt.ColumnText(3),
		Role:            stmt.ColumnText(4),
		Mode:            stmt.ColumnText(5),
		CurrentEstimate: columnString(stmt, 6),
		JoinedAt:        time.Unix(0, stmt.ColumnInt64(7)),
	}
}

func (r *sqliteRecords) GetParticipantByConnection(connectionID string) (Participant, error) {
	var (
		p     Participant
		found bool
	)

	err := r.query(`SELECT `+participantColumns+` FROM participants WHERE connection_id = ? ORDER BY rowid LIMIT 1`,
		func(stmt *sqlite.Stmt) error {
			p = scanParticipant(stmt)
			found = true

			return nil
		}, connectionID)
	if err != nil {
		return Participant{}, err
	}

	if !found {
		return Participant{}, ErrNotFound
	}

	return p, nil
}

func (r *sqliteRecords) ListParticipants(roomCode string) ([]Participant, error) {
	var out []Participant

	err := r.query(`SELECT `+participantColumns+` FROM participants WHERE room_code = ? ORDER BY rowid`,
		func(stmt *sqlite.Stmt) error {
			out = append(out, scanParticipant(stmt))

			return nil
		}, roomCode)

	return out, err
}

func (r *sqliteRecords) UpdateParticipant(p Participant) error {
	return r.execOne(`
		UPDATE participants
		SET connection_id = ?, room_code = ?, name = ?, role = ?, mode = ?, current_estimate = ?
		WHERE id = ?`,
		p.ConnectionID,
		p.RoomCode,
		p.Name,
		p.Role,
		p.Mode,
		nullable(p.CurrentEstimate),
		p.ID,
	)
}

func (r *sqliteRecords) ClearCurrentEstimates(roomCode string) error {
	return r.exec(`UPDATE participants SET current_estimate = NULL WHERE room_code = ?`, roomCode)
}

func (r *sqliteRecords) DeleteParticipant(id string) error {
	return r.execOne(`DELETE FROM participants WHERE id = ?`, id)
}

func (r *sqliteRecords) CreateTask(t Task) error {
	exists, err := r.roomExists(t.RoomCode)
	if err != nil {
		return err
	}

	if !exists {
		return ErrNotFound
	}

	return r.insert(`
		INSERT INTO tasks (id, room_code, title, description, final_estimate, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		t.ID,
		t.RoomCode,
		t.Title,
		nullable(t.Description),
		nullable(t.FinalEstimate),
		t.CreatedAt.UnixNano(),
	)
}

func (r *sqliteRecords) ListTasks(roomCode string) ([]Task, error) {
	var out []Task

	err := r.query(`
		SELECT id, room_code, title, description, final_estimate, created_at
		FROM tasks WHERE room_code = ? ORDER BY rowid`,
		func(stmt *sqlite.Stmt) error {
			out = append(out, Task{
				ID:            stmt.ColumnText(0),
				RoomCode:      stmt.ColumnText(1),
				Title:         stmt.ColumnText(2),
				Description:   columnString(stmt, 3),
				FinalEstimate: columnString(stmt, 4),
				CreatedAt:     time.Unix(0, stmt.ColumnInt64(5)),
			})

			return nil
		}, roomCode)

	return out, err
}

func (r *sqliteRecords) UpdateTask(t Task) error {
	return r.execOne(`
		UPDATE tasks
		SET title = ?, description = ?, final_estimate = ?
		WHERE id = ?`,
		t.Title,
		nullable(t.Description),
		nullable(t.FinalEstimate),
		t.ID,
	)
}

func (r *sqliteRecords) DeleteTask(id string) error {
	return r.execOne(`DELETE FROM tasks WHERE id = ?`, id)
}

func (r *sqliteRecords) UpsertEstimate(e Estimate) error {
	return r.exec(`
		INSERT INTO estimates (task_id, participant_id, estimate)
		VALUES (?, ?, ?)
		ON CONFLICT (task_id, participant_id) DO UPDATE SET estimate = excluded.estimate`,
		e.TaskID,
		e.ParticipantID,
		e.Estimate,
	)
}

func (r *sqliteRecords) ListEstimates(roomCode string) ([]Estimate, error) {
	var out []Estimate

	err := r.query(`
		SELECT e.task_id, e.participant_id, e.estimate
		FROM estimates e
		JOIN tasks t ON t.id = e.task_id
		WHERE t.room_code = ?
		ORDER BY e.rowid`,
		func(stmt *sqlite.Stmt) error {
			out = append(out, Estimate{
				TaskID:        stmt.ColumnText(0),
				ParticipantID: stmt.ColumnText(1),
				Estimate:      stmt.ColumnText(2),
			})

			return nil
		}, roomCode)

	return out, err
}

func (r *sqliteRecords) DeleteEstimate(taskID, participantID string) error {
	return r.execOne(`DELETE FROM estimates WHERE task_id = ? AND participant_id = ?`, taskID, participantID)
}

func (r *sqliteRecords) DeleteTaskEstimates(taskID string) error {
	return r.exec(`DELETE FROM estimates WHERE task_id = ?`, taskID)
}

func (r *sqliteRecords) DeleteParticipantEstimates(participantID string) error {
	return r.exec(`DELETE FROM estimates WHERE participant_id = ?`, participantID)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}

	return *s
}

func emptyNull(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func columnString(stmt *sqlite.Stmt, col int) *string {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}

	s := stmt.ColumnText(col)

	return &s
}
