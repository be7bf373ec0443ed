// Package store persists accepted net events to a local SQLite database so
// a monitoring run leaves a queryable record behind.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nmels/wfpmon/wfp"
)

// Store handles database operations.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// EventRecord is one persisted net event.
type EventRecord struct {
	ID         int64
	Timestamp  time.Time
	Kind       string
	Direction  string
	Protocol   string
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
	App        string
	User       string
	Package    string
	FilterID   uint64
	FilterName string
	LayerName  string
	Capability string
	Country    string
}

// Open creates or opens the event database under dataDir with WAL enabled.
func Open(dataDir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "wfpmon.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	log.Debug("event database ready", zap.String("path", dbPath))
	return &Store{db: db, log: log}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp   DATETIME NOT NULL,
		kind        TEXT NOT NULL,
		direction   TEXT NOT NULL,
		protocol    TEXT,
		local_addr  TEXT,
		local_port  INTEGER,
		remote_addr TEXT,
		remote_port INTEGER,
		app         TEXT,
		user_name   TEXT,
		package_sid TEXT,
		filter_id   INTEGER,
		filter_name TEXT,
		layer_name  TEXT,
		capability  TEXT,
		country     TEXT
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	matches := `
	CREATE TABLE IF NOT EXISTS sigma_matches (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp     DATETIME NOT NULL,
		rule_id       TEXT NOT NULL,
		rule_name     TEXT NOT NULL,
		severity      TEXT NOT NULL,
		match_details TEXT,
		event_data    TEXT
	);`

	if _, err := db.Exec(matches); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_timestamp ON events(timestamp);",
		"CREATE INDEX IF NOT EXISTS idx_kind ON events(kind);",
		"CREATE INDEX IF NOT EXISTS idx_remote_addr ON events(remote_addr);",
		"CREATE INDEX IF NOT EXISTS idx_app ON events(app);",
		"CREATE INDEX IF NOT EXISTS idx_match_rule ON sigma_matches(rule_id);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

// InsertEvent adds one accepted net event to the database.
func (s *Store) InsertEvent(ev wfp.LogicalEvent) error {
	query := `
		INSERT INTO events (
			timestamp, kind, direction, protocol,
			local_addr, local_port, remote_addr, remote_port,
			app, user_name, package_sid, filter_id, filter_name,
			layer_name, capability, country
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var local, remote string
	if ev.LocalAddr.IsValid() {
		local = ev.LocalAddr.String()
	}
	if ev.RemoteAddr.IsValid() {
		remote = ev.RemoteAddr.String()
	}
	var user string
	if ev.User != nil {
		user = ev.User.Domain + `\` + ev.User.Account
	}

	_, err := s.db.Exec(query,
		ev.Time,
		ev.Kind.String(),
		ev.Direction.String(),
		ev.Protocol,
		local,
		ev.LocalPort,
		remote,
		ev.RemotePort,
		ev.App,
		user,
		ev.Package,
		ev.FilterID,
		ev.FilterName,
		ev.LayerName,
		ev.Capability,
		ev.Country,
	)
	return err
}

// MatchRecord is one persisted Sigma rule match.
type MatchRecord struct {
	ID           int64
	Timestamp    time.Time
	RuleID       string
	RuleName     string
	Severity     string
	MatchDetails string
	EventData    string
}

// InsertMatch records one Sigma rule match. The triggering event is stored
// as JSON alongside the rule identity.
func (s *Store) InsertMatch(ruleID, ruleName, severity string, details []string, event map[string]interface{}) error {
	if severity == "" {
		severity = "medium"
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal match details: %v", err)
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %v", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sigma_matches (
			timestamp, rule_id, rule_name, severity, match_details, event_data
		) VALUES (datetime('now'), ?, ?, ?, ?, ?)`,
		ruleID, ruleName, severity, string(detailsJSON), string(eventJSON))
	return err
}

// RecentMatches returns up to limit matches, newest first.
func (s *Store) RecentMatches(limit int) ([]MatchRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, rule_id, rule_name, severity, match_details, event_data
		FROM sigma_matches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var r MatchRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.RuleID, &r.RuleName,
			&r.Severity, &r.MatchDetails, &r.EventData); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByKind returns how many stored events of each kind were recorded at
// or after since.
func (s *Store) CountByKind(since time.Time) (map[string]int64, error) {
	rows, err := s.db.Query(
		"SELECT kind, COUNT(*) FROM events WHERE timestamp >= ? GROUP BY kind", since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(limit int) ([]EventRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, kind, direction, protocol,
		       local_addr, local_port, remote_addr, remote_port,
		       app, user_name, package_sid, filter_id, filter_name,
		       layer_name, capability, country
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Kind, &r.Direction,
			&r.Protocol, &r.LocalAddr, &r.LocalPort, &r.RemoteAddr,
			&r.RemotePort, &r.App, &r.User, &r.Package, &r.FilterID,
			&r.FilterName, &r.LayerName, &r.Capability, &r.Country); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
