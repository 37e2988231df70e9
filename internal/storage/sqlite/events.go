package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

const eventColumns = `id, event_id, event_type, sub_kind, severity, primary_hex, primary_callsign,
	secondary_hex, secondary_callsign, dedup_key, details, snapshot, snapshot_2, timestamp, created_at`

// EventStorage handles storage of safety events
type EventStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewEventStorage creates a new SQLite event storage
func NewEventStorage(db *sql.DB, log *logger.Logger) (*EventStorage, error) {
	storage := &EventStorage{
		db:     db,
		logger: log.Named("sqlite-events"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize event storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *EventStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS safety_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			sub_kind TEXT,
			severity TEXT NOT NULL,
			primary_hex TEXT NOT NULL,
			primary_callsign TEXT,
			secondary_hex TEXT,
			secondary_callsign TEXT,
			dedup_key TEXT NOT NULL,
			details TEXT NOT NULL,
			snapshot TEXT,
			snapshot_2 TEXT,
			timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create safety_events table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_safety_events_timestamp ON safety_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_safety_events_type ON safety_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_safety_events_primary_hex ON safety_events(primary_hex)`,
		`CREATE INDEX IF NOT EXISTS idx_safety_events_secondary_hex ON safety_events(secondary_hex)`,
		`CREATE INDEX IF NOT EXISTS idx_safety_events_dedup_key ON safety_events(dedup_key)`,
	}

	for _, indexSQL := range indexes {
		if _, err = s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create safety event index: %w", err)
		}
	}

	return nil
}

// StoreEvent stores a safety event and returns its row id
func (s *EventStorage) StoreEvent(ctx context.Context, event safety.SafetyEvent) (int64, error) {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return 0, fmt.Errorf("failed to encode details: %w", err)
	}
	snapshot, err := json.Marshal(event.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	var snapshot2 sql.NullString
	if event.Snapshot2 != nil {
		b, err := json.Marshal(event.Snapshot2)
		if err != nil {
			return 0, fmt.Errorf("failed to encode second snapshot: %w", err)
		}
		snapshot2 = sql.NullString{String: string(b), Valid: true}
	}

	var secondaryHex, secondaryCallsign sql.NullString
	if event.Secondary != nil {
		secondaryHex = sql.NullString{String: event.Secondary.Hex, Valid: true}
		secondaryCallsign = sql.NullString{String: event.Secondary.Callsign, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO safety_events
		(event_id, event_type, sub_kind, severity, primary_hex, primary_callsign, secondary_hex,
		 secondary_callsign, dedup_key, details, snapshot, snapshot_2, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		string(event.Type),
		event.SubKind,
		string(event.Severity),
		event.Primary.Hex,
		event.Primary.Callsign,
		secondaryHex,
		secondaryCallsign,
		event.DedupKey,
		string(details),
		string(snapshot),
		snapshot2,
		event.DetectedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert safety event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	s.logger.Debug("Stored safety event",
		logger.Int64("id", id),
		logger.String("event_type", string(event.Type)),
		logger.String("dedup_key", event.DedupKey))

	return id, nil
}

// GetRecentEvents returns the most recent events across all aircraft
func (s *EventStorage) GetRecentEvents(limit int) ([]*EventRecord, error) {
	return s.ListEvents(EventFilter{Limit: limit})
}

// GetEventsByType returns the most recent events of one type
func (s *EventStorage) GetEventsByType(eventType string, limit int) ([]*EventRecord, error) {
	return s.ListEvents(EventFilter{Type: eventType, Limit: limit})
}

// GetEventsByAircraft returns events where the aircraft is either party
func (s *EventStorage) GetEventsByAircraft(hex string, limit int) ([]*EventRecord, error) {
	return s.ListEvents(EventFilter{Hex: hex, Limit: limit})
}

// ListEvents returns the newest events matching filter
func (s *EventStorage) ListEvents(filter EventFilter) ([]*EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Hex != "" {
		hex := strings.ToLower(filter.Hex)
		where = append(where, "(primary_hex = ? OR secondary_hex = ?)")
		args = append(args, hex, hex)
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := "SELECT " + eventColumns + " FROM safety_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query safety events: %w", err)
	}
	defer rows.Close()

	return s.scanEventRows(rows)
}

// GetEventsByTimeRange returns events detected within a time range
func (s *EventStorage) GetEventsByTimeRange(startTime, endTime time.Time) ([]*EventRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+`
		FROM safety_events
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC, id DESC`,
		startTime.UTC().Format(time.RFC3339), endTime.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query safety events by time range: %w", err)
	}
	defer rows.Close()

	return s.scanEventRows(rows)
}

// CountEvents returns the number of stored events
func (s *EventStorage) CountEvents() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM safety_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count safety events: %w", err)
	}
	return n, nil
}

// scanEventRows scans database rows into EventRecord structs
func (s *EventStorage) scanEventRows(rows *sql.Rows) ([]*EventRecord, error) {
	records := []*EventRecord{}
	for rows.Next() {
		var (
			record                          EventRecord
			subKind, primaryCallsign        sql.NullString
			secondaryHex, secondaryCallsign sql.NullString
			details                         string
			snapshot, snapshot2             sql.NullString
			timestamp, createdAt            string
		)

		if err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.EventType,
			&subKind,
			&record.Severity,
			&record.PrimaryHex,
			&primaryCallsign,
			&secondaryHex,
			&secondaryCallsign,
			&record.DedupKey,
			&details,
			&snapshot,
			&snapshot2,
			&timestamp,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan safety event: %w", err)
		}

		record.SubKind = subKind.String
		record.PrimaryCallsign = primaryCallsign.String
		record.SecondaryHex = secondaryHex.String
		record.SecondaryCallsign = secondaryCallsign.String

		if err := json.Unmarshal([]byte(details), &record.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details: %w", err)
		}
		var err error
		if record.Snapshot, err = decodeSnapshot(snapshot); err != nil {
			return nil, err
		}
		if record.Snapshot2, err = decodeSnapshot(snapshot2); err != nil {
			return nil, err
		}

		record.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

func decodeSnapshot(raw sql.NullString) (*safety.AircraftState, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var state safety.AircraftState
	if err := json.Unmarshal([]byte(raw.String), &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &state, nil
}

// Sink adapts the storage to the event dispatcher
func (s *EventStorage) Sink() safety.Sink {
	return eventSink{storage: s}
}

type eventSink struct {
	storage *EventStorage
}

func (eventSink) Name() string { return "sqlite" }

func (k eventSink) Deliver(ctx context.Context, event safety.SafetyEvent) error {
	_, err := k.storage.StoreEvent(ctx, event)
	return err
}
