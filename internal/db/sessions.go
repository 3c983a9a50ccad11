package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned when a session ID does not exist.
var ErrUnknownSession = errors.New("unknown sync session")

// Session describes one run of the synchroniser.
type Session struct {
	ID                string     `json:"session_id"`
	Started           time.Time  `json:"started"`
	Ended             *time.Time `json:"ended,omitempty"`
	Source            string     `json:"source"`
	IMURateHz         float64    `json:"imu_rate_hz"`
	CoarseCorrection  bool       `json:"coarse_correction"`
	InitialShiftNanos int64      `json:"initial_shift_nanos"`
}

// PacketRecord summarises one delivered frame packet.
type PacketRecord struct {
	FrameID     uint64 `json:"frame_id"`
	FrameTs     int64  `json:"frame_ts_nanos"`
	WindowStart int64  `json:"window_start"`
	WindowEnd   int64  `json:"window_end"`
	SampleCount int    `json:"sample_count"`
}

// DropRecord is one frame that produced no packet.
type DropRecord struct {
	FrameID uint64 `json:"frame_id"`
	FrameTs int64  `json:"frame_ts_nanos"`
	Status  string `json:"status"`
}

// StartSession inserts a new session with a fresh ID. Started is set to now
// when zero.
func (db *DB) StartSession(s Session) (Session, error) {
	s.ID = uuid.NewString()
	if s.Started.IsZero() {
		s.Started = time.Now()
	}
	_, err := db.Exec(`INSERT INTO sync_sessions (
			session_id, started_unix_nanos, source, imu_rate_hz, coarse_correction, initial_shift_nanos
		) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Started.UnixNano(), s.Source, s.IMURateHz, s.CoarseCorrection, s.InitialShiftNanos,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time of a session.
func (db *DB) EndSession(id string, ended time.Time) error {
	res, err := db.Exec(`UPDATE sync_sessions SET ended_unix_nanos = ? WHERE session_id = ?`, ended.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return nil
}

// GetSession loads a session by ID.
func (db *DB) GetSession(id string) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	err := db.QueryRow(`SELECT session_id, started_unix_nanos, ended_unix_nanos, source,
			imu_rate_hz, coarse_correction, initial_shift_nanos
		FROM sync_sessions WHERE session_id = ?`, id).Scan(
		&s.ID, &started, &ended, &s.Source, &s.IMURateHz, &s.CoarseCorrection, &s.InitialShiftNanos,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	s.Started = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		s.Ended = &t
	}
	return s, nil
}

// RecordPacket stores a delivered packet summary.
func (db *DB) RecordPacket(sessionID string, p PacketRecord) error {
	_, err := db.Exec(`INSERT INTO sync_packets (
			session_id, frame_id, frame_ts_nanos, window_start, window_end, sample_count, recorded_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, int64(p.FrameID), p.FrameTs, p.WindowStart, p.WindowEnd, p.SampleCount, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert packet: %w", err)
	}
	return nil
}

// RecordDrop stores a frame that produced no packet.
func (db *DB) RecordDrop(sessionID string, d DropRecord) error {
	_, err := db.Exec(`INSERT INTO sync_drops (
			session_id, frame_id, frame_ts_nanos, status, recorded_unix_nanos
		) VALUES (?, ?, ?, ?, ?)`,
		sessionID, int64(d.FrameID), d.FrameTs, d.Status, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert drop: %w", err)
	}
	return nil
}

// RecentPackets returns up to limit packets of a session, oldest first.
func (db *DB) RecentPackets(sessionID string, limit int) ([]PacketRecord, error) {
	rows, err := db.Query(`SELECT frame_id, frame_ts_nanos, window_start, window_end, sample_count
		FROM (
			SELECT * FROM sync_packets WHERE session_id = ?
			ORDER BY frame_ts_nanos DESC LIMIT ?
		) ORDER BY frame_ts_nanos ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packets []PacketRecord
	for rows.Next() {
		var (
			p       PacketRecord
			frameID int64
		)
		if err := rows.Scan(&frameID, &p.FrameTs, &p.WindowStart, &p.WindowEnd, &p.SampleCount); err != nil {
			return nil, err
		}
		p.FrameID = uint64(frameID)
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return packets, nil
}

// DropCounts returns the number of dropped frames per status for a session.
func (db *DB) DropCounts(sessionID string) (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM sync_drops WHERE session_id = ? GROUP BY status`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// LatestSession returns the most recently started session.
func (db *DB) LatestSession() (Session, error) {
	var id string
	err := db.QueryRow(`SELECT session_id FROM sync_sessions ORDER BY started_unix_nanos DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrUnknownSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to find latest session: %w", err)
	}
	return db.GetSession(id)
}
