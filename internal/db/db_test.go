package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesPragmasAndMigrations(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{"sync_sessions", "sync_packets", "sync_drops"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestNewDB_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestSessions_StartGetEnd(t *testing.T) {
	db := newTestDB(t)

	started := time.Unix(1700000000, 0)
	s, err := db.StartSession(Session{
		Started:           started,
		Source:            "/dev/ttyACM0",
		IMURateHz:         200,
		CoarseCorrection:  true,
		InitialShiftNanos: -1500,
	})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := db.GetSession(s.ID)
	require.NoError(t, err)
	assert.True(t, got.Started.Equal(started))
	assert.Nil(t, got.Ended)
	assert.Equal(t, "/dev/ttyACM0", got.Source)
	assert.True(t, got.CoarseCorrection)
	assert.Equal(t, int64(-1500), got.InitialShiftNanos)

	ended := started.Add(time.Minute)
	require.NoError(t, db.EndSession(s.ID, ended))
	got, err = db.GetSession(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Ended)
	assert.True(t, got.Ended.Equal(ended))

	latest, err := db.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, s.ID, latest.ID)
}

func TestSessions_Unknown(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetSession("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, db.EndSession("nope", time.Now()), ErrUnknownSession)
	_, err = db.LatestSession()
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRecentPackets(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession(Session{Source: "sim", IMURateHz: 200})
	require.NoError(t, err)
	other, err := db.StartSession(Session{Source: "sim", IMURateHz: 200})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.RecordPacket(s.ID, PacketRecord{
			FrameID:     uint64(i),
			FrameTs:     int64(i) * 50,
			WindowStart: int64(i-1) * 50,
			WindowEnd:   int64(i) * 50,
			SampleCount: 11,
		}))
	}
	require.NoError(t, db.RecordPacket(other.ID, PacketRecord{FrameID: 99, FrameTs: 1}))

	got, err := db.RecentPackets(s.ID, 3)
	require.NoError(t, err)
	want := []PacketRecord{
		{FrameID: 3, FrameTs: 150, WindowStart: 100, WindowEnd: 150, SampleCount: 11},
		{FrameID: 4, FrameTs: 200, WindowStart: 150, WindowEnd: 200, SampleCount: 11},
		{FrameID: 5, FrameTs: 250, WindowStart: 200, WindowEnd: 250, SampleCount: 11},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentPackets mismatch (-want +got):\n%s", diff)
	}
}

func TestDropCounts(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession(Session{Source: "sim", IMURateHz: 200})
	require.NoError(t, err)

	for _, d := range []DropRecord{
		{FrameID: 1, FrameTs: 100, Status: "first_frame"},
		{FrameID: 2, FrameTs: 150, Status: "too_few_samples"},
		{FrameID: 3, FrameTs: 200, Status: "too_few_samples"},
	} {
		require.NoError(t, db.RecordDrop(s.ID, d))
	}

	counts, err := db.DropCounts(s.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"first_frame": 1, "too_few_samples": 2}, counts)
}

func TestRecordPacket_UnknownSessionRejected(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, db.RecordPacket("missing", PacketRecord{FrameID: 1}))
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	_, err := db.StartSession(Session{Source: "sim", IMURateHz: 200})
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
