package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/imusync/internal/api"
	"github.com/banshee-data/imusync/internal/db"
	"github.com/banshee-data/imusync/internal/provider"
	"github.com/banshee-data/imusync/internal/stage"
	"github.com/banshee-data/imusync/internal/timeutil"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"-dev", "-listen", "127.0.0.1:0", "-db", "", "-sim-imu-offset", "250ms", "-v", "2",
	})
	require.NoError(t, err)
	assert.True(t, opts.dev)
	assert.Equal(t, "127.0.0.1:0", opts.listen)
	assert.Empty(t, opts.dbPath)
	assert.Equal(t, 250*time.Millisecond, opts.simOffset)
	assert.Equal(t, 2, opts.verbosity)

	opts, err = parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", opts.port)
	assert.Equal(t, "imusync.db", opts.dbPath)

	_, err = parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-listen", ""})
	assert.Error(t, err)
	_, err = parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-port", ""})
	assert.Error(t, err)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err = parseFlags(fs, []string{"-bogus"})
	assert.Error(t, err)
}

func TestDriveSequential(t *testing.T) {
	packets := stage.NewQueue[provider.Packet]("packets", 0)
	module := provider.New(provider.Config{IMURateHz: 200}, packets)
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- driveSequential(ctx, module, clock) }()

	require.True(t, module.FillFrame(provider.Frame{ID: 1, Timestamp: 100}))
	assert.Eventually(t, func() bool {
		clock.Advance(sequentialPoll)
		return module.Stats().Frames["first_frame"] == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("driveSequential did not stop")
	}
}

func TestRunDevMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sync.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, options{dev: true, listen: "127.0.0.1:0", dbPath: dbPath}, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st api.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return false
		}
		return st.Provider.Frames["delivered"] >= 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not shut down")
	}

	store, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer store.Close()
	session, err := store.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, "imusim", session.Source)
	assert.NotNil(t, session.Ended)

	packets, err := store.RecentPackets(session.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, packets)
	for _, p := range packets {
		assert.Equal(t, p.FrameTs, p.WindowEnd, "window ends at its frame with no clock offset")
	}
	drops, err := store.DropCounts(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, drops["first_frame"])
}
