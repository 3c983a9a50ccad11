package imu

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(ts Timestamp, v float64) Sample {
	return Sample{Timestamp: ts, AccGyr: [6]float64{v, v, v, v, v, v}}
}

func fillBuffer(t *testing.T, b *Buffer, ts ...Timestamp) {
	t.Helper()
	for _, x := range ts {
		require.NoError(t, b.Insert(sampleAt(x, float64(x))))
	}
}

func TestBuffer_InsertRejectsOutOfOrder(t *testing.T) {
	b := NewBuffer(8)
	fillBuffer(t, b, 100, 200)

	err := b.Insert(sampleAt(200, 0))
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	err = b.Insert(sampleAt(150, 0))
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, 2, b.Len())
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	fillBuffer(t, b, 100, 200, 300, 400, 500)

	assert.Equal(t, 3, b.Len())
	oldest, ok := b.Oldest()
	require.True(t, ok)
	assert.Equal(t, Timestamp(300), oldest.Timestamp)
	newest, ok := b.Newest()
	require.True(t, ok)
	assert.Equal(t, Timestamp(500), newest.Timestamp)
}

func TestBuffer_NewestEmpty(t *testing.T) {
	b := NewBuffer(0)
	_, ok := b.Newest()
	assert.False(t, ok)
	assert.Equal(t, DefaultBufferCapacity, b.Capacity())
}

func TestBuffer_QueryInterpolatedRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end Timestamp
		wantResult QueryResult
		wantStamps []Timestamp
	}{
		{
			name:       "window inside stream",
			start:      150,
			end:        350,
			wantResult: DataAvailable,
			wantStamps: []Timestamp{200, 300, 350},
		},
		{
			name:       "upper border on a sample",
			start:      100,
			end:        300,
			wantResult: DataAvailable,
			wantStamps: []Timestamp{100, 200, 300},
		},
		{
			name:       "window starts before oldest sample",
			start:      50,
			end:        150,
			wantResult: DataAvailable,
			wantStamps: []Timestamp{100, 150},
		},
		{
			name:       "window entirely before stream",
			start:      10,
			end:        90,
			wantResult: DataNeverAvailable,
		},
		{
			name:       "no raw sample inside window",
			start:      210,
			end:        290,
			wantResult: TooFewSamples,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(16)
			fillBuffer(t, b, 100, 200, 300, 400)

			w, res := b.QueryInterpolatedRange(tt.start, tt.end)
			assert.Equal(t, tt.wantResult, res, "result %s", res)
			if tt.wantResult != DataAvailable {
				assert.Empty(t, w)
				return
			}
			if diff := cmp.Diff(tt.wantStamps, w.Timestamps()); diff != "" {
				t.Errorf("timestamps mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuffer_InterpolatesUpperBorder(t *testing.T) {
	b := NewBuffer(4)
	require.NoError(t, b.Insert(sampleAt(100, 1)))
	require.NoError(t, b.Insert(sampleAt(200, 3)))

	w, res := b.QueryInterpolatedRange(100, 150)
	require.Equal(t, DataAvailable, res)
	require.Len(t, w, 2)
	for _, v := range w[1].AccGyr {
		assert.InDelta(t, 2.0, v, 1e-9)
	}
}

func TestBuffer_QueryWaitsForNewerSample(t *testing.T) {
	b := NewBuffer(8)
	fillBuffer(t, b, 100, 200)

	type result struct {
		w   Window
		res QueryResult
	}
	done := make(chan result, 1)
	go func() {
		w, res := b.QueryInterpolatedRange(150, 250)
		done <- result{w, res}
	}()

	select {
	case <-done:
		t.Fatal("query returned before covering sample arrived")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, b.Insert(sampleAt(300, 300)))

	select {
	case r := <-done:
		assert.Equal(t, DataAvailable, r.res)
		assert.Equal(t, []Timestamp{200, 250}, r.w.Timestamps())
	case <-time.After(time.Second):
		t.Fatal("query did not wake after insert")
	}
}

func TestBuffer_ShutdownWakesBlockedQuery(t *testing.T) {
	b := NewBuffer(8)

	var wg sync.WaitGroup
	results := make([]QueryResult, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = b.QueryInterpolatedRange(0, 1000)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	b.Shutdown()
	b.Shutdown()
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, QueueShutdown, r)
	}
	assert.True(t, b.IsShutdown())
	assert.ErrorIs(t, b.Insert(sampleAt(1, 0)), ErrBufferShutdown)

	_, res := b.QueryInterpolatedRange(0, 1)
	assert.Equal(t, QueueShutdown, res)
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(8)
	fillBuffer(t, b, 100, 200)
	b.Reset()
	assert.Equal(t, 0, b.Len())
	require.NoError(t, b.Insert(sampleAt(50, 0)))
}

func TestWindow_Shifted(t *testing.T) {
	w := Window{sampleAt(400, 1), sampleAt(500, 2)}
	shifted := w.Shifted(350)

	assert.Equal(t, []Timestamp{50, 150}, shifted.Timestamps())
	assert.Equal(t, []Timestamp{400, 500}, w.Timestamps(), "original must not change")
	assert.Equal(t, Timestamp(50), shifted.Start())
	assert.Equal(t, Timestamp(150), shifted.End())
	assert.Equal(t, Timestamp(0), Window(nil).Start())
}

func TestQueryResult_String(t *testing.T) {
	assert.Equal(t, "data_available", DataAvailable.String())
	assert.Equal(t, "queue_shutdown", QueueShutdown.String())
	assert.Equal(t, "query_result(42)", QueryResult(42).String())
}
