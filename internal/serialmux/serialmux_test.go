package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.SubscribeBuffered(4)
	assert.NotEqual(t, id1, id2)

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "channel closed on unsubscribe")
	mux.Unsubscribe(id1) // unknown id is a no-op
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, lines := mux.SubscribeBuffered(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("imu,1,0,0,0,0,0,0\ncam,2,1\n"))

	for _, want := range []string{"imu,1,0,0,0,0,0,0", "cam,2,1"} {
		select {
		case got := <-lines:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	cancel()
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_MonitorEndsOnEOF(t *testing.T) {
	mux := NewMockSerialMux(strings.NewReader("cam,1,1\n"))
	_, lines := mux.SubscribeBuffered(1)

	require.NoError(t, mux.Monitor(context.Background()))
	assert.Equal(t, "cam,1,1", <-lines)
}

func TestSerialMux_MonitorSkipsBusySubscribers(t *testing.T) {
	mux := NewMockSerialMux(strings.NewReader("a\nb\nc\n"))
	_, _ = mux.Subscribe() // never read

	require.NoError(t, mux.Monitor(context.Background()))
	assert.Equal(t, uint64(3), mux.Dropped())
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.Initialize(DeviceSettings{IMURateHz: 200, CameraRateHz: 20}))
	written := port.GetWrittenData()
	assert.True(t, strings.HasPrefix(written, "STOP\n"))
	assert.Contains(t, written, "IMU RATE 200\n")
	assert.Contains(t, written, "CAM RATE 20\n")
	assert.True(t, strings.HasSuffix(written, "START\n"))

	assert.Error(t, mux.Initialize(DeviceSettings{IMURateHz: 0, CameraRateHz: 20}))

	port.WriteError = errors.New("boom")
	assert.Error(t, mux.Initialize(DeviceSettings{IMURateHz: 200, CameraRateHz: 20}))
}

func TestSerialMux_CloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.Error(t, mux.SendCommand("START"))
}

func TestSerialMux_SendCommandRoute(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"IMU RATE 400"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "IMU RATE 400\n", port.GetWrittenData())

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{Path: "/dev/ttyACM0"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{Path: "/dev/ttyACM0", BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{Path: "/dev/ttyACM0", Parity: "even", StopBits: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for _, bad := range []PortOptions{
		{},
		{Path: "/dev/x", DataBits: 9},
		{Path: "/dev/x", StopBits: 3},
		{Path: "/dev/x", Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{Path: "/dev/x", BaudRate: 115200, Parity: "O", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)

	_, err = PortOptions{}.SerialMode()
	assert.Error(t, err)
}
