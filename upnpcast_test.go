package upnpcast

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRendererDescription = `<root><device>
	<friendlyName>Living Room Speaker</friendlyName>
	<manufacturer>Generic</manufacturer>
	<serviceList>
		<service>
			<serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
			<controlURL>/AVTransport/control</controlURL>
		</service>
		<service>
			<serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
			<controlURL>/RenderingControl/control</controlURL>
		</service>
	</serviceList>
</device></root>`

func soapOK(inner string) string {
	return `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body>` + inner + `</s:Body></s:Envelope>`
}

func newTestRenderer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/xml")
			w.Write([]byte(testRendererDescription))
			return
		}
		w.Write([]byte(soapOK("<u:Response/>")))
	}))
}

func testFacadeConfig() Config {
	cfg := DefaultConfig()
	cfg.SearchTimeout = 100 * time.Millisecond
	return cfg
}

func addManualRenderer(t *testing.T, f *Facade, srv *httptest.Server) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	require.NoError(t, f.AddManualDevice(host, port, "/desc.xml", "Living Room Speaker"))
}

// collectSearch runs one search window and returns everything it delivered, waiting out
// the deadline so the final known-set fallback is included.
func collectSearch(t *testing.T, f *Facade, timeout time.Duration) []Device {
	t.Helper()
	var mu sync.Mutex
	var got []Device
	require.NoError(t, f.Search(timeout, func(d []Device) {
		mu.Lock()
		got = append(got, d...)
		mu.Unlock()
	}))
	time.Sleep(timeout + 100*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	return append([]Device(nil), got...)
}

func waitForKnownDevices(t *testing.T, f *Facade, n int) []Device {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := collectSearch(t, f, 20*time.Millisecond); len(got) >= n {
			return got
		}
	}
	t.Fatalf("timed out waiting for %d known device(s)", n)
	return nil
}

// awaitResult runs a callback-style facade command and blocks until its single-fire
// result arrives.
func awaitResult(t *testing.T, run func(ResultFunc)) error {
	t.Helper()
	errCh := make(chan error, 1)
	run(func(err error) { errCh <- err })
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("result callback never fired")
		return nil
	}
}

func TestCheckUsableBeforeInit(t *testing.T) {
	f := New(testFacadeConfig())
	err := f.checkUsable()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitIsIdempotent(t *testing.T) {
	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	require.NoError(t, f.Init(context.Background()))
	require.NoError(t, f.Release())
}

func TestReleaseThenInitReinitializes(t *testing.T) {
	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	require.NoError(t, f.Release())

	err := f.checkUsable()
	assert.ErrorIs(t, err, ErrReleased)

	require.NoError(t, f.Init(context.Background()))
	assert.NoError(t, f.checkUsable())
	require.NoError(t, f.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	require.NoError(t, f.Release())
	require.NoError(t, f.Release())
}

func TestFacadeCallsAfterReleaseFailFast(t *testing.T) {
	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	require.NoError(t, f.Release())

	err := awaitResult(t, func(done ResultFunc) { f.Cast("http://media/a.mp4", "", done) })
	assert.ErrorIs(t, err, ErrReleased)

	err = f.Search(10*time.Millisecond, func([]Device) {})
	assert.ErrorIs(t, err, ErrReleased)
}

func TestGetStateZeroValueBeforeAnyCast(t *testing.T) {
	f := New(testFacadeConfig())
	state := f.GetState()
	assert.False(t, state.IsConnected)
	assert.Nil(t, state.CurrentDevice)
}

func TestControlWithNoCurrentDeviceFailsWithDeviceError(t *testing.T) {
	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	defer f.Release()

	err := awaitResult(t, func(done ResultFunc) { f.Control(ActionPlay, nil, done) })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceError)
}

func TestCastToDeviceThenControlUpdatesState(t *testing.T) {
	srv := newTestRenderer(t)
	defer srv.Close()

	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	defer f.Release()

	addManualRenderer(t, f, srv)
	known := waitForKnownDevices(t, f, 1)

	err := awaitResult(t, func(done ResultFunc) {
		f.CastToDevice(known[0], "http://media/a.mp3", "Song", done)
	})
	require.NoError(t, err)

	state := f.GetState()
	assert.True(t, state.IsConnected)
	require.NotNil(t, state.CurrentDevice)
	assert.Equal(t, known[0].ID, state.CurrentDevice.ID)
	assert.Equal(t, PlaybackPlaying, state.PlaybackState)

	err = awaitResult(t, func(done ResultFunc) { f.Control(ActionSetVolume, 40, done) })
	require.NoError(t, err)
}

func TestCastToInvokesSelectorOnKnownDevices(t *testing.T) {
	srv := newTestRenderer(t)
	defer srv.Close()

	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	defer f.Release()

	addManualRenderer(t, f, srv)
	waitForKnownDevices(t, f, 1)

	var offered []Device
	err := awaitResult(t, func(done ResultFunc) {
		f.CastTo("http://media/a.mp4", "Film", func(devices []Device) *Device {
			offered = devices
			return nil // selector declines; no cast occurs
		}, done)
	})
	require.NoError(t, err)
	require.NotEmpty(t, offered)
	assert.False(t, f.GetState().IsConnected, "a declined selection must not cast")
}

func TestControlInvalidArgumentShape(t *testing.T) {
	srv := newTestRenderer(t)
	defer srv.Close()

	f := New(testFacadeConfig())
	require.NoError(t, f.Init(context.Background()))
	defer f.Release()

	addManualRenderer(t, f, srv)
	known := waitForKnownDevices(t, f, 1)

	err := awaitResult(t, func(done ResultFunc) {
		f.CastToDevice(known[0], "http://media/a.mp3", "Song", done)
	})
	require.NoError(t, err)

	err = awaitResult(t, func(done ResultFunc) { f.Control(ActionSetVolume, "loud", done) })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
