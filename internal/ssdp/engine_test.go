package ssdp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoakerin/upnpcast/internal/httpclient"
)

const testDescriptionXML = `<root><device>
	<friendlyName>Test Renderer</friendlyName>
	<manufacturer>Sony</manufacturer>
	<modelName>Bravia</modelName>
	<serviceList>
		<service>
			<serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
			<controlURL>/AVTransport/control</controlURL>
		</service>
	</serviceList>
</device></root>`

func newTestEngine(t *testing.T, fetchHits *int) (*Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetchHits != nil {
			*fetchHits++
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(testDescriptionXML))
	}))

	cfg := DefaultConfig()
	cfg.ReAnnounceWindow = 5 * time.Second
	e, err := NewEngine(cfg, httpclient.New(httpclient.DefaultConfig()))
	require.NoError(t, err)
	return e, srv
}

func alivePacket(location, usn string) string {
	return fmt.Sprintf("NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nNTS: ssdp:alive\r\n"+
		"LOCATION: %s\r\nUSN: %s\r\nST: upnp:rootdevice\r\n\r\n", location, usn)
}

func byebyePacket(location, usn string) string {
	return fmt.Sprintf("NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nNTS: ssdp:byebye\r\n"+
		"LOCATION: %s\r\nUSN: %s\r\n\r\n", location, usn)
}

func waitForDevices(t *testing.T, e *Engine, n int) []*RemoteDevice {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if devs := e.Devices(); len(devs) >= n {
			return devs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d device(s), have %d", n, len(e.Devices()))
	return nil
}

func TestDispatchAliveNotifyAddsDevice(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()

	e.dispatch(alivePacket(srv.URL+"/desc.xml", "uuid:dev-1::upnp:rootdevice"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})

	devs := waitForDevices(t, e, 1)
	assert.Equal(t, "Test Renderer", devs[0].Name)
	assert.Equal(t, "Sony", devs[0].Manufacturer)
	assert.True(t, devs[0].IsTV)
	assert.True(t, devs[0].Castable())
}

func TestDispatchDropsAnnounceMissingLocationOrUSN(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()

	e.dispatch("NOTIFY * HTTP/1.1\r\nNTS: ssdp:alive\r\nUSN: uuid:dev-1\r\n\r\n", nil)
	e.dispatch("NOTIFY * HTTP/1.1\r\nNTS: ssdp:alive\r\nLOCATION: http://x/desc.xml\r\n\r\n", nil)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.Devices())
}

func TestHandleByebyeRemovesDeviceByUSN(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()

	location := srv.URL + "/desc.xml"
	usn := "uuid:dev-1::upnp:rootdevice"
	e.dispatch(alivePacket(location, usn), nil)
	waitForDevices(t, e, 1)

	e.dispatch(byebyePacket(location, usn), nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(e.Devices()) != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, e.Devices())
}

func TestDedupWithinReAnnounceWindowSkipsRefetch(t *testing.T) {
	hits := 0
	e, srv := newTestEngine(t, &hits)
	defer srv.Close()

	location := srv.URL + "/desc.xml"
	usn := "uuid:dev-1::upnp:rootdevice"
	e.dispatch(alivePacket(location, usn), nil)
	waitForDevices(t, e, 1)
	e.dispatch(alivePacket(location, usn), nil)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, hits, "re-announce within the window must not refetch the description")
}

func TestDevicesPreservesInsertionOrder(t *testing.T) {
	hits := 0
	e, srv := newTestEngine(t, &hits)
	defer srv.Close()

	for i := 0; i < 3; i++ {
		loc := fmt.Sprintf("%s/desc%d.xml", srv.URL, i)
		e.dispatch(alivePacket(loc, fmt.Sprintf("uuid:dev-%d::upnp:rootdevice", i)), nil)
	}
	devs := waitForDevices(t, e, 3)
	for i, d := range devs {
		assert.Equal(t, fmt.Sprintf("%s/desc%d.xml", srv.URL, i), d.ID)
	}
}

func TestEvictStaleRemovesExpiredDevices(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()
	e.cfg.DeviceLiveness = 10 * time.Millisecond

	e.storeDevice(&RemoteDevice{ID: "stale", USN: "u1", LastSeenMillis: time.Now().Add(-time.Hour).UnixMilli()})
	e.storeDevice(&RemoteDevice{ID: "fresh", USN: "u2", LastSeenMillis: time.Now().UnixMilli()})

	e.evictStale()

	devs := e.Devices()
	require.Len(t, devs, 1)
	assert.Equal(t, "fresh", devs[0].ID)
}

func TestAddManualDeviceFetchesDescription(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	e.AddManualDevice(host, port, "/desc.xml", "Manual Device")
	devs := waitForDevices(t, e, 1)
	assert.Equal(t, "Test Renderer", devs[0].Name)
}

func TestSearchDeliversKnownSetAtDeadlineWhenNothingNew(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()

	e.dispatch(alivePacket(srv.URL+"/desc.xml", "uuid:dev-1::upnp:rootdevice"), nil)
	waitForDevices(t, e, 1)

	var delivered [][]*RemoteDevice
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	e.Search(ctx, 150*time.Millisecond, func(devs []*RemoteDevice) {
		delivered = append(delivered, devs)
	})

	require.Len(t, delivered, 1, "the full known set is delivered once at the deadline")
	assert.Equal(t, srv.URL+"/desc.xml", delivered[0][0].ID)
}

func TestSearchDeliversNewDeviceAsDeltaExactlyOnce(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()

	var mu sync.Mutex
	var delivered [][]*RemoteDevice
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() {
		defer close(done)
		e.Search(ctx, 400*time.Millisecond, func(devs []*RemoteDevice) {
			mu.Lock()
			delivered = append(delivered, devs)
			mu.Unlock()
		})
	}()

	time.Sleep(50 * time.Millisecond)
	location := srv.URL + "/desc.xml"
	e.dispatch(alivePacket(location, "uuid:dev-1::upnp:rootdevice"), nil)
	waitForDevices(t, e, 1)
	e.dispatch(alivePacket(location, "uuid:dev-1::upnp:rootdevice"), nil)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1, "a device appearing mid-window is delivered as a delta exactly once")
	assert.Equal(t, location, delivered[0][0].ID)
}

func TestHandleByebyeWithoutLocationStillRemoves(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	defer srv.Close()

	usn := "uuid:dev-1::upnp:rootdevice"
	e.dispatch(alivePacket(srv.URL+"/desc.xml", usn), nil)
	waitForDevices(t, e, 1)

	e.dispatch("NOTIFY * HTTP/1.1\r\nNTS: ssdp:byebye\r\nUSN: "+usn+"\r\n\r\n", nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(e.Devices()) != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, e.Devices(), "byebye packets with no LOCATION header must still remove by USN")
}
