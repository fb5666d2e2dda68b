package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"syscall"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	"github.com/yoakerin/upnpcast/internal/codec"
	"github.com/yoakerin/upnpcast/internal/httpclient"
)

// Config configures the discovery Engine. See DefaultConfig for the defaults.
type Config struct {
	MulticastAddress      string
	MulticastPort         int
	MulticastTTL          int
	DeviceLiveness        time.Duration
	LivenessSweepInterval time.Duration
	MaxProcessedLocations int
	ReAnnounceWindow      time.Duration
	Log                   *logrus.Entry
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MulticastAddress:      "239.255.255.250",
		MulticastPort:         1900,
		MulticastTTL:          4,
		DeviceLiveness:        5 * time.Minute,
		LivenessSweepInterval: 30 * time.Second,
		MaxProcessedLocations: 200,
		ReAnnounceWindow:      10 * time.Second,
	}
}

type engineState int32

const (
	stateInactive engineState = iota
	stateListening
	stateSearching
)

// EventKind distinguishes the two events the Engine publishes to subscribers.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
)

// Event is a device-added or device-removed notification delivered to subscribers
// (search sessions).
type Event struct {
	Kind   EventKind
	Device *RemoteDevice // set for EventAdded
	ID     string        // set for EventRemoved
}

// Engine is the SSDP discovery engine: multicast socket lifecycle, M-SEARCH emission,
// NOTIFY/response dispatch, dedup, single-flight description fetch, the device map, and
// liveness eviction.
type Engine struct {
	cfg  Config
	log  *logrus.Entry
	http *httpclient.Client

	mu      sync.RWMutex
	state   engineState
	conn    *net.UDPConn
	devices map[string]*RemoteDevice // keyed by LOCATION, the device's ID
	order   []string                 // insertion order of devices, for selectDevice's tie-break

	dedupMu   sync.Mutex
	processed *lru.Cache[string, time.Time]

	fetchGroup singleflight.Group
	fetchSem   *semaphore.Weighted
	runCtx     context.Context

	listenersMu    sync.Mutex
	listeners      map[int]chan Event
	nextListenerID int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine builds an Engine. httpClient must be non-nil; the engine does not own its
// lifecycle (the facade does).
func NewEngine(cfg Config, httpClient *httpclient.Client) (*Engine, error) {
	if cfg.MaxProcessedLocations <= 0 {
		cfg.MaxProcessedLocations = DefaultConfig().MaxProcessedLocations
	}
	processed, err := lru.New[string, time.Time](cfg.MaxProcessedLocations)
	if err != nil {
		return nil, fmt.Errorf("ssdp: create dedup cache: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("component", "ssdp")
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		http:      httpClient,
		devices:   make(map[string]*RemoteDevice),
		processed: processed,
		fetchSem:  semaphore.NewWeighted(fetchConcurrency),
		runCtx:    context.Background(),
		listeners: make(map[int]chan Event),
	}, nil
}

// Start opens the multicast socket and begins listening. Idempotent: calling Start while
// already LISTENING or SEARCHING is a no-op, per the facade's init() idempotence.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateInactive {
		e.mu.Unlock()
		return nil
	}
	conn, err := e.openSocket()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("ssdp: open multicast socket: %w", err)
	}
	e.conn = conn
	e.state = stateListening
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel
	e.wg.Add(2)
	go e.listen(runCtx, conn)
	go e.sweepLiveness(runCtx)
	return nil
}

// Stop transitions to INACTIVE: closes the socket, cancels the listener and sweeper, and
// clears device state.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == stateInactive {
		e.mu.Unlock()
		return nil
	}
	e.state = stateInactive
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	// Cancel before clearing device state so a late description fetch observes the
	// cancelled run context rather than repopulating the cleared map.
	if e.cancel != nil {
		e.cancel()
	}

	e.mu.Lock()
	e.devices = make(map[string]*RemoteDevice)
	e.order = nil
	e.mu.Unlock()

	var result error
	if conn != nil {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("ssdp: close multicast socket: %w", err))
		}
	}
	e.wg.Wait()

	e.listenersMu.Lock()
	for id, ch := range e.listeners {
		close(ch)
		delete(e.listeners, id)
	}
	e.listenersMu.Unlock()

	return result
}

func (e *Engine) openSocket() (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", e.cfg.MulticastPort))
	if err != nil {
		return nil, err
	}
	udpConn := pc.(*net.UDPConn)

	group := net.ParseIP(e.cfg.MulticastAddress)
	p := ipv4.NewPacketConn(udpConn)

	joined := false
	if ifaces, err := net.Interfaces(); err == nil {
		for i := range ifaces {
			iface := ifaces[i]
			if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			if err := p.JoinGroup(&iface, &net.UDPAddr{IP: group}); err == nil {
				joined = true
			}
		}
	}
	if !joined {
		if err := p.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
			udpConn.Close()
			return nil, fmt.Errorf("join multicast group %s: %w", e.cfg.MulticastAddress, err)
		}
	}
	if err := p.SetMulticastTTL(e.cfg.MulticastTTL); err != nil {
		e.log.WithError(err).Warn("set multicast TTL failed")
	}
	return udpConn, nil
}

// listen reads datagrams until ctx is cancelled. A short read deadline lets the loop
// check for shutdown cooperatively; consecutive non-timeout read errors back off
// geometrically before retrying.
func (e *Engine) listen(ctx context.Context, conn *net.UDPConn) {
	defer e.wg.Done()
	buf := make([]byte, 4096)
	readErrBackoff := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(4 * time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			delay := readErrBackoff.Duration()
			e.log.WithError(err).WithField("backoff_ms", delay.Milliseconds()).
				Warn("ssdp listener read error, backing off")
			time.Sleep(delay)
			continue
		}
		readErrBackoff.Reset()
		e.dispatch(string(buf[:n]), addr)
	}
}

func (e *Engine) dispatch(raw string, addr *net.UDPAddr) {
	startLine, rest := splitMessage(raw)
	h := parseHeaders(rest)

	switch {
	case isSearchResponse(startLine):
		e.handleAnnounce(h, addr)
	case isNotify(startLine):
		switch h.get("NTS") {
		case "ssdp:alive":
			e.handleAnnounce(h, addr)
		case "ssdp:byebye":
			e.handleByebye(h)
		default:
			e.log.WithField("nts", h.get("NTS")).Debug("dropping NOTIFY with unrecognized NTS")
		}
	}
}

func (e *Engine) handleAnnounce(h headers, addr *net.UDPAddr) {
	location := h.get("LOCATION")
	usn := h.get("USN")
	if location == "" || usn == "" {
		e.log.Debug("dropping discovery message missing LOCATION/USN")
		return
	}

	now := time.Now()
	e.dedupMu.Lock()
	if seen, ok := e.processed.Get(location); ok && now.Sub(seen) < e.cfg.ReAnnounceWindow {
		e.processed.Add(location, now)
		e.dedupMu.Unlock()
		e.touch(location)
		return
	}
	e.processed.Add(location, now)
	e.dedupMu.Unlock()

	hostHint := ""
	if addr != nil {
		hostHint = addr.IP.String()
	}
	go e.fetchAndStore(location, usn, hostHint)
}

// handleByebye removes the device matching the USN. Byebye packets in the wild often
// omit LOCATION, so only USN is required here; the processed-location record is dropped
// when LOCATION is present, and otherwise when the device entry itself names it.
func (e *Engine) handleByebye(h headers) {
	usn := h.get("USN")
	if usn == "" {
		e.log.Debug("dropping byebye missing USN")
		return
	}

	if location := h.get("LOCATION"); location != "" {
		e.dedupMu.Lock()
		e.processed.Remove(location)
		e.dedupMu.Unlock()
	}

	e.mu.Lock()
	var removedID string
	for id, d := range e.devices {
		if d.USN == usn {
			delete(e.devices, id)
			removedID = id
			break
		}
	}
	if removedID != "" {
		e.removeFromOrder(removedID)
	}
	e.mu.Unlock()

	if removedID != "" {
		e.dedupMu.Lock()
		e.processed.Remove(removedID)
		e.dedupMu.Unlock()
		e.log.WithField("id", removedID).WithField("usn", extractUUID(usn)).Info("device byebye")
		e.publish(Event{Kind: EventRemoved, ID: removedID})
	}
}

func (e *Engine) touch(location string) {
	e.mu.Lock()
	if d, ok := e.devices[location]; ok {
		d.LastSeenMillis = time.Now().UnixMilli()
	}
	e.mu.Unlock()
}

// Touch refreshes a device's lastSeen independent of announcements: a renderer that is
// actively being cast to or controlled stays alive across brief announce gaps.
func (e *Engine) Touch(id string) {
	e.touch(id)
}

// fetchConcurrency bounds the description-fetch fan-out.
const fetchConcurrency = 4

// fetchAndStore coalesces concurrent fetches of the same LOCATION via singleflight
// (at most one outstanding fetch per location) and bounds cross-location fan-out with
// a weighted semaphore.
func (e *Engine) fetchAndStore(location, usn, hostHint string) {
	_, _, _ = e.fetchGroup.Do(location, func() (interface{}, error) {
		if err := e.fetchSem.Acquire(e.runCtx, 1); err != nil {
			return nil, nil
		}
		defer e.fetchSem.Release(1)
		e.resolveDevice(location, usn, hostHint)
		return nil, nil
	})
}

// resolveDevice fetches and parses the description at location, storing either a full
// RemoteDevice or a minimal fallback. The GET runs under the engine's run context so a
// Stop() cancels it mid-flight.
func (e *Engine) resolveDevice(location, usn, hostHint string) {
	result, err := e.http.Get(e.runCtx, location, true)
	if err != nil {
		if e.runCtx.Err() != nil {
			return
		}
		// A non-NetworkError here means the request could not be built (malformed URL),
		// which is structural like a 4xx.
		var netErr *httpclient.NetworkError
		if !errors.As(err, &netErr) || !netErr.Retryable() {
			e.storeFallback(location, usn, hostHint)
			return
		}
		// Transient: unmark processed so the next announce retries the fetch.
		e.dedupMu.Lock()
		e.processed.Remove(location)
		e.dedupMu.Unlock()
		e.log.WithError(err).WithField("location", location).Debug("transient description fetch failure")
		return
	}

	desc, err := codec.ParseDeviceDescription(result.Body)
	if err != nil {
		e.storeFallback(location, usn, hostHint)
		return
	}

	base, err := url.Parse(location)
	if err != nil {
		e.storeFallback(location, usn, hostHint)
		return
	}

	address := hostHint
	if address == "" {
		address = base.Hostname()
	}

	device := &RemoteDevice{
		ID:             location,
		USN:            usn,
		Name:           desc.FriendlyName,
		Address:        address,
		Manufacturer:   desc.Manufacturer,
		ModelName:      desc.ModelName,
		DeviceType:     desc.DeviceType,
		Location:       location,
		Services:       resolveServiceURLs(desc.Services, base),
		IsTV:           desc.LooksLikeTV(),
		LastSeenMillis: time.Now().UnixMilli(),
	}
	e.storeDevice(device)
}

// storeFallback records presence for a device whose description could not be fetched or
// parsed (malformed URL, 404, unparseable body): a minimal device is still better than
// silently dropping the announce.
func (e *Engine) storeFallback(location, usn, hostHint string) {
	address := hostHint
	if address == "" {
		if u, err := url.Parse(location); err == nil {
			address = u.Hostname()
		}
	}
	device := &RemoteDevice{
		ID:             location,
		USN:            usn,
		Name:           "DLNA Device",
		Manufacturer:   "Unknown",
		Address:        address,
		Location:       location,
		LastSeenMillis: time.Now().UnixMilli(),
	}
	e.storeDevice(device)
}

// storeDevice inserts or refreshes a device entry. A fetch that outlives Stop() must
// not resurrect state into the torn-down engine, so a stopped engine drops the result.
// (An engine that was never started has state INACTIVE but an uncancelled run context.)
func (e *Engine) storeDevice(device *RemoteDevice) {
	e.mu.Lock()
	if e.state == stateInactive && e.runCtx.Err() != nil {
		e.mu.Unlock()
		return
	}
	_, existed := e.devices[device.ID]
	e.devices[device.ID] = device
	if !existed {
		e.order = append(e.order, device.ID)
	}
	e.mu.Unlock()

	if !existed {
		e.log.WithFields(logrus.Fields{"id": device.ID, "name": device.Name}).Info("device discovered")
		e.publish(Event{Kind: EventAdded, Device: device.clone()})
	}
}

// sweepLiveness evicts devices whose last-seen age exceeds cfg.DeviceLiveness.
func (e *Engine) sweepLiveness(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.LivenessSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evictStale()
		}
	}
}

func (e *Engine) evictStale() {
	cutoff := time.Now().Add(-e.cfg.DeviceLiveness).UnixMilli()
	var removed []string
	e.mu.Lock()
	for id, d := range e.devices {
		if d.LastSeenMillis < cutoff {
			delete(e.devices, id)
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		e.removeFromOrder(id)
	}
	e.mu.Unlock()
	for _, id := range removed {
		e.log.WithField("id", id).Info("device evicted: liveness timeout")
		e.publish(Event{Kind: EventRemoved, ID: id})
	}
}

// BeginSearch transitions LISTENING -> SEARCHING (re-entrant from SEARCHING, without
// closing the socket) and issues M-SEARCHes on all three targets. Idempotent re-entry resets
// the dedup LRU so a fresh search round re-evaluates every currently-alive device.
func (e *Engine) BeginSearch() {
	e.mu.Lock()
	alreadySearching := e.state == stateSearching
	e.state = stateSearching
	e.mu.Unlock()

	if alreadySearching {
		e.dedupMu.Lock()
		e.processed.Purge()
		e.dedupMu.Unlock()
	}
	// The M-SEARCH burst paces its three targets ~100ms apart; run it off the caller's
	// goroutine so the search window opens immediately.
	go e.broadcastSearch()
}

// EndSearch returns to LISTENING without closing the socket.
func (e *Engine) EndSearch() {
	e.mu.Lock()
	if e.state == stateSearching {
		e.state = stateListening
	}
	e.mu.Unlock()
}

func (e *Engine) broadcastSearch() {
	hostPort := fmt.Sprintf("%s:%d", e.cfg.MulticastAddress, e.cfg.MulticastPort)
	udpAddr, err := net.ResolveUDPAddr("udp4", hostPort)
	if err != nil {
		e.log.WithError(err).Warn("resolve multicast address for M-SEARCH failed")
		return
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		e.log.WithError(err).Warn("dial multicast for M-SEARCH failed")
		return
	}
	defer conn.Close()

	for _, target := range searchTargets {
		msg := buildMSearch(hostPort, target)
		if _, err := conn.Write([]byte(msg)); err != nil {
			e.log.WithError(err).WithField("st", target).Warn("M-SEARCH send failed")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// AddManualDevice seeds a device from a known host/port/description path without
// waiting for an SSDP announcement, for renderers that answer searches unreliably.
func (e *Engine) AddManualDevice(host string, port int, descriptionPath, name string) {
	location := fmt.Sprintf("http://%s:%d%s", host, port, descriptionPath)
	e.mu.RLock()
	_, exists := e.devices[location]
	e.mu.RUnlock()
	if exists {
		return
	}
	usn := "manual:" + location
	go e.fetchAndStore(location, usn, host)
}

// removeFromOrder drops id from the insertion-order slice. Callers must hold e.mu.
func (e *Engine) removeFromOrder(id string) {
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

// Devices returns a snapshot of all known devices in insertion order (copy-on-read),
// backing the facade's isTV > insertion-order selection heuristic.
func (e *Engine) Devices() []*RemoteDevice {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*RemoteDevice, 0, len(e.order))
	for _, id := range e.order {
		if d, ok := e.devices[id]; ok {
			out = append(out, d.clone())
		}
	}
	return out
}

// DeviceByID returns a snapshot of a single known device.
func (e *Engine) DeviceByID(id string) (*RemoteDevice, bool) {
	e.mu.RLock()
	d, ok := e.devices[id]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// Subscribe registers a listener for Added/Removed events. The returned cancel func must
// be called when the subscriber is done; it closes the channel.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	e.listenersMu.Lock()
	id := e.nextListenerID
	e.nextListenerID++
	e.listeners[id] = ch
	e.listenersMu.Unlock()

	cancel := func() {
		e.listenersMu.Lock()
		if existing, ok := e.listeners[id]; ok {
			delete(e.listeners, id)
			close(existing)
		}
		e.listenersMu.Unlock()
	}
	return ch, cancel
}

// publish fans an event out to all subscribers without blocking the caller: a full
// subscriber channel drops the event rather than stalling packet dispatch.
func (e *Engine) publish(ev Event) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	for _, ch := range e.listeners {
		select {
		case ch <- ev:
		default:
			e.log.Warn("event listener channel full, dropping event")
		}
	}
}
