package ssdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeadersCaseInsensitive(t *testing.T) {
	h := parseHeaders([]string{"Location: http://1.2.3.4/desc.xml\r", "usn: uuid:abc::upnp:rootdevice\r", ""})
	assert.Equal(t, "http://1.2.3.4/desc.xml", h.get("LOCATION"))
	assert.Equal(t, "http://1.2.3.4/desc.xml", h.get("location"))
	assert.Equal(t, "uuid:abc::upnp:rootdevice", h.get("USN"))
	assert.Equal(t, "", h.get("missing"))
}

func TestSplitMessage(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nLOCATION: http://x/desc.xml\r\n\r\n"
	start, rest := splitMessage(raw)
	assert.Equal(t, "HTTP/1.1 200 OK", start)
	assert.Contains(t, rest, "LOCATION: http://x/desc.xml\r")
}

func TestIsSearchResponseAndIsNotify(t *testing.T) {
	assert.True(t, isSearchResponse("HTTP/1.1 200 OK"))
	assert.False(t, isSearchResponse("NOTIFY * HTTP/1.1"))
	assert.True(t, isNotify("NOTIFY * HTTP/1.1"))
	assert.False(t, isNotify("HTTP/1.1 200 OK"))
}

func TestBuildMSearchFormat(t *testing.T) {
	msg := buildMSearch("239.255.255.250:1900", "upnp:rootdevice")
	assert.Contains(t, msg, "M-SEARCH * HTTP/1.1\r\n")
	assert.Contains(t, msg, "HOST: 239.255.255.250:1900\r\n")
	assert.Contains(t, msg, "MAN: \"ssdp:discover\"\r\n")
	assert.Contains(t, msg, "MX: 3\r\n")
	assert.Contains(t, msg, "ST: upnp:rootdevice\r\n")
	assert.True(t, len(msg) > 0 && msg[len(msg)-4:] == "\r\n\r\n")
}

func TestExtractUUID(t *testing.T) {
	assert.Equal(t, "abc-123", extractUUID("uuid:abc-123::upnp:rootdevice"))
	assert.Equal(t, "abc-123", extractUUID("uuid:abc-123"))
}
