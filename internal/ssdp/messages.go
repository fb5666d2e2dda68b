package ssdp

import (
	"fmt"
	"strings"
)

const userAgent = "UPnPCast/1.0"

// searchTargets are sent, in order, on every search round.
var searchTargets = []string{
	"upnp:rootdevice",
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"ssdp:all",
}

// headers is a case-insensitive view over parsed SSDP message headers.
type headers map[string]string

func (h headers) get(name string) string {
	return h[strings.ToLower(name)]
}

// parseHeaders parses the header lines of an HTTPU message (everything after the
// request/status line). Header names are folded to lowercase so lookups via get
// are case-insensitive.
func parseHeaders(lines []string) headers {
	h := make(headers, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		h[key] = strings.TrimSpace(parts[1])
	}
	return h
}

// splitMessage splits a raw HTTPU datagram into its start line and header lines.
func splitMessage(raw string) (startLine string, rest []string) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 {
		return "", nil
	}
	return strings.TrimRight(lines[0], "\r"), lines[1:]
}

func isSearchResponse(startLine string) bool {
	return strings.HasPrefix(startLine, "HTTP/1.1 200")
}

func isNotify(startLine string) bool {
	return strings.HasPrefix(startLine, "NOTIFY")
}

// buildMSearch renders an M-SEARCH request for the given search target and
// multicast host, exactly.
func buildMSearch(host, target string) string {
	return fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\n"+
			"HOST: %s\r\n"+
			"MAN: \"ssdp:discover\"\r\n"+
			"MX: 3\r\n"+
			"ST: %s\r\n"+
			"USER-AGENT: %s\r\n"+
			"\r\n",
		host, target, userAgent,
	)
}

// extractUUID pulls the device identity out of a USN header value
// ("uuid:XXXX::upnp:rootdevice" -> "XXXX"). Used only for log correlation;
// the device map itself is keyed by LOCATION.
func extractUUID(usn string) string {
	parts := strings.SplitN(usn, "::", 2)
	return strings.TrimPrefix(parts[0], "uuid:")
}
