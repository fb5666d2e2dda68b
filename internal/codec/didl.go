package codec

import (
	"fmt"
	"path"
	"strings"
)

const didlHeader = `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" ` +
	`xmlns:dc="http://purl.org/dc/elements/1.1/" ` +
	`xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`

// extensionMIME maps a lowercase URL file extension to a MIME type.
var extensionMIME = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".m3u8": "application/vnd.apple.mpegurl",
	".mp3":  "audio/mpeg",
}

// GuessMIME infers a MIME type from a media URL's extension, defaulting to video/mp4.
func GuessMIME(mediaURL string) string {
	ext := strings.ToLower(path.Ext(stripQuery(mediaURL)))
	if mime, ok := extensionMIME[ext]; ok {
		return mime
	}
	return "video/mp4"
}

func stripQuery(u string) string {
	if idx := strings.IndexAny(u, "?#"); idx != -1 {
		return u[:idx]
	}
	return u
}

func isVideoMIME(mime string) bool {
	return strings.HasPrefix(mime, "video/") || mime == "application/vnd.apple.mpegurl"
}

// upnpClass returns the DIDL-Lite upnp:class for a media URL: any video or HLS MIME is
// object.item.videoItem, everything else is object.item.audioItem.musicTrack.
func upnpClass(mediaURL string) string {
	if isVideoMIME(GuessMIME(mediaURL)) {
		return "object.item.videoItem"
	}
	return "object.item.audioItem.musicTrack"
}

// BuildDIDLLite synthesizes the CurrentURIMetaData argument for SetAVTransportURI. The
// result is meant to be embedded in a CDATA section by the caller.
func BuildDIDLLite(mediaURL, title string) string {
	if title == "" {
		title = "Untitled"
	}
	mime := GuessMIME(mediaURL)
	class := upnpClass(mediaURL)

	var b strings.Builder
	b.WriteString(didlHeader)
	b.WriteString(`<item id="0" parentID="-1" restricted="1">`)
	fmt.Fprintf(&b, "<dc:title>%s</dc:title>", escapeText(title))
	fmt.Fprintf(&b, "<upnp:class>%s</upnp:class>", class)
	fmt.Fprintf(&b, `<res protocolInfo="http-get:*:%s:*">%s</res>`, mime, escapeURL(mediaURL))
	b.WriteString(`</item>`)
	b.WriteString(`</DIDL-Lite>`)
	return b.String()
}

// WrapCDATA embeds a DIDL-Lite (or other) payload in a CDATA section, the way
// CurrentURIMetaData is carried in SetAVTransportURI.
func WrapCDATA(payload string) string {
	// CDATA sections cannot contain "]]>"; split it if present, as any conforming
	// XML writer must.
	escaped := strings.ReplaceAll(payload, "]]>", "]]]]><![CDATA[>")
	return "<![CDATA[" + escaped + "]]>"
}
