package ssdp

import (
	"net/url"

	"github.com/yoakerin/upnpcast/internal/codec"
)

// resolveServiceURLs resolves each service's controlURL/eventSubURL/SCPDURL against the
// device description's base URL: absolute URLs pass through; paths beginning with '/'
// are appended to scheme://host:port; others are appended to the base path (the path
// prefix up to the last '/'). net/url's ResolveReference implements RFC 3986 reference
// resolution, which is exactly this rule.
func resolveServiceURLs(services []codec.Service, base *url.URL) []codec.Service {
	out := make([]codec.Service, len(services))
	for i, svc := range services {
		out[i] = codec.Service{
			ServiceType: svc.ServiceType,
			ServiceID:   svc.ServiceID,
			ControlURL:  resolveURL(base, svc.ControlURL),
			EventSubURL: resolveURL(base, svc.EventSubURL),
			SCPDURL:     resolveURL(base, svc.SCPDURL),
		}
	}
	return out
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
