// Package codec implements the tolerant UPnP device-description parser and the
// SOAP/DIDL-Lite envelope codec used to talk to AVTransport and RenderingControl
// services. It performs no I/O.
package codec

import (
	"encoding/xml"
	"strings"
)

// Service describes a single UPnP service entry from a device description document.
type Service struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

// HasType reports whether the service's type string contains needle, case-insensitively.
// Real devices vary casing and version suffixes ("AVTransport:1" vs "AVTransport:2"), so
// callers match on substring rather than exact value.
func (s Service) HasType(needle string) bool {
	return strings.Contains(strings.ToLower(s.ServiceType), strings.ToLower(needle))
}

// DeviceDescription is the result of parsing a UPnP root device description document.
type DeviceDescription struct {
	FriendlyName string
	Manufacturer string
	ModelName    string
	DeviceType   string
	Services     []Service
}

// Castable reports whether the description exposes an AVTransport-flavored service with
// a non-empty control URL.
func (d DeviceDescription) Castable() bool {
	return d.AVTransportService() != nil
}

// AVTransportService returns the first service whose type looks like AVTransport, or nil.
func (d DeviceDescription) AVTransportService() *Service {
	return d.serviceByType("AVTransport")
}

// RenderingControlService returns the first service whose type looks like
// RenderingControl, or nil.
func (d DeviceDescription) RenderingControlService() *Service {
	return d.serviceByType("RenderingControl")
}

func (d DeviceDescription) serviceByType(needle string) *Service {
	for i := range d.Services {
		if d.Services[i].HasType(needle) && d.Services[i].ControlURL != "" {
			return &d.Services[i]
		}
	}
	return nil
}

// rootXML mirrors only the fields we care about. encoding/xml ignores elements and
// namespace prefixes it doesn't recognize, which gives us the tolerance real devices
// require: malformed or unfamiliar child elements are skipped rather than rejected.
type rootXML struct {
	Device struct {
		DeviceType   string `xml:"deviceType"`
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		ServiceList  struct {
			Service []Service `xml:"service"`
		} `xml:"serviceList"`
	} `xml:"device"`
}

var manufacturerAliases = map[string]string{
	"xiaomi":   "Xiaomi",
	"mi ":      "Xiaomi",
	"samsung":  "Samsung",
	"lg elect": "LG",
	"lge":      "LG",
	"sony":     "Sony",
	"panasoni": "Panasonic",
	"tcl":      "TCL",
	"hisense":  "Hisense",
}

// normalizeManufacturer maps known manufacturer substrings to a canonical display form.
// Unrecognized strings pass through unchanged.
func normalizeManufacturer(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return raw
	}
	for needle, canonical := range manufacturerAliases {
		if strings.Contains(lower, needle) {
			return canonical
		}
	}
	return raw
}

// synthesizeName derives a display name when friendlyName is absent.
func synthesizeName(friendlyName, manufacturer, modelName string) string {
	if friendlyName != "" {
		return friendlyName
	}
	switch {
	case manufacturer != "" && modelName != "":
		return manufacturer + " " + modelName
	case manufacturer != "":
		return manufacturer
	case modelName != "":
		return modelName
	default:
		return "DLNA Device"
	}
}

// ParseDeviceDescription parses a UPnP root device description document. It is
// deliberately permissive: unknown elements, missing optional fields, BOM prefixes and
// namespace prefix variation never cause a parse failure by themselves. Only input that
// isn't XML at all (no element decodable) is reported as an error; a document without a
// <device> element yields an empty description with the "DLNA Device" name.
func ParseDeviceDescription(data []byte) (DeviceDescription, error) {
	data = stripBOM(data)

	var root rootXML
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	dec.Strict = false
	if err := dec.Decode(&root); err != nil {
		return DeviceDescription{}, &ParseError{Context: "device description", Err: err}
	}

	manufacturer := normalizeManufacturer(root.Device.Manufacturer)
	desc := DeviceDescription{
		FriendlyName: synthesizeName(root.Device.FriendlyName, manufacturer, root.Device.ModelName),
		Manufacturer: manufacturer,
		ModelName:    root.Device.ModelName,
		DeviceType:   root.Device.DeviceType,
		Services:     root.Device.ServiceList.Service,
	}
	return desc, nil
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// tvManufacturerHints is substring-matched against manufacturer+model+friendlyName to
// derive the isTV heuristic the facade uses for device selection.
var tvManufacturerHints = []string{"tv", "samsung", "lg", "sony", "xiaomi"}

// LooksLikeTV applies the facade's device-selection heuristic.
func (d DeviceDescription) LooksLikeTV() bool {
	haystack := strings.ToLower(d.Manufacturer + " " + d.ModelName + " " + d.FriendlyName)
	for _, hint := range tvManufacturerHints {
		if strings.Contains(haystack, hint) {
			return true
		}
	}
	return false
}
