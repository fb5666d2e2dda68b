package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	encodingNS = "http://schemas.xmlsoap.org/soap/encoding/"
)

// Action is a single SOAP action argument list, in call order. Argument values are
// escaped by BuildEnvelope; callers pass raw values.
type Action struct {
	ServiceType string
	Name        string
	Args        []Arg
}

// Arg is one <Name>Value</Name> argument of a SOAP action. Raw values (a DIDL-Lite
// CDATA block, for instance) are written verbatim instead of escaped, since escaping
// would corrupt the CDATA delimiters themselves. URL values get amp/lt/gt escaping
// only, so quotes and other characters legal in a URL survive verbatim.
type Arg struct {
	Name  string
	Value string
	Raw   bool
	URL   bool
}

// SOAPActionHeader is the exact `SOAPAction` header value for an action, including the
// surrounding double quotes UPnP requires.
func SOAPActionHeader(serviceType, action string) string {
	return fmt.Sprintf("%q", serviceType+"#"+action)
}

// BuildEnvelope renders a SOAP request envelope for the given action. Plain argument
// values are XML-escaped via xml.EscapeText, URL arguments receive amp/lt/gt escaping
// only; the body element itself is not escaped beyond that.
func BuildEnvelope(a Action) string {
	var body strings.Builder
	fmt.Fprintf(&body, `<u:%s xmlns:u=%q>`, a.Name, a.ServiceType)
	for _, arg := range a.Args {
		value := arg.Value
		switch {
		case arg.Raw:
		case arg.URL:
			value = escapeURL(value)
		default:
			value = escapeText(value)
		}
		fmt.Fprintf(&body, "<%s>%s</%s>", arg.Name, value, arg.Name)
	}
	fmt.Fprintf(&body, `</u:%s>`, a.Name)

	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?>`+
			`<s:Envelope xmlns:s=%q s:encodingStyle=%q>`+
			`<s:Body>%s</s:Body>`+
			`</s:Envelope>`,
		envelopeNS, encodingNS, body.String(),
	)
}

func escapeText(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

var urlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escapeURL escapes only the three characters that would break XML well-formedness,
// leaving quotes and everything else a URL may legally carry untouched.
func escapeURL(s string) string {
	return urlEscaper.Replace(s)
}

// envelopeXML is used only to detect a SOAP Fault; the happy-path response body is
// scanned for individual argument values with ExtractValue, since the argument element
// set varies per action and we don't want a struct per action/response pair.
type envelopeXML struct {
	Body struct {
		Fault *struct {
			FaultCode   string `xml:"faultcode"`
			FaultString string `xml:"faultstring"`
		} `xml:"Fault"`
		Raw []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// ParseEnvelope checks a SOAP response body for a Fault and returns the raw inner body
// XML for further extraction via ExtractValue on success.
func ParseEnvelope(body []byte) ([]byte, error) {
	var env envelopeXML
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, &ParseError{Context: "SOAP envelope", Err: err}
	}
	if env.Body.Fault != nil {
		return nil, &Fault{Code: env.Body.Fault.FaultCode, String: env.Body.Fault.FaultString}
	}
	return env.Body.Raw, nil
}

// ExtractValue does a tolerant scan for <tag>value</tag> within a response body,
// returning "" if the tag is absent. A strict struct per action/response pair would
// multiply fivefold for marginal benefit, so responses are scanned element by element.
func ExtractValue(body []byte, tag string) string {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	s := string(body)
	start := strings.Index(s, open)
	if start == -1 {
		// Some services self-close or emit attributes; fall back to a looser scan.
		return extractValueLoose(s, tag)
	}
	start += len(open)
	end := strings.Index(s[start:], closeTag)
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(s[start : start+end])
}

func extractValueLoose(s, tag string) string {
	idx := strings.Index(s, "<"+tag)
	if idx == -1 {
		return ""
	}
	gt := strings.Index(s[idx:], ">")
	if gt == -1 {
		return ""
	}
	start := idx + gt + 1
	end := strings.Index(s[start:], "</"+tag+">")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(s[start : start+end])
}
