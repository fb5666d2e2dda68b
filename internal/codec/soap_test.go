package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSOAPActionHeader(t *testing.T) {
	assert.Equal(t, `"urn:schemas-upnp-org:service:AVTransport:1#Play"`,
		SOAPActionHeader("urn:schemas-upnp-org:service:AVTransport:1", "Play"))
}

func TestBuildEnvelopeEscapesPlainArgs(t *testing.T) {
	env := BuildEnvelope(Action{
		ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
		Name:        "SetAVTransportURI",
		Args: []Arg{
			{Name: "InstanceID", Value: "0"},
			{Name: "CurrentURI", Value: "http://host/a.mp4?x=1&y=2"},
		},
	})
	assert.Contains(t, env, "<InstanceID>0</InstanceID>")
	assert.Contains(t, env, "http://host/a.mp4?x=1&amp;y=2")
	assert.NotContains(t, env, "&y=2")
}

func TestBuildEnvelopeURLArgsEscapeAmpLtGtOnly(t *testing.T) {
	env := BuildEnvelope(Action{
		ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
		Name:        "SetAVTransportURI",
		Args: []Arg{
			{Name: "CurrentURI", Value: `http://host/a.mp4?q="x"&y=<z>`, URL: true},
		},
	})
	assert.Contains(t, env, `http://host/a.mp4?q="x"&amp;y=&lt;z&gt;`,
		"quotes in a URL argument must survive verbatim")
	assert.NotContains(t, env, "&#34;")
}

func TestBuildEnvelopeLeavesRawArgsUnescaped(t *testing.T) {
	cdata := WrapCDATA(`<DIDL-Lite><item>&amp;already</item></DIDL-Lite>`)
	env := BuildEnvelope(Action{
		ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
		Name:        "SetAVTransportURI",
		Args: []Arg{
			{Name: "CurrentURIMetaData", Value: cdata, Raw: true},
		},
	})
	assert.Contains(t, env, "<![CDATA[")
	assert.Contains(t, env, "]]>")
	assert.NotContains(t, env, "&lt;![CDATA[")
}

func TestParseEnvelopeExtractsFault(t *testing.T) {
	body := []byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><s:Fault><faultcode>s:Client</faultcode>` +
		`<faultstring>UPnPError</faultstring></s:Fault></s:Body></s:Envelope>`)
	_, err := ParseEnvelope(body)
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "s:Client", fault.Code)
}

func TestParseEnvelopeReturnsInnerBodyOnSuccess(t *testing.T) {
	body := []byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:PlayResponse/></s:Body></s:Envelope>`)
	inner, err := ParseEnvelope(body)
	require.NoError(t, err)
	assert.Contains(t, string(inner), "PlayResponse")
}

func TestExtractValue(t *testing.T) {
	body := []byte(`<u:GetPositionInfoResponse><RelTime>0:01:02</RelTime><TrackDuration>0:10:00</TrackDuration></u:GetPositionInfoResponse>`)
	assert.Equal(t, "0:01:02", ExtractValue(body, "RelTime"))
	assert.Equal(t, "0:10:00", ExtractValue(body, "TrackDuration"))
	assert.Equal(t, "", ExtractValue(body, "Missing"))
}

func TestExtractValueLooseHandlesAttributes(t *testing.T) {
	body := []byte(`<CurrentVolume val="hint">42</CurrentVolume>`)
	assert.Equal(t, "42", ExtractValue(body, "CurrentVolume"))
}
