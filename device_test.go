package upnpcast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yoakerin/upnpcast/internal/ssdp"
)

func TestSelectDevicePrefersTV(t *testing.T) {
	speaker := &ssdp.RemoteDevice{ID: "speaker", IsTV: false}
	tv := &ssdp.RemoteDevice{ID: "tv", IsTV: true}
	chosen := selectDevice([]*ssdp.RemoteDevice{speaker, tv})
	assert.Equal(t, "tv", chosen.ID)
}

func TestSelectDeviceFallsBackToFirstKnown(t *testing.T) {
	first := &ssdp.RemoteDevice{ID: "first"}
	second := &ssdp.RemoteDevice{ID: "second"}
	chosen := selectDevice([]*ssdp.RemoteDevice{first, second})
	assert.Equal(t, "first", chosen.ID)
}

func TestSelectDeviceEmptySetReturnsNil(t *testing.T) {
	assert.Nil(t, selectDevice(nil))
}
