package mux

import (
	"testing"

	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
)

func TestNewAPIWithoutPort(t *testing.T) {
	api, m := try.To2(NewAPI(webrtc.SettingEngine{}, 0))
	assert.That(api != nil)
	assert.That(m == nil)

	pc := try.To1(api.NewPeerConnection(webrtc.Configuration{}))
	try.To(pc.Close())
}

func TestNewAPIWithPort(t *testing.T) {
	api, m := try.To2(NewAPI(webrtc.SettingEngine{}, 38461))
	defer m.Close()
	assert.That(api != nil)
	assert.That(m != nil)
}
