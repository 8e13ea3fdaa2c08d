// Package mux shares one UDP port between the ICE agents of every peer
// connection created from the same pion API.
package mux

import (
	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
)

// WithUDPMux installs a UDP mux listening on port into engine. It is nil on
// platforms without UDP sockets.
var WithUDPMux func(engine *webrtc.SettingEngine, port uint16) (ice.UDPMux, error)

// NewAPI returns a pion API whose connections gather on port, or on
// ephemeral ports when port is 0 or muxing is unavailable. The returned mux
// is nil in that case and must otherwise be closed by the caller.
func NewAPI(engine webrtc.SettingEngine, port uint16) (api *webrtc.API, mux ice.UDPMux, err error) {
	if port > 0 && WithUDPMux != nil {
		if mux, err = WithUDPMux(&engine, port); err != nil {
			return
		}
	}
	api = webrtc.NewAPI(webrtc.WithSettingEngine(engine))
	return
}
