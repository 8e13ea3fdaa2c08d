package commands

import (
	"context"
	"fmt"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/rtcnego"
	"github.com/shynome/rtcnego/mux"
	"github.com/shynome/rtcnego/peerconn"
	"github.com/spf13/cobra"
)

// NewGatherCmd returns the command printing a fully gathered offer.
func NewGatherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gather",
		Short: "Gather ICE candidates for one data channel and print the offer",
		RunE:  runGather,
	}
}

func runGather(cmd *cobra.Command, args []string) (err error) {
	defer err2.Handle(&err)

	api, udpMux := try.To2(mux.NewAPI(webrtc.SettingEngine{}, config.Port))
	if udpMux != nil {
		defer udpMux.Close()
	}
	pc := try.To1(api.NewPeerConnection(webrtc.Configuration{ICEServers: config.iceServers()}))
	defer pc.Close()
	try.To1(pc.CreateDataChannel("channel", nil))

	ctx, cancel := context.WithTimeout(cmd.Context(), config.Timeout)
	defer cancel()
	offer := try.To1(rtcnego.NegotiateContext(ctx, peerconn.Wrap(pc), rtcnego.Offerer))

	candidates := try.To1(peerconn.Candidates(offer))
	logger.WithField("candidates", len(candidates)).Info("gathering complete")
	for _, c := range candidates {
		logger.Debug(c)
	}
	fmt.Fprint(cmd.OutOrStdout(), offer)
	return
}
