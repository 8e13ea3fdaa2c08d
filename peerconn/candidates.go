package peerconn

import (
	"errors"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/sdp/v3"
)

var ErrNoMedia = errors.New("session description has no media section")

// Candidates returns the a=candidate values of every media section in text.
func Candidates(text string) (candidates []string, err error) {
	defer err2.Handle(&err)

	desc := &sdp.SessionDescription{}
	try.To(desc.Unmarshal([]byte(text)))
	if len(desc.MediaDescriptions) == 0 {
		return nil, ErrNoMedia
	}

	for _, md := range desc.MediaDescriptions {
		for _, a := range md.Attributes {
			if a.Key == "candidate" {
				candidates = append(candidates, a.Value)
			}
		}
	}
	return
}
