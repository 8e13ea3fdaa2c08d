package lens2

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	impl "github.com/shynome/rtcnego/signaler"
)

type signaler struct {
	endpoint *url.URL
	client   *http.Client
}

func newSignaler(endpoint string) (*signaler, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	return &signaler{
		endpoint: u,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (s *signaler) newReq(ctx context.Context, method string, topic string, body io.Reader) (req *http.Request, err error) {
	if req, err = http.NewRequestWithContext(ctx, method, s.endpoint.String(), body); err != nil {
		return
	}
	q := req.URL.Query()
	q.Set("t", topic)
	req.URL.RawQuery = q.Encode()
	if u := s.endpoint.User; u != nil {
		pass, _ := u.Password()
		req.SetBasicAuth(u.Username(), pass)
	}
	return
}

func (p *signaler) doReq(req *http.Request) (res *http.Response, err error) {
	res, err = p.client.Do(req)
	if err != nil {
		return
	}
	if strings.HasPrefix(res.Status, "2") {
		return
	}
	defer res.Body.Close()
	var errText []byte
	if errText, err = io.ReadAll(res.Body); err != nil {
		return
	}
	if res.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("%w: %s", impl.ErrRejected, strings.TrimSpace(string(errText)))
	}
	err = fmt.Errorf("server err. status: %s. content: %s", res.Status, errText)
	return nil, err
}
