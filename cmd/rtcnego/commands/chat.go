package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/shynome/rtcnego/peer"
	impl "github.com/shynome/rtcnego/signaler"
	"github.com/shynome/rtcnego/signaler/lens2"
	"github.com/shynome/rtcnego/signaler/mqtt"
	"github.com/shynome/rtcnego/signaler/wamp"
	"github.com/shynome/rtcnego/signaler/ws"
	"github.com/spf13/cobra"
)

var ErrUnknownTransport = errors.New("unknown signaling transport")

// NewConnectCmd returns the command opening a chat with one peer.
func NewConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <peer-id>",
		Short: "Connect to a peer and chat over a data channel",
		Args:  cobra.ExactArgs(1),
		RunE:  runConnect,
	}
}

// NewListenCmd returns the command accepting chats from any peer.
func NewListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Accept peers and chat with all of them over data channels",
		RunE:  runListen,
	}
}

func openSignaler(ctx context.Context) (ch impl.Channel, id string, err error) {
	defer err2.Handle(&err)
	id = config.ID
	if id == "" {
		id = uuid.NewString()
	}
	switch config.Transport {
	case "ws":
		c := try.To1(ws.Dial(ctx, config.Signaler, logger))
		return c, c.ID(), nil
	case "wamp":
		tlscfg := try.To1(wamp.TLSConfig(config.CAFile, config.Insecure, logger))
		c := try.To1(wamp.Dial(ctx, config.Signaler, id, wamp.Config{
			Realm:           config.Realm,
			ResponseTimeout: config.Timeout,
			TLS:             tlscfg,
		}, logger))
		return c, id, nil
	case "lens2":
		c := try.To1(lens2.NewSignaler(id, config.Signaler, logger))
		return c, id, nil
	case "mqtt":
		c := try.To1(mqtt.Dial(id, mqtt.Config{Broker: config.Signaler, Prefix: config.Realm}, logger))
		return c, id, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnknownTransport, config.Transport)
}

func openHub(ctx context.Context) (hub *peer.Hub, id string, err error) {
	defer err2.Handle(&err)
	ch, id := try.To2(openSignaler(ctx))
	hub = peer.NewHub(ch, logger)
	hub.ICEServers = config.iceServers()
	hub.Timeout = config.Timeout
	if err := hub.Open(config.Port); err != nil {
		ch.Close()
		return nil, "", err
	}
	fmt.Fprintf(os.Stderr, "my id: %s\n", id)
	return hub, id, nil
}

func runConnect(cmd *cobra.Command, args []string) (err error) {
	defer err2.Handle(&err)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub, _ := try.To2(openHub(ctx))
	defer hub.Close()

	dialCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	conn := try.To1(hub.Connect(dialCtx, args[0]))

	r := newRoom(cmd.OutOrStdout())
	r.join(conn)
	r.run(ctx, cmd.InOrStdin(), conn.Done())
	return
}

func runListen(cmd *cobra.Command, args []string) (err error) {
	defer err2.Handle(&err)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub, _ := try.To2(openHub(ctx))
	defer hub.Close()

	conns := try.To1(hub.Accept(ctx))
	r := newRoom(cmd.OutOrStdout())
	go func() {
		for c := range conns {
			r.join(c)
		}
	}()
	r.run(ctx, cmd.InOrStdin(), nil)
	return
}

// room relays stdin lines to every joined peer and prints what they send.
type room struct {
	out io.Writer

	l     sync.Mutex
	conns map[*peer.Conn]struct{}
}

func newRoom(out io.Writer) *room {
	return &room{out: out, conns: make(map[*peer.Conn]struct{})}
}

func (r *room) join(c *peer.Conn) {
	r.l.Lock()
	r.conns[c] = struct{}{}
	r.l.Unlock()
	r.printf("* %s connected\n", c.ID())
	go r.serve(c)
}

func (r *room) serve(c *peer.Conn) {
	for {
		select {
		case msg := <-c.Message():
			r.printf("[%s] %s\n", c.ID(), msg.Data)
		case <-c.Done():
			r.l.Lock()
			delete(r.conns, c)
			r.l.Unlock()
			r.printf("* %s disconnected\n", c.ID())
			return
		}
	}
}

func (r *room) printf(format string, a ...any) {
	r.l.Lock()
	defer r.l.Unlock()
	fmt.Fprintf(r.out, format, a...)
}

func (r *room) broadcast(line string) {
	r.l.Lock()
	conns := make([]*peer.Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.l.Unlock()
	for _, c := range conns {
		if err := c.SendText(line); err != nil {
			logger.WithError(err).WithField("peer", c.ID()).Warn("send")
		}
	}
}

// run broadcasts input lines until input ends, ctx is done or done closes.
func (r *room) run(ctx context.Context, in io.Reader, done <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			r.broadcast(line)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
