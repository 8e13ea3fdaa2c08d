package rtcnego

import (
	"context"
	"sync"
)

// Guard serializes negotiations on one peer connection. Negotiate itself
// does not lock; callers sharing a connection between goroutines wrap it once
// and negotiate through the guard.
type Guard struct {
	pc PeerConnection
	mu sync.Mutex
}

func Serialized(pc PeerConnection) *Guard {
	return &Guard{pc: pc}
}

func (g *Guard) PeerConnection() PeerConnection { return g.pc }

func (g *Guard) Negotiate(role Role) (string, error) {
	return g.NegotiateContext(context.Background(), role)
}

// NegotiateContext waits for the running negotiation, if any, before it
// starts. ctx bounds only the gathering wait, not the wait for the lock.
func (g *Guard) NegotiateContext(ctx context.Context, role Role) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return NegotiateContext(ctx, g.pc, role)
}
