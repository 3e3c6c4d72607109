package peer

import (
	"context"
	"sync"
	"time"
)

// Mesh owns a fixed set of Peers and dials each one, redialing with backoff
// while a dial or hand-off fails. One call to Start spawns one goroutine per peer;
// each goroutine runs until its context is cancelled.
type Mesh struct {
	peers   []*Peer
	adopter Adopter

	mu          sync.Mutex
	established map[string]chan struct{}

	wg sync.WaitGroup
}

// NewMesh builds a Mesh that hands every successfully dialed peer connection
// to adopter.
func NewMesh(adopter Adopter, peers ...*Peer) *Mesh {
	m := &Mesh{
		peers:       peers,
		adopter:     adopter,
		established: make(map[string]chan struct{}),
	}
	for _, p := range peers {
		m.established[p.Addr()] = make(chan struct{}, 1)
	}
	return m
}

// Start launches the redial loop for every peer. It returns immediately;
// the loops run until ctx is cancelled.
func (m *Mesh) Start(ctx context.Context) {
	for _, p := range m.peers {
		p := p
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(ctx, p)
		}()
	}
}

// Wait blocks until every peer's redial loop has exited, which happens once
// ctx is cancelled.
func (m *Mesh) Wait() {
	m.wg.Wait()
}

// Established returns a channel that receives a value each time the named
// peer completes a handshake and is handed to the adopter. It is buffered
// size 1 and intended for tests to synchronize on "peer is up" without
// polling State().
func (m *Mesh) Established(addr string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.established[addr]
}

func (m *Mesh) run(ctx context.Context, p *Peer) {
	for {
		if ctx.Err() != nil {
			p.setState(Disconnected)
			return
		}

		conn, err := p.connectOnce(ctx)
		if err != nil {
			p.logger.Protocol("peer: %s connect failed: %v", p.Addr(), err)
			p.setState(Backoff)
			if !sleepCtx(ctx, p.nextBackoff()) {
				return
			}
			continue
		}

		p.logger.Thread("peer: %s connected", p.Addr())
		leftover := conn.Leftover()
		if _, err := m.adopter.Adopt(conn.RawSocket(), leftover, p); err != nil {
			p.logger.Errorf("peer: %s adopt failed: %v", p.Addr(), err)
			conn.Disconnect()
			p.setState(Backoff)
			if !sleepCtx(ctx, p.nextBackoff()) {
				return
			}
			continue
		}

		m.notifyEstablished(p.Addr())

		// Ownership of the socket now belongs to the server's I/O thread;
		// this goroutine only waits for ctx cancellation. It does not
		// observe a later drop of the adopted connection and does not
		// redial the peer after one.
		<-ctx.Done()
		p.setState(Disconnected)
		return
	}
}

func (m *Mesh) notifyEstablished(addr string) {
	m.mu.Lock()
	ch := m.established[addr]
	m.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// sleepCtx sleeps for d or returns early (reporting false) if ctx is
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
