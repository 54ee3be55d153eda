package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// Valores padrão do transporte em memória
const (
	DefaultMemoryMTU         = 64 * 1024
	DefaultMemoryLinkQuality = 1.0
	eventQueueDepth          = 1024
)

// MemoryNetwork conecta MemoryTransports dentro do mesmo processo
type MemoryNetwork struct {
	mu    sync.RWMutex
	nodes map[protocol.PeerID]*MemoryTransport
}

// NewMemoryNetwork cria uma rede vazia
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[protocol.PeerID]*MemoryTransport)}
}

// MemoryTransport é um transporte em processo para testes e demonstrações
type MemoryTransport struct {
	id          protocol.PeerID
	network     *MemoryNetwork
	mtu         int
	linkQuality float32

	mu     sync.RWMutex
	peers  map[protocol.PeerID]*MemoryTransport
	events chan Event
	closed bool
}

// NewTransport registra um transporte novo na rede
func (n *MemoryNetwork) NewTransport(id protocol.PeerID) *MemoryTransport {
	t := &MemoryTransport{
		id:          id,
		network:     n,
		mtu:         DefaultMemoryMTU,
		linkQuality: DefaultMemoryLinkQuality,
		peers:       make(map[protocol.PeerID]*MemoryTransport),
		events:      make(chan Event, eventQueueDepth),
	}
	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	return t
}

// Connect liga dois transportes nos dois sentidos e emite PeerConnected em ambos
func (n *MemoryNetwork) Connect(a, b protocol.PeerID) error {
	n.mu.RLock()
	ta, okA := n.nodes[a]
	tb, okB := n.nodes[b]
	n.mu.RUnlock()
	if !okA || !okB {
		return fmt.Errorf("%w: %s ou %s", ErrUnknownPeer, a.Short(), b.Short())
	}

	if ta.link(tb) {
		ta.emit(Event{Kind: PeerConnected, Peer: b})
	}
	if tb.link(ta) {
		tb.emit(Event{Kind: PeerConnected, Peer: a})
	}
	return nil
}

// Disconnect desfaz a ligação e emite PeerDisconnected em ambos
func (n *MemoryNetwork) Disconnect(a, b protocol.PeerID) {
	n.mu.RLock()
	ta, okA := n.nodes[a]
	tb, okB := n.nodes[b]
	n.mu.RUnlock()

	if okA && ta.unlink(b) {
		ta.emit(Event{Kind: PeerDisconnected, Peer: b})
	}
	if okB && tb.unlink(a) {
		tb.emit(Event{Kind: PeerDisconnected, Peer: a})
	}
}

// ID retorna o PeerID deste transporte
func (t *MemoryTransport) ID() protocol.PeerID { return t.id }

// SetMTU altera o MTU
func (t *MemoryTransport) SetMTU(mtu int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mtu = mtu
}

// SetLinkQuality altera a qualidade reportada
func (t *MemoryTransport) SetLinkQuality(q float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linkQuality = q
}

func (t *MemoryTransport) link(other *MemoryTransport) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if _, exists := t.peers[other.id]; exists {
		return false
	}
	t.peers[other.id] = other
	return true
}

func (t *MemoryTransport) unlink(id protocol.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.peers[id]; !exists || t.closed {
		return false
	}
	delete(t.peers, id)
	return true
}

// emit entrega um evento sem bloquear; descarta se a fila estiver cheia
func (t *MemoryTransport) emit(ev Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	select {
	case t.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (t *MemoryTransport) Send(ctx context.Context, peer protocol.PeerID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	closed, mtu := t.closed, t.mtu
	other, ok := t.peers[peer]
	t.mu.RUnlock()

	switch {
	case closed:
		return ErrClosed
	case len(data) > mtu:
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), mtu)
	case !ok:
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer.Short())
	}

	if err := other.emit(Event{Kind: DataReceived, Peer: t.id, Data: bytes.Clone(data)}); err != nil {
		return fmt.Errorf("envio para %s: %w", peer.Short(), err)
	}
	return nil
}

func (t *MemoryTransport) Broadcast(ctx context.Context, data []byte) error {
	var errs []error
	for _, peer := range t.Peers() {
		if err := t.Send(ctx, peer, data); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("broadcast falhou para %d peers: %w", len(errs), errs[0])
	}
	return nil
}

func (t *MemoryTransport) Subscribe() <-chan Event {
	return t.events
}

func (t *MemoryTransport) Peers() []protocol.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]protocol.PeerID, 0, len(t.peers))
	for id := range t.peers {
		peers = append(peers, id)
	}
	return peers
}

func (t *MemoryTransport) MTU() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mtu
}

func (t *MemoryTransport) LinkQuality() float32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.linkQuality
}

// Close desconecta todos os vizinhos e fecha o canal de eventos
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	peers := t.peers
	t.peers = make(map[protocol.PeerID]*MemoryTransport)
	t.closed = true
	close(t.events)
	t.mu.Unlock()

	for _, other := range peers {
		if other.unlink(t.id) {
			other.emit(Event{Kind: PeerDisconnected, Peer: t.id})
		}
	}

	t.network.mu.Lock()
	delete(t.network.nodes, t.id)
	t.network.mu.Unlock()
	return nil
}
