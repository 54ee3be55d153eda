package node

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

const (
	// DefaultReassemblyTimeout é quanto tempo fragmentos incompletos são guardados
	DefaultReassemblyTimeout = 30 * time.Second
	// DefaultMaxPendingFrames limita os quadros incompletos em memória.
	// Acima disso o parcial usado há mais tempo é descartado.
	DefaultMaxPendingFrames = 64
)

type partialKey struct {
	from protocol.PeerID
	id   protocol.MessageID
}

type partial struct {
	total   uint8
	pieces  map[uint8][]byte
	started time.Time
}

// reassembler junta fragmentos por (vizinho, mensagem).
// Cópias repassadas por vizinhos diferentes diferem no hop_count, por isso não se misturam.
type reassembler struct {
	mutex   sync.Mutex
	pending *lru.Cache // partialKey -> *partial
	timeout time.Duration
	clock   clock.Clock
}

func newReassembler(timeout time.Duration, maxPending int, clk clock.Clock) *reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingFrames
	}
	// lru.New só falha com tamanho não positivo
	pending, _ := lru.New(maxPending)
	return &reassembler{
		pending: pending,
		timeout: timeout,
		clock:   clk,
	}
}

// add registra um fragmento e retorna o quadro completo quando o último pedaço chega
func (r *reassembler) add(from protocol.PeerID, f protocol.Fragment) ([]byte, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.clock.Now()
	r.prune(now)

	key := partialKey{from: from, id: f.ID}
	var p *partial
	if value, exists := r.pending.Get(key); exists {
		p = value.(*partial)
	}
	if p == nil || p.total != f.Total {
		p = &partial{total: f.Total, pieces: make(map[uint8][]byte), started: now}
		r.pending.Add(key, p)
	}
	p.pieces[f.Index] = f.Data
	if len(p.pieces) < int(p.total) {
		return nil, false
	}

	r.pending.Remove(key)
	size := 0
	for _, piece := range p.pieces {
		size += len(piece)
	}
	frame := make([]byte, 0, size)
	for i := uint8(0); i < p.total; i++ {
		frame = append(frame, p.pieces[i]...)
	}
	return frame, true
}

func (r *reassembler) prune(now time.Time) int {
	removed := 0
	for _, key := range r.pending.Keys() {
		value, ok := r.pending.Peek(key)
		if ok && now.Sub(value.(*partial).started) > r.timeout {
			r.pending.Remove(key)
			removed++
		}
	}
	return removed
}

func (r *reassembler) len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.pending.Len()
}
