package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// BreakerConfig controla o disjuntor por vizinho.
// Com FailureThreshold = 0 os envios não passam por disjuntor.
type BreakerConfig struct {
	FailureThreshold uint32        // Falhas consecutivas que abrem o disjuntor
	ResetTimeout     time.Duration // Tempo aberto antes de tentar de novo
}

// DefaultBreakerConfig retorna a configuração padrão do disjuntor
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// peerBreakers isola vizinhos que falham repetidamente para que o nó
// passe direto para a inundação em vez de insistir no mesmo salto
type peerBreakers struct {
	config   BreakerConfig
	logger   logrus.FieldLogger
	mutex    sync.Mutex
	breakers map[protocol.PeerID]*gobreaker.CircuitBreaker
}

func newPeerBreakers(config BreakerConfig, logger logrus.FieldLogger) *peerBreakers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &peerBreakers{
		config:   config,
		logger:   logger,
		breakers: make(map[protocol.PeerID]*gobreaker.CircuitBreaker),
	}
}

func (p *peerBreakers) get(peer protocol.PeerID) *gobreaker.CircuitBreaker {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if cb, ok := p.breakers[peer]; ok {
		return cb
	}
	threshold := p.config.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        peer.Short(),
		MaxRequests: 1,
		Timeout:     p.config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// cancelamento local não diz nada sobre o vizinho
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.WithFields(logrus.Fields{
				"peer": name,
				"from": from.String(),
				"to":   to.String(),
			}).Info("Disjuntor do vizinho mudou de estado")
		},
	})
	p.breakers[peer] = cb
	return cb
}

// do executa fn pelo disjuntor do vizinho
func (p *peerBreakers) do(peer protocol.PeerID, fn func() error) error {
	if p.config.FailureThreshold == 0 {
		return fn()
	}
	_, err := p.get(peer).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// forget descarta o disjuntor de um vizinho que saiu
func (p *peerBreakers) forget(peer protocol.PeerID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.breakers, peer)
}

// state retorna o estado do disjuntor do vizinho (fechado se nunca usado)
func (p *peerBreakers) state(peer protocol.PeerID) gobreaker.State {
	p.mutex.Lock()
	cb, ok := p.breakers[peer]
	p.mutex.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
