package node

import (
	"fmt"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// RateLimitConfig limita os quadros aceitos de cada vizinho.
// Com FramesPerSecond = 0 não há limite.
type RateLimitConfig struct {
	FramesPerSecond int64
	Burst           int64
	Window          time.Duration // Janela em que FramesPerSecond é contado (0 usa um segundo)
}

// DefaultRateLimitConfig retorna o limite padrão por vizinho
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		FramesPerSecond: 200,
		Burst:           400,
	}
}

// peerLimiter aplica um balde de fichas por vizinho
type peerLimiter struct {
	bucket *limiter.TokenBucket
}

// newPeerLimiter retorna nil, sem erro, quando não há limite
func newPeerLimiter(config RateLimitConfig) (*peerLimiter, error) {
	if config.FramesPerSecond <= 0 {
		return nil, nil
	}
	window := config.Window
	if window == 0 {
		window = time.Second
	}
	burst := config.Burst
	if burst < config.FramesPerSecond {
		burst = config.FramesPerSecond
	}
	bucket, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     config.FramesPerSecond,
			Duration: window,
			Burst:    burst,
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("limite por vizinho inválido: %w", err)
	}
	return &peerLimiter{bucket: bucket}, nil
}

// allow é seguro com receptor nil (sem limite)
func (l *peerLimiter) allow(peer protocol.PeerID) bool {
	if l == nil {
		return true
	}
	return l.bucket.Allow(peer.String())
}
