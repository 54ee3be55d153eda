package utils

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ExpiringSet é um conjunto que automaticamente remove itens após um período de tempo.
// Útil para deduplicação de mensagens e cache com TTL.
type ExpiringSet[K comparable] struct {
	items    map[K]time.Time
	mutex    sync.RWMutex
	ttl      time.Duration
	clock    clock.Clock
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewExpiringSet cria um novo conjunto com expiração
// ttl: tempo de vida dos itens
// cleanupInterval: intervalo para verificar e remover itens expirados (<= 0 desativa a limpeza automática)
func NewExpiringSet[K comparable](ttl time.Duration, cleanupInterval time.Duration) *ExpiringSet[K] {
	return NewExpiringSetWithClock[K](ttl, cleanupInterval, clock.New())
}

// NewExpiringSetWithClock cria o conjunto usando um relógio específico (testes)
func NewExpiringSetWithClock[K comparable](ttl time.Duration, cleanupInterval time.Duration, clk clock.Clock) *ExpiringSet[K] {
	es := &ExpiringSet[K]{
		items:    make(map[K]time.Time),
		ttl:      ttl,
		clock:    clk,
		stopChan: make(chan struct{}),
	}

	if cleanupInterval <= 0 {
		return es
	}

	// Iniciar goroutine de limpeza
	ticker := clk.Ticker(cleanupInterval)
	es.wg.Add(1)
	go func() {
		defer es.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				es.Cleanup()
			case <-es.stopChan:
				return
			}
		}
	}()

	return es
}

// Add adiciona um item ao conjunto
// Retorna true se o item foi adicionado, false se já existia
func (es *ExpiringSet[K]) Add(item K) bool {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	now := es.clock.Now()
	if expiry, exists := es.items[item]; exists && expiry.After(now) {
		// Item já existe e não expirou
		return false
	}

	// Adicionar ou atualizar item
	es.items[item] = now.Add(es.ttl)
	return true
}

// Contains verifica se um item está no conjunto
func (es *ExpiringSet[K]) Contains(item K) bool {
	es.mutex.RLock()
	defer es.mutex.RUnlock()

	expiry, exists := es.items[item]
	return exists && expiry.After(es.clock.Now())
}

// Stop interrompe a goroutine de limpeza. Pode ser chamado mais de uma vez.
func (es *ExpiringSet[K]) Stop() {
	es.stopOnce.Do(func() { close(es.stopChan) })
	es.wg.Wait()
}

// Cleanup remove itens expirados do conjunto e retorna quantos foram removidos
func (es *ExpiringSet[K]) Cleanup() int {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	removed := 0
	now := es.clock.Now()
	for item, expiry := range es.items {
		if !expiry.After(now) {
			delete(es.items, item)
			removed++
		}
	}
	return removed
}
