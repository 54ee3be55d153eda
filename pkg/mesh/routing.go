package mesh

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// RouteInfo descreve o melhor caminho conhecido para um destino
type RouteInfo struct {
	Destination protocol.UserID
	NextHop     protocol.PeerID
	HopCount    uint8
	LinkQuality float32
	LastUpdated time.Time
}

// RoutingTable mantém no máximo uma rota por destino.
// Uma rota só é substituída por outra estritamente melhor: menos saltos ou,
// com o mesmo número de saltos, qualidade de enlace maior.
type RoutingTable struct {
	routes map[protocol.UserID]RouteInfo
	mutex  sync.RWMutex
	config RoutingConfig
	clock  clock.Clock
}

// NewRoutingTable cria uma tabela de roteamento vazia
func NewRoutingTable(config RoutingConfig) *RoutingTable {
	return NewRoutingTableWithClock(config, clock.New())
}

// NewRoutingTableWithClock cria a tabela usando um relógio específico (testes)
func NewRoutingTableWithClock(config RoutingConfig, clk clock.Clock) *RoutingTable {
	return &RoutingTable{
		routes: make(map[protocol.UserID]RouteInfo),
		config: config.withDefaults(),
		clock:  clk,
	}
}

// Config retorna a configuração em uso
func (rt *RoutingTable) Config() RoutingConfig {
	return rt.config
}

// UpdateRoute oferece um candidato para o destino.
// Retorna true se o candidato foi inserido ou substituiu a rota existente.
func (rt *RoutingTable) UpdateRoute(destination protocol.UserID, nextHop protocol.PeerID, hopCount uint8, linkQuality float32) bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	if current, exists := rt.routes[destination]; exists && !isBetter(hopCount, linkQuality, current) {
		return false
	}

	rt.routes[destination] = RouteInfo{
		Destination: destination,
		NextHop:     nextHop,
		HopCount:    hopCount,
		LinkQuality: linkQuality,
		LastUpdated: rt.clock.Now(),
	}
	return true
}

// isBetter aplica a regra de melhoria estrita.
// Candidatos iguais ou piores são descartados.
func isBetter(hopCount uint8, linkQuality float32, current RouteInfo) bool {
	if hopCount != current.HopCount {
		return hopCount < current.HopCount
	}
	return linkQuality > current.LinkQuality
}

// NextHop retorna o próximo salto para o destino, se houver rota
func (rt *RoutingTable) NextHop(destination protocol.UserID) (protocol.PeerID, bool) {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	route, exists := rt.routes[destination]
	if !exists {
		return protocol.PeerID{}, false
	}
	if rt.config.CheckAgeOnRead && rt.stale(route, rt.clock.Now()) {
		return protocol.PeerID{}, false
	}
	return route.NextHop, true
}

// Route retorna uma cópia da rota para o destino
func (rt *RoutingTable) Route(destination protocol.UserID) (RouteInfo, bool) {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	route, exists := rt.routes[destination]
	return route, exists
}

func (rt *RoutingTable) stale(route RouteInfo, now time.Time) bool {
	return now.Sub(route.LastUpdated) > rt.config.MaxAge
}

// Cleanup remove rotas com idade acima de MaxAge e retorna quantas foram removidas
func (rt *RoutingTable) Cleanup() int {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	removed := 0
	now := rt.clock.Now()
	for destination, route := range rt.routes {
		if rt.stale(route, now) {
			delete(rt.routes, destination)
			removed++
		}
	}
	return removed
}

// Dump retorna uma cópia consistente de todas as rotas
func (rt *RoutingTable) Dump() []RouteInfo {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	routes := make([]RouteInfo, 0, len(rt.routes))
	for _, route := range rt.routes {
		routes = append(routes, route)
	}
	return routes
}

// RemoveNextHop remove todas as rotas que passam pelo peer informado
func (rt *RoutingTable) RemoveNextHop(peer protocol.PeerID) int {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	removed := 0
	for destination, route := range rt.routes {
		if route.NextHop == peer {
			delete(rt.routes, destination)
			removed++
		}
	}
	return removed
}

// DirectDestinations retorna os destinos alcançáveis em no máximo um salto
func (rt *RoutingTable) DirectDestinations() []protocol.UserID {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	var destinations []protocol.UserID
	for destination, route := range rt.routes {
		if route.HopCount <= 1 {
			destinations = append(destinations, destination)
		}
	}
	return destinations
}

// Len retorna o número de rotas na tabela
func (rt *RoutingTable) Len() int {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()
	return len(rt.routes)
}

// Clear limpa a tabela
func (rt *RoutingTable) Clear() {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	rt.routes = make(map[protocol.UserID]RouteInfo)
}
