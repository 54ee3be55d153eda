package mesh

import "time"

// RoutingConfig contém configurações para a tabela de roteamento
type RoutingConfig struct {
	MaxAge          time.Duration // Idade máxima de uma rota antes de ser considerada obsoleta
	CleanupInterval time.Duration // Intervalo do RouteJanitor (<= 0 desativa a limpeza automática)
	CheckAgeOnRead  bool          // NextHop ignora rotas mais velhas que MaxAge
}

// DefaultRoutingConfig retorna a configuração padrão de roteamento
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		MaxAge:          5 * time.Minute,
		CleanupInterval: time.Minute,
		CheckAgeOnRead:  true,
	}
}

func (c RoutingConfig) withDefaults() RoutingConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultRoutingConfig().MaxAge
	}
	return c
}
