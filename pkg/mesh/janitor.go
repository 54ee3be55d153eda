package mesh

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// RouteJanitor executa RoutingTable.Cleanup periodicamente
type RouteJanitor struct {
	table    *RoutingTable
	logger   logrus.FieldLogger
	stopChan chan struct{}
	wg       sync.WaitGroup
	mutex    sync.Mutex
	running  bool
}

// NewRouteJanitor cria o limpador para a tabela. logger nil usa o logger padrão.
func NewRouteJanitor(table *RoutingTable, logger logrus.FieldLogger) *RouteJanitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RouteJanitor{
		table:  table,
		logger: logger.WithField("component", "route_janitor"),
	}
}

// Start inicia a limpeza. Não faz nada se CleanupInterval <= 0 ou se já estiver rodando.
func (j *RouteJanitor) Start() {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	interval := j.table.config.CleanupInterval
	if j.running || interval <= 0 {
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})

	ticker := j.table.clock.Ticker(interval)
	stop := j.stopChan
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := j.table.Cleanup(); removed > 0 {
					j.logger.WithField("removed", removed).Debug("Rotas obsoletas removidas")
				}
			case <-stop:
				return
			}
		}
	}()
}

// Stop interrompe a limpeza e espera a goroutine terminar
func (j *RouteJanitor) Stop() {
	j.mutex.Lock()
	if !j.running {
		j.mutex.Unlock()
		return
	}
	j.running = false
	close(j.stopChan)
	j.mutex.Unlock()

	j.wg.Wait()
}
