package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/disastermesh/internal/store"
	"github.com/permissionlesstech/disastermesh/pkg/mesh"
)

// MaintenanceConfig define as configurações do serviço de manutenção
type MaintenanceConfig struct {
	// Intervalo entre varreduras
	Interval time.Duration

	// Remover rotas obsoletas da tabela
	CleanupRoutes bool

	// Remover mensagens expiradas do armazenamento
	PurgeMessages bool
}

// DefaultMaintenanceConfig retorna uma configuração padrão para o serviço de manutenção
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval:      time.Minute,
		CleanupRoutes: true,
		PurgeMessages: true,
	}
}

// SweepResult resume uma varredura
type SweepResult struct {
	RoutesRemoved  int
	MessagesPurged int
	Err            error
}

// MaintenanceService varre periodicamente a tabela de rotas e o armazenamento
type MaintenanceService struct {
	config MaintenanceConfig
	table  *mesh.RoutingTable
	store  *store.MessageStore
	clock  clock.Clock
	logger logrus.FieldLogger

	// Canal para sinalizar parada
	stopChan chan struct{}
	stopOnce sync.Once

	// WaitGroup para esperar goroutines
	wg sync.WaitGroup
}

// NewMaintenanceService cria o serviço. table ou ms podem ser nil para pular aquela varredura.
func NewMaintenanceService(config MaintenanceConfig, table *mesh.RoutingTable, ms *store.MessageStore, clk clock.Clock, logger logrus.FieldLogger) *MaintenanceService {
	if config.Interval <= 0 {
		config.Interval = DefaultMaintenanceConfig().Interval
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MaintenanceService{
		config:   config,
		table:    table,
		store:    ms,
		clock:    clk,
		logger:   logger.WithField("component", "maintenance"),
		stopChan: make(chan struct{}),
	}
}

// Start inicia o serviço em background
func (s *MaintenanceService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.stopChan:
				cancel()
			case <-ctx.Done():
			}
		}()
		s.Run(ctx)
	}()
}

// Stop interrompe o serviço iniciado com Start
func (s *MaintenanceService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// Run executa varreduras até o contexto ser cancelado. Interval <= 0 desativa as varreduras.
func (s *MaintenanceService) Run(ctx context.Context) error {
	if s.config.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := s.clock.Ticker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep executa uma varredura imediatamente.
// Falhas de armazenamento são registradas e não interrompem o serviço.
func (s *MaintenanceService) Sweep() SweepResult {
	var result SweepResult

	if s.config.CleanupRoutes && s.table != nil {
		result.RoutesRemoved = s.table.Cleanup()
	}

	if s.config.PurgeMessages && s.store != nil {
		result.MessagesPurged, result.Err = s.store.PurgeExpired(s.clock.Now())
		if result.Err != nil {
			s.logger.WithError(result.Err).Warn("Erro ao remover mensagens expiradas")
		}
	}

	if result.RoutesRemoved > 0 || result.MessagesPurged > 0 {
		s.logger.WithFields(logrus.Fields{
			"routes_removed":  result.RoutesRemoved,
			"messages_purged": result.MessagesPurged,
		}).Info("Manutenção concluída")
	}
	return result
}
