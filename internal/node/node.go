// Package node liga transporte, codec, admissão de mensagens e tabela de rotas.
//
// Caminho de recebimento:
//   - descarta quadros de vizinhos acima do limite de taxa
//   - junta fragmentos quando o envelope não coube no MTU do enlace
//   - decodifica os bytes (descarta em erro de decodificação)
//   - ignora remetentes bloqueados
//   - verifica assinatura e validade (descarta forjadas e expiradas)
//   - aprende a rota reversa até o remetente
//   - admite o id uma única vez (descarta duplicadas)
//   - entrega se for para o usuário local ou broadcast
//   - repassa com hop_count+1 se não for só local, a política permitir e ainda houver saltos
package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/permissionlesstech/disastermesh/internal/crypto"
	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/internal/service"
	"github.com/permissionlesstech/disastermesh/internal/transport"
	"github.com/permissionlesstech/disastermesh/pkg/mesh"
)

// DefaultMaxHops limita quantas vezes uma mensagem é repassada
const DefaultMaxHops = 7

// ErrNoPeers indica que não havia vizinhos para transmitir
var ErrNoPeers = errors.New("nenhum vizinho conectado")

// Config configura um Node
type Config struct {
	User        protocol.UserID
	Identity    *crypto.Identity // se definido, mensagens enviadas são assinadas
	Transport   transport.Transport
	Codec       protocol.Codec
	Manager     *service.MessageManager
	Routes      *mesh.RoutingTable
	Maintenance *service.MaintenanceService // opcional, executado por Run
	MaxHops     uint8
	Logger      logrus.FieldLogger
	Clock       clock.Clock
	Policy      Policy
	Breaker     BreakerConfig
	RateLimit   RateLimitConfig

	// ReassemblyTimeout descarta fragmentos incompletos após esse tempo
	ReassemblyTimeout time.Duration
	// MaxPendingFrames limita quantos quadros incompletos ficam em memória
	MaxPendingFrames  int

	// OnMessage recebe mensagens de texto e arquivo entregues localmente
	OnMessage func(env *protocol.Envelope)

	// OnControl recebe pacotes de controle de roteamento sem interpretá-los
	OnControl func(from protocol.PeerID, env *protocol.Envelope, packet protocol.ControlPacket)
}

// Stats conta o destino das mensagens recebidas
type Stats struct {
	Received     uint64
	Delivered    uint64
	Forwarded    uint64
	Duplicates   uint64
	Expired      uint64
	Forged       uint64
	Undecodable  uint64
	SendFailures uint64
	Reassembled  uint64
	Blocked      uint64
	RateLimited  uint64
}

type counters struct {
	received, delivered, forwarded, duplicates atomic.Uint64
	expired, forged, undecodable, sendFailures atomic.Uint64
	reassembled, blocked, rateLimited          atomic.Uint64
}

// Node é o motor do protocolo de um participante da malha
type Node struct {
	cfg       Config
	logger    logrus.FieldLogger
	stats     counters
	fragments *reassembler
	blocked   *blocklist
	breakers  *peerBreakers
	limiter   *peerLimiter
}

// New cria um Node. Transport, Manager e Routes são obrigatórios.
func New(cfg Config) (*Node, error) {
	if cfg.Transport == nil || cfg.Manager == nil || cfg.Routes == nil {
		return nil, errors.New("node: Transport, Manager e Routes são obrigatórios")
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.BinaryCodec{}
	}
	if cfg.MaxHops == 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Identity != nil {
		cfg.User = cfg.Identity.UserID()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("user", cfg.User.Short())
	limiter, err := newPeerLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	return &Node{
		cfg:       cfg,
		logger:    logger,
		fragments: newReassembler(cfg.ReassemblyTimeout, cfg.MaxPendingFrames, cfg.Clock),
		blocked:   newBlocklist(cfg.Policy.Blocked),
		breakers:  newPeerBreakers(cfg.Breaker, logger),
		limiter:   limiter,
	}, nil
}

// User retorna o usuário local
func (n *Node) User() protocol.UserID {
	return n.cfg.User
}

// Routes retorna a tabela de rotas do nó
func (n *Node) Routes() *mesh.RoutingTable {
	return n.cfg.Routes
}

// Stats retorna uma cópia dos contadores
func (n *Node) Stats() Stats {
	return Stats{
		Received:     n.stats.received.Load(),
		Delivered:    n.stats.delivered.Load(),
		Forwarded:    n.stats.forwarded.Load(),
		Duplicates:   n.stats.duplicates.Load(),
		Expired:      n.stats.expired.Load(),
		Forged:       n.stats.forged.Load(),
		Undecodable:  n.stats.undecodable.Load(),
		SendFailures: n.stats.sendFailures.Load(),
		Reassembled:  n.stats.reassembled.Load(),
		Blocked:      n.stats.blocked.Load(),
		RateLimited:  n.stats.rateLimited.Load(),
	}
}

// Send cria, assina, persiste e transmite uma mensagem.
// O envelope retornado já está persistido mesmo quando a transmissão falha.
func (n *Node) Send(ctx context.Context, recipient *protocol.UserID, content protocol.Content) (*protocol.Envelope, error) {
	var signer service.Signer
	if n.cfg.Identity != nil {
		signer = n.cfg.Identity
	}
	env, err := n.cfg.Manager.CreateSignedMessage(ctx, signer, n.cfg.User, recipient, content)
	if err != nil {
		return nil, err
	}
	return env, n.transmit(ctx, env, nil)
}

// transmit envia para o próximo salto conhecido ou inunda os vizinhos,
// exceto o peer de onde a mensagem veio
func (n *Node) transmit(ctx context.Context, env *protocol.Envelope, from *protocol.PeerID) error {
	data, err := n.cfg.Codec.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("erro ao codificar mensagem %s: %w", env.ID, err)
	}
	frames, err := protocol.SplitFrame(env.ID, data, n.cfg.Transport.MTU())
	if err != nil {
		return fmt.Errorf("erro ao fragmentar mensagem %s: %w", env.ID, err)
	}

	if env.Recipient != nil {
		if hop, ok := n.cfg.Routes.NextHop(*env.Recipient); ok && (from == nil || hop != *from) {
			err := n.sendFrames(ctx, hop, frames)
			if err == nil {
				return nil
			}
			n.stats.sendFailures.Add(1)
			n.logger.WithError(err).WithField("next_hop", hop.Short()).Warn("Falha no próximo salto, inundando vizinhos")
		}
	}

	sent := 0
	var lastErr error
	for _, peer := range n.cfg.Transport.Peers() {
		if from != nil && peer == *from {
			continue
		}
		if err := n.sendFrames(ctx, peer, frames); err != nil {
			n.stats.sendFailures.Add(1)
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		if lastErr != nil {
			return lastErr
		}
		return ErrNoPeers
	}
	return nil
}

func (n *Node) sendFrames(ctx context.Context, peer protocol.PeerID, frames [][]byte) error {
	return n.breakers.do(peer, func() error {
		for _, frame := range frames {
			if err := n.cfg.Transport.Send(ctx, peer, frame); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run processa eventos do transporte e a manutenção até ctx ser cancelado.
// Retorna transport.ErrClosed se o transporte fechar antes.
func (n *Node) Run(ctx context.Context) error {
	// Rotas expiram a cada routing CleanupInterval enquanto o nó roda
	janitor := mesh.NewRouteJanitor(n.cfg.Routes, n.logger)
	janitor.Start()
	defer janitor.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.eventLoop(gctx)
	})
	if n.cfg.Maintenance != nil {
		g.Go(func() error {
			return n.cfg.Maintenance.Run(gctx)
		})
	}

	return g.Wait()
}

func (n *Node) eventLoop(ctx context.Context) error {
	events := n.cfg.Transport.Subscribe()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return transport.ErrClosed
			}
			n.HandleEvent(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// HandleEvent processa um único evento do transporte
func (n *Node) HandleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.PeerConnected:
		n.logger.WithField("peer", ev.Peer.Short()).Debug("Vizinho conectado")
	case transport.PeerDisconnected:
		removed := n.cfg.Routes.RemoveNextHop(ev.Peer)
		n.breakers.forget(ev.Peer)
		n.logger.WithFields(logrus.Fields{
			"peer":           ev.Peer.Short(),
			"routes_removed": removed,
		}).Info("Vizinho desconectado")
	case transport.DataReceived:
		n.receiveFrame(ctx, ev.Peer, ev.Data)
	case transport.Error:
		n.logger.WithError(ev.Err).Warn("Erro de transporte")
	}
}

// receiveFrame junta fragmentos antes de entregar o quadro ao caminho de recebimento
func (n *Node) receiveFrame(ctx context.Context, from protocol.PeerID, data []byte) {
	if !n.limiter.allow(from) {
		n.stats.rateLimited.Add(1)
		n.logger.WithField("peer", from.Short()).Debug("Quadro descartado por limite de taxa")
		return
	}
	if !protocol.IsFragment(data) {
		n.receive(ctx, from, data)
		return
	}

	fragment, err := protocol.DecodeFragment(data)
	if err != nil {
		n.stats.undecodable.Add(1)
		n.logger.WithError(err).WithField("peer", from.Short()).Debug("Fragmento descartado")
		return
	}
	frame, complete := n.fragments.add(from, fragment)
	if !complete {
		return
	}
	n.stats.reassembled.Add(1)
	n.receive(ctx, from, frame)
}

func (n *Node) receive(ctx context.Context, from protocol.PeerID, data []byte) {
	n.stats.received.Add(1)
	log := n.logger.WithField("peer", from.Short())

	env, err := n.cfg.Codec.DecodeEnvelope(data)
	if err != nil {
		n.stats.undecodable.Add(1)
		log.WithError(err).Debug("Pacote descartado: não decodifica")
		return
	}
	log = log.WithField("message_id", env.ID.String())

	if n.blocked.contains(env.Sender) {
		n.stats.blocked.Add(1)
		return
	}

	if err := n.cfg.Manager.CheckMessage(env); err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			n.stats.forged.Add(1)
			log.WithError(err).Warn("Mensagem descartada: assinatura inválida")
		} else {
			n.stats.expired.Add(1)
			log.WithError(err).Debug("Mensagem descartada: expirada")
		}
		return
	}

	// Rota reversa: o remetente está a HopCount+1 saltos via from
	if env.Sender != n.cfg.User && env.HopCount < ^uint8(0) {
		n.cfg.Routes.UpdateRoute(env.Sender, from, env.HopCount+1, n.cfg.Transport.LinkQuality())
	}

	admitted, err := n.cfg.Manager.AdmitMessage(ctx, env.ID)
	if err != nil {
		log.WithError(err).Warn("Erro ao registrar mensagem como vista")
	}
	if !admitted {
		n.stats.duplicates.Add(1)
		return
	}

	local := env.IsFor(n.cfg.User)
	if local || env.IsBroadcast() {
		n.deliver(from, env)
	}

	if (local && !env.IsBroadcast()) || !n.shouldRelay(env) {
		return
	}
	if env.HopCount >= n.cfg.MaxHops {
		log.Debug("Limite de saltos atingido, sem repasse")
		return
	}

	relay := env.Clone()
	relay.HopCount++
	if err := n.transmit(ctx, relay, &from); err != nil {
		if !errors.Is(err, ErrNoPeers) {
			log.WithError(err).Warn("Falha ao repassar mensagem")
		}
		return
	}
	n.stats.forwarded.Add(1)
}

func (n *Node) deliver(from protocol.PeerID, env *protocol.Envelope) {
	n.stats.delivered.Add(1)
	if routing, ok := env.Content.(protocol.RoutingContent); ok {
		if n.cfg.OnControl != nil {
			n.cfg.OnControl(from, env, routing.Packet)
		}
		return
	}
	if n.cfg.OnMessage != nil {
		n.cfg.OnMessage(env)
	}
}
