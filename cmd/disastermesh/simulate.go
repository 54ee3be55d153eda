package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/permissionlesstech/disastermesh/internal/config"
	"github.com/permissionlesstech/disastermesh/internal/crypto"
	"github.com/permissionlesstech/disastermesh/internal/node"
	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/internal/service"
	"github.com/permissionlesstech/disastermesh/internal/store"
	"github.com/permissionlesstech/disastermesh/internal/transport"
	"github.com/permissionlesstech/disastermesh/pkg/mesh"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simula uma malha em linha na memória e envia uma mensagem de ponta a ponta",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().Int("nodes", 4, "número de nós na linha")
	simulateCmd.Flags().String("text", "Precisamos de água no abrigo 3", "texto enviado do primeiro ao último nó")
	simulateCmd.Flags().Duration("timeout", 5*time.Second, "tempo máximo de espera pela entrega")
}

type simNode struct {
	node      *node.Node
	transport *transport.MemoryTransport
	manager   *service.MessageManager
	store     *store.MessageStore
}

func (s *simNode) close() {
	s.transport.Close()
	s.manager.Close()
	s.store.Close()
}

func newSimNode(cfg *config.Config, network *transport.MemoryNetwork, codec protocol.Codec, logger *logrus.Logger, delivered chan<- *protocol.Envelope) (*simNode, error) {
	identity, err := crypto.NewIdentity()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.NodePolicy()
	if err != nil {
		return nil, err
	}
	ms := store.NewMessageStore(store.NewMemoryKV(), codec, logger)
	if err := ms.SetCompression(cfg.Storage.Compression); err != nil {
		return nil, err
	}
	manager := newManager(cfg, ms, codec, logger, service.WithVerifier(crypto.NewEd25519Verifier(nil)))
	routes := mesh.NewRoutingTable(cfg.RoutingTableConfig())
	tr := network.NewTransport(protocol.RandomPeerID())

	n, err := node.New(node.Config{
		Identity:    identity,
		Transport:   tr,
		Codec:       codec,
		Manager:     manager,
		Routes:      routes,
		Maintenance: service.NewMaintenanceService(cfg.MaintenanceServiceConfig(), routes, ms, clock.New(), logger),
		MaxHops:     uint8(cfg.Messages.MaxHops),
		Logger:      logger,
		Policy:      policy,
		Breaker:     cfg.NodeBreakerConfig(),
		RateLimit:   cfg.NodeRateLimitConfig(),

		ReassemblyTimeout: cfg.Link.ReassemblyTimeout,
		MaxPendingFrames:  cfg.Link.MaxPendingFrames,

		OnMessage: func(env *protocol.Envelope) {
			select {
			case delivered <- env:
			default:
			}
		},
	})
	if err != nil {
		manager.Close()
		ms.Close()
		return nil, err
	}
	return &simNode{node: n, transport: tr, manager: manager, store: ms}, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	count, _ := cmd.Flags().GetInt("nodes")
	text, _ := cmd.Flags().GetString("text")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if count < 2 {
		return errors.New("simulate: são necessários pelo menos 2 nós")
	}

	codec, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		return err
	}

	network := transport.NewMemoryNetwork()
	delivered := make(chan *protocol.Envelope, 1)
	nodes := make([]*simNode, 0, count)
	defer func() {
		for _, sn := range nodes {
			sn.close()
		}
	}()

	for i := 0; i < count; i++ {
		// só o último nó reporta entregas
		sink := make(chan *protocol.Envelope, 1)
		if i == count-1 {
			sink = delivered
		}
		sn, err := newSimNode(cfg, network, codec, logger, sink)
		if err != nil {
			return err
		}
		nodes = append(nodes, sn)
		if i > 0 {
			if err := network.Connect(nodes[i-1].transport.ID(), sn.transport.ID()); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	g, gctx := errgroup.WithContext(ctx)
	for _, sn := range nodes {
		sn := sn
		g.Go(func() error {
			err := sn.node.Run(gctx)
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		})
	}

	out := cmd.OutOrStdout()
	first, last := nodes[0], nodes[count-1]
	recipient := last.node.User()
	started := time.Now()
	env, sendErr := first.node.Send(gctx, &recipient, protocol.TextContent{Text: text})

	var result error
	switch {
	case sendErr != nil:
		result = sendErr
	default:
		select {
		case got := <-delivered:
			fmt.Fprintf(out, "Entregue em %s com hop_count=%d (%s)\n",
				time.Since(started).Round(time.Microsecond), got.HopCount, got.ID)
			if tc, ok := got.Content.(protocol.TextContent); ok {
				fmt.Fprintf(out, "  texto: %q\n", tc.Text)
			}
		case <-time.After(timeout):
			result = fmt.Errorf("simulate: mensagem %s não entregue em %s", env.ID, timeout)
		}
	}

	cancel()
	if err := g.Wait(); err != nil && result == nil {
		result = err
	}

	for i, sn := range nodes {
		st := sn.node.Stats()
		fmt.Fprintf(out, "  nó %d %s: recebidas=%d entregues=%d repassadas=%d duplicadas=%d rotas=%d\n",
			i, sn.node.User().Short(), st.Received, st.Delivered, st.Forwarded, st.Duplicates, sn.node.Routes().Len())
	}
	return result
}
