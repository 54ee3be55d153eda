package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permissionlesstech/disastermesh/internal/crypto"
	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/internal/service"
	"github.com/permissionlesstech/disastermesh/internal/store"
	"github.com/permissionlesstech/disastermesh/internal/transport"
	"github.com/permissionlesstech/disastermesh/pkg/mesh"
)

type testNode struct {
	*Node
	peer      protocol.PeerID
	tr        *transport.MemoryTransport
	identity  *crypto.Identity
	mu        sync.Mutex
	delivered []*protocol.Envelope
	controls  []protocol.ControlPacket
}

func (tn *testNode) messages() []*protocol.Envelope {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return append([]*protocol.Envelope(nil), tn.delivered...)
}

func newTestNode(t *testing.T, network *transport.MemoryNetwork, verify bool) *testNode {
	t.Helper()
	identity, err := crypto.NewIdentity()
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	var opts []service.Option
	opts = append(opts, service.WithLogger(logger))
	if verify {
		opts = append(opts, service.WithVerifier(crypto.NewEd25519Verifier(nil)))
	}
	manager := service.NewMessageManager(store.NewMessageStore(store.NewMemoryKV(), nil, logger), service.Config{SeenCacheCleanup: -1}, opts...)
	t.Cleanup(manager.Close)

	tn := &testNode{peer: protocol.RandomPeerID(), identity: identity}
	tn.tr = network.NewTransport(tn.peer)
	t.Cleanup(func() { tn.tr.Close() })

	n, err := New(Config{
		Identity:  identity,
		Transport: tn.tr,
		Manager:   manager,
		Routes:    mesh.NewRoutingTable(mesh.DefaultRoutingConfig()),
		Logger:    logger,
		OnMessage: func(env *protocol.Envelope) {
			tn.mu.Lock()
			tn.delivered = append(tn.delivered, env)
			tn.mu.Unlock()
		},
		OnControl: func(_ protocol.PeerID, _ *protocol.Envelope, packet protocol.ControlPacket) {
			tn.mu.Lock()
			tn.controls = append(tn.controls, packet)
			tn.mu.Unlock()
		},
	})
	require.NoError(t, err)
	tn.Node = n
	return tn
}

// drain descarta eventos pendentes (ex.: PeerConnected)
func drain(tr transport.Transport) {
	for {
		select {
		case <-tr.Subscribe():
		default:
			return
		}
	}
}

func dataEvents(tr transport.Transport) []transport.Event {
	var out []transport.Event
	for {
		select {
		case ev := <-tr.Subscribe():
			if ev.Kind == transport.DataReceived {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func signedEnvelope(t *testing.T, from *crypto.Identity, to *protocol.UserID, content protocol.Content, at time.Time) *protocol.Envelope {
	t.Helper()
	env := protocol.NewEnvelope(from.UserID(), to, content, at)
	require.NoError(t, from.Sign(env))
	return env
}

func encode(t *testing.T, env *protocol.Envelope) []byte {
	t.Helper()
	data, err := protocol.BinaryCodec{}.EncodeEnvelope(env)
	require.NoError(t, err)
	return data
}

// line cria a topologia a - b - c
func line(t *testing.T, verify bool) (a, b, c *testNode) {
	network := transport.NewMemoryNetwork()
	a, b, c = newTestNode(t, network, verify), newTestNode(t, network, verify), newTestNode(t, network, verify)
	require.NoError(t, network.Connect(a.peer, b.peer))
	require.NoError(t, network.Connect(b.peer, c.peer))
	drain(a.tr)
	drain(b.tr)
	drain(c.tr)
	return a, b, c
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestReceivePipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("Entrega local sem repasse", func(t *testing.T) {
		a, b, c := line(t, true)
		bUser := b.User()
		env := signedEnvelope(t, a.identity, &bUser, protocol.TextContent{Text: "oi b"}, time.Now())

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: encode(t, env)})

		require.Len(t, b.messages(), 1)
		assert.Equal(t, env.ID, b.messages()[0].ID)
		assert.Empty(t, dataEvents(c.tr), "mensagem local não deve ser repassada")
		assert.Equal(t, uint64(1), b.Stats().Delivered)
	})

	t.Run("Duplicada é descartada", func(t *testing.T) {
		a, b, _ := line(t, true)
		bUser := b.User()
		data := encode(t, signedEnvelope(t, a.identity, &bUser, protocol.TextContent{Text: "oi"}, time.Now()))

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: data})
		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: data})

		assert.Len(t, b.messages(), 1)
		assert.Equal(t, uint64(1), b.Stats().Duplicates)
	})

	t.Run("Bytes malformados", func(t *testing.T) {
		a, b, _ := line(t, true)
		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: []byte{1, 2, 3}})
		assert.Equal(t, uint64(1), b.Stats().Undecodable)
		assert.Empty(t, b.messages())
		assert.Zero(t, b.Routes().Len(), "falha de decodificação não afeta a tabela")
	})

	t.Run("Expirada", func(t *testing.T) {
		a, b, _ := line(t, true)
		env := signedEnvelope(t, a.identity, nil, protocol.TextContent{Text: "velha"}, time.Now().Add(-2*time.Hour))

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: encode(t, env)})
		assert.Equal(t, uint64(1), b.Stats().Expired)
		assert.Empty(t, b.messages())
		assert.Zero(t, b.Routes().Len())
	})

	t.Run("Forjada", func(t *testing.T) {
		a, b, _ := line(t, true)
		env := signedEnvelope(t, a.identity, nil, protocol.TextContent{Text: "original"}, time.Now())
		env.Content = protocol.TextContent{Text: "adulterada"}

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: encode(t, env)})
		assert.Equal(t, uint64(1), b.Stats().Forged)
		assert.Empty(t, b.messages())
	})

	t.Run("Repasse com aprendizado de rota", func(t *testing.T) {
		a, b, c := line(t, true)
		cUser := c.User()
		env := signedEnvelope(t, a.identity, &cUser, protocol.TextContent{Text: "para c"}, time.Now())

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: encode(t, env)})

		assert.Empty(t, b.messages(), "b não é destinatário")
		events := dataEvents(c.tr)
		require.Len(t, events, 1)
		assert.Equal(t, b.peer, events[0].Peer)

		relayed, err := protocol.BinaryCodec{}.DecodeEnvelope(events[0].Data)
		require.NoError(t, err)
		assert.Equal(t, uint8(1), relayed.HopCount)
		assert.Equal(t, env.ID, relayed.ID)
		assert.Empty(t, dataEvents(a.tr), "não volta para quem enviou")

		hop, ok := b.Routes().NextHop(a.User())
		require.True(t, ok, "rota reversa deveria ser aprendida")
		assert.Equal(t, a.peer, hop)
		route, _ := b.Routes().Route(a.User())
		assert.Equal(t, uint8(1), route.HopCount)
	})

	t.Run("Broadcast é entregue e repassado", func(t *testing.T) {
		a, b, c := line(t, true)
		env := signedEnvelope(t, a.identity, nil, protocol.TextContent{Text: "todos"}, time.Now())

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: encode(t, env)})
		assert.Len(t, b.messages(), 1)
		assert.Len(t, dataEvents(c.tr), 1)
		assert.Equal(t, uint64(1), b.Stats().Forwarded)
	})

	t.Run("Limite de saltos", func(t *testing.T) {
		a, b, c := line(t, true)
		env := signedEnvelope(t, a.identity, nil, protocol.TextContent{Text: "longe"}, time.Now())
		env.HopCount = DefaultMaxHops

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: encode(t, env)})
		assert.Len(t, b.messages(), 1)
		assert.Empty(t, dataEvents(c.tr))
	})

	t.Run("Pacote de controle", func(t *testing.T) {
		a, b, _ := line(t, true)
		bUser := b.User()
		packet := protocol.RouteRequest{Origin: a.User(), Destination: protocol.RandomUserID(), RequestID: 9, HopCount: 0}
		env := signedEnvelope(t, a.identity, &bUser, protocol.RoutingContent{Packet: packet}, time.Now())

		b.HandleEvent(ctx, transport.Event{Kind: transport.DataReceived, Peer: a.peer, Data: encode(t, env)})
		assert.Empty(t, b.messages())
		b.mu.Lock()
		defer b.mu.Unlock()
		require.Len(t, b.controls, 1)
		assert.True(t, protocol.EqualControl(packet, b.controls[0]))
	})

	t.Run("Vizinho desconectado remove rotas", func(t *testing.T) {
		a, b, _ := line(t, true)
		b.Routes().UpdateRoute(protocol.RandomUserID(), a.peer, 2, 0.9)
		b.Routes().UpdateRoute(protocol.RandomUserID(), protocol.RandomPeerID(), 2, 0.9)

		b.HandleEvent(ctx, transport.Event{Kind: transport.PeerDisconnected, Peer: a.peer})
		assert.Equal(t, 1, b.Routes().Len())
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("Sem rota inunda vizinhos", func(t *testing.T) {
		_, b, c := line(t, true)
		env, err := b.Send(ctx, nil, protocol.TextContent{Text: "alerta"})
		require.NoError(t, err)
		assert.NotEmpty(t, env.Signature)
		assert.Len(t, dataEvents(c.tr), 1)

		stored, err := b.cfg.Manager.Store().LoadMessage(env.ID)
		require.NoError(t, err)
		assert.Equal(t, env.Signature, stored.Signature, "cópia persistida inclui a assinatura")
	})

	t.Run("Com rota usa o próximo salto", func(t *testing.T) {
		a, b, c := line(t, true)
		target := protocol.RandomUserID()
		b.Routes().UpdateRoute(target, c.peer, 3, 0.5)

		_, err := b.Send(ctx, &target, protocol.TextContent{Text: "direcionada"})
		require.NoError(t, err)
		assert.Len(t, dataEvents(c.tr), 1)
		assert.Empty(t, dataEvents(a.tr))
	})

	t.Run("Texto inválido não sai do nó", func(t *testing.T) {
		a, b, c := line(t, true)
		env, err := b.Send(ctx, nil, protocol.TextContent{Text: "socorro \xff"})
		assert.Nil(t, env)
		assert.ErrorIs(t, err, protocol.ErrInvalidContent)
		assert.Empty(t, dataEvents(a.tr))
		assert.Empty(t, dataEvents(c.tr))

		count, err := b.cfg.Manager.Store().CountMessages()
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("Sem vizinhos", func(t *testing.T) {
		lonely := newTestNode(t, transport.NewMemoryNetwork(), false)
		env, err := lonely.Send(ctx, nil, protocol.TextContent{Text: "alguém?"})
		assert.ErrorIs(t, err, ErrNoPeers)
		require.NotNil(t, env, "mensagem é criada mesmo sem vizinhos")
	})
}

func TestRunEndToEnd(t *testing.T) {
	a, b, c := line(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, n := range []*testNode{a, b, c} {
		wg.Add(1)
		go func(n *testNode) {
			defer wg.Done()
			n.Run(ctx)
		}(n)
	}

	cUser := c.User()
	sent, err := a.Send(ctx, &cUser, protocol.TextContent{Text: "socorro"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(c.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := c.messages()[0]
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, uint8(1), got.HopCount)

	// c aprendeu a rota de volta até a via b
	hop, ok := c.Routes().NextHop(a.User())
	require.True(t, ok)
	assert.Equal(t, b.peer, hop)

	aUser := a.User()
	_, err = c.Send(ctx, &aUser, protocol.TextContent{Text: "a caminho"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(a.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, b.messages(), "b só repassa")
	assert.Len(t, c.messages(), 1, "sem entregas duplicadas")

	cancel()
	wg.Wait()
}

func TestRunStopsWhenTransportCloses(t *testing.T) {
	n := newTestNode(t, transport.NewMemoryNetwork(), false)
	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background()) }()

	require.NoError(t, n.tr.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run não terminou")
	}
}

func TestRunExpiresRoutes(t *testing.T) {
	n := newTestNode(t, transport.NewMemoryNetwork(), false)
	mock := clock.NewMock()
	n.cfg.Routes = mesh.NewRoutingTableWithClock(mesh.RoutingConfig{MaxAge: time.Minute, CleanupInterval: 30 * time.Second}, mock)
	n.Routes().UpdateRoute(protocol.RandomUserID(), protocol.RandomPeerID(), 1, 0.5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// Ticks podem ser descartados enquanto o limpador ainda não começou
	deadline := time.Now().Add(2 * time.Second)
	for n.Routes().Len() != 0 && time.Now().Before(deadline) {
		mock.Add(30 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Zero(t, n.Routes().Len(), "rota obsoleta deveria expirar durante Run")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run não terminou após cancelamento")
	}
}
