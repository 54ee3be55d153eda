// Package transport define a interface de enlace consumida pelo nó.
// Transportes físicos (BLE, LoRa, Wi-Fi) ficam fora deste módulo; aqui há
// apenas o contrato e uma implementação em memória.
package transport

import (
	"context"
	"errors"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// Erros de transporte
var (
	ErrClosed      = errors.New("transporte fechado")
	ErrUnknownPeer = errors.New("peer não conectado")
	ErrQueueFull   = errors.New("fila do peer cheia")
	ErrTooLarge    = errors.New("dados maiores que o MTU")
)

// EventKind identifica o tipo de evento de transporte
type EventKind uint8

const (
	PeerConnected EventKind = iota
	PeerDisconnected
	DataReceived
	Error
)

func (k EventKind) String() string {
	switch k {
	case PeerConnected:
		return "peer_connected"
	case PeerDisconnected:
		return "peer_disconnected"
	case DataReceived:
		return "data_received"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event é emitido pelo transporte. Data só é preenchido em DataReceived
// e Err só em Error.
type Event struct {
	Kind EventKind
	Peer protocol.PeerID
	Data []byte
	Err  error
}

// Transport abstrai o envio e recebimento de bytes entre vizinhos diretos.
// O nó usa exclusivamente esta interface.
type Transport interface {
	// Send entrega data a um vizinho conectado
	Send(ctx context.Context, peer protocol.PeerID, data []byte) error

	// Broadcast entrega data a todos os vizinhos conectados
	Broadcast(ctx context.Context, data []byte) error

	// Subscribe retorna o canal de eventos; fechado quando o transporte fecha
	Subscribe() <-chan Event

	// Peers retorna os vizinhos conectados
	Peers() []protocol.PeerID

	// MTU é o maior payload aceito por Send/Broadcast
	MTU() int

	// LinkQuality estima a qualidade do enlace (0 inutilizável, 1 perfeito)
	LinkQuality() float32

	Close() error
}
