package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Tamanhos fixos dos identificadores no fio
const (
	UserIDSize    = 32
	PeerIDSize    = 32
	MessageIDSize = 16
)

// UserID identifica um usuário (hash da chave pública). Usado como destino e remetente.
type UserID [UserIDSize]byte

// PeerID identifica um vizinho alcançável em um transporte específico
type PeerID [PeerIDSize]byte

// MessageID é o identificador aleatório de 128 bits de uma mensagem (UUID v4)
type MessageID [MessageIDSize]byte

// RandomUserID gera um UserID aleatório
func RandomUserID() UserID {
	var id UserID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		panic(fmt.Sprintf("protocol: falha ao gerar UserID: %v", err))
	}
	return id
}

// String retorna o UserID em hexadecimal
func (u UserID) String() string {
	return hex.EncodeToString(u[:])
}

// ParseUserID lê um UserID em hexadecimal (64 caracteres)
func ParseUserID(s string) (UserID, error) {
	var id UserID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: UserID: %v", ErrInvalidPacket, err)
	}
	if len(b) != UserIDSize {
		return id, fmt.Errorf("%w: tamanho de UserID %d", ErrInvalidPacket, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Short retorna os primeiros 8 caracteres hex, útil para logs
func (u UserID) Short() string {
	return hex.EncodeToString(u[:4])
}

// RandomPeerID gera um PeerID aleatório
func RandomPeerID() PeerID {
	var id PeerID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		panic(fmt.Sprintf("protocol: falha ao gerar PeerID: %v", err))
	}
	return id
}

// String retorna o PeerID em hexadecimal
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// Short retorna os primeiros 8 caracteres hex, útil para logs
func (p PeerID) Short() string {
	return hex.EncodeToString(p[:4])
}

// NewMessageID gera um novo MessageID aleatório. Nunca é reutilizado.
func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

// MessageIDFromBytes converte 16 bytes em um MessageID
func MessageIDFromBytes(b []byte) (MessageID, error) {
	var id MessageID
	if len(b) != MessageIDSize {
		return id, fmt.Errorf("%w: tamanho de MessageID %d", ErrInvalidPacket, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseMessageID aceita tanto o formato UUID canônico quanto hex puro
func ParseMessageID(s string) (MessageID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MessageID{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	return MessageID(u), nil
}

// Bytes retorna uma cópia dos 16 bytes do identificador (chave no armazenamento)
func (m MessageID) Bytes() []byte {
	b := make([]byte, MessageIDSize)
	copy(b, m[:])
	return b
}

// String retorna o MessageID no formato UUID canônico
func (m MessageID) String() string {
	return uuid.UUID(m).String()
}
