package protocol

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Envelope é a estrutura principal de mensagens trocadas na malha
type Envelope struct {
	ID        MessageID
	Sender    UserID
	Recipient *UserID // nil = broadcast
	Content   Content
	Timestamp time.Time
	TTL       time.Duration
	HopCount  uint8
	Signature []byte
}

// NewEnvelope cria um envelope novo com valores padrão.
// HopCount começa em zero e a assinatura fica vazia (assinar é responsabilidade externa).
func NewEnvelope(sender UserID, recipient *UserID, content Content, now time.Time) *Envelope {
	var rcpt *UserID
	if recipient != nil {
		r := *recipient
		rcpt = &r
	}
	return &Envelope{
		ID:        NewMessageID(),
		Sender:    sender,
		Recipient: rcpt,
		Content:   content,
		Timestamp: now,
		TTL:       DefaultTTL,
		HopCount:  0,
		Signature: []byte{},
	}
}

// IsBroadcast indica se a mensagem não tem destinatário específico
func (e *Envelope) IsBroadcast() bool {
	return e.Recipient == nil
}

// IsFor indica se a mensagem é endereçada ao usuário informado
func (e *Envelope) IsFor(user UserID) bool {
	return e.Recipient != nil && *e.Recipient == user
}

// Age calcula a idade da mensagem em now. Relógio adiantado conta como idade zero.
func (e *Envelope) Age(now time.Time) time.Duration {
	age := now.Sub(e.Timestamp)
	if age < 0 {
		return 0
	}
	return age
}

// Expired indica se a idade ultrapassou o TTL
func (e *Envelope) Expired(now time.Time) bool {
	return e.Age(now) > e.TTL
}

// Clone retorna uma cópia profunda do envelope.
// O conteúdo é compartilhado, pois nunca é alterado após a criação.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Recipient != nil {
		r := *e.Recipient
		c.Recipient = &r
	}
	c.Signature = append([]byte{}, e.Signature...)
	return &c
}

// SignedBytes gera os dados a serem assinados para um envelope.
// Inclui todos os campos relevantes exceto a própria assinatura e o HopCount,
// que é incrementado a cada relay.
func (e *Envelope) SignedBytes() []byte {
	buf := new(bytes.Buffer)

	buf.Write(e.ID[:])
	buf.Write(e.Sender[:])
	if e.Recipient != nil {
		buf.WriteByte(1)
		buf.Write(e.Recipient[:])
	} else {
		buf.WriteByte(0)
	}
	binary.Write(buf, binary.BigEndian, e.Timestamp.UnixNano())
	binary.Write(buf, binary.BigEndian, int64(e.TTL))

	// Conteúdo na codificação binária canônica
	_ = writeContent(buf, e.Content)

	return buf.Bytes()
}
