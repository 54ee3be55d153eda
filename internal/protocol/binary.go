package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"
)

// CurrentVersion é a versão atual do formato binário
const CurrentVersion uint8 = 1

// Tamanho mínimo de um envelope codificado:
// versão + id + sender + flag do recipient + timestamp + ttl + hop + tag do conteúdo + tamanho da assinatura
const minEnvelopeSize = 1 + MessageIDSize + UserIDSize + 1 + 12 + 12 + 1 + 1 + 2

// Limites de tamanho dos campos variáveis
const (
	maxNameLen      = math.MaxUint16
	maxSignatureLen = math.MaxUint16
	maxUnreachable  = math.MaxUint16
)

// BinaryCodec serializa envelopes em um formato binário compacto (big-endian).
//
// Layout do envelope:
//
//	versão u8 | id [16] | sender [32] | flag u8 (+ recipient [32])
//	timestamp (seg i64, nanos u32) | ttl (seg u64, nanos u32) | hop u8
//	conteúdo (tag u8 + campos) | assinatura (u16 + bytes)
type BinaryCodec struct{}

// Name retorna o nome do codec
func (BinaryCodec) Name() string { return CodecBinary }

// EncodeEnvelope serializa um Envelope
func (BinaryCodec) EncodeEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("envelope nil")
	}
	if len(env.Signature) > maxSignatureLen {
		return nil, fmt.Errorf("assinatura muito grande: %d bytes", len(env.Signature))
	}
	if env.TTL < 0 {
		return nil, fmt.Errorf("ttl negativo: %s", env.TTL)
	}

	buf := bytes.NewBuffer(make([]byte, 0, minEnvelopeSize+64))

	// Escrever versão
	buf.WriteByte(CurrentVersion)

	// Escrever identificadores
	buf.Write(env.ID[:])
	buf.Write(env.Sender[:])
	if env.Recipient != nil {
		buf.WriteByte(1)
		buf.Write(env.Recipient[:])
	} else {
		buf.WriteByte(0)
	}

	// Escrever timestamp e TTL
	binary.Write(buf, binary.BigEndian, env.Timestamp.Unix())
	binary.Write(buf, binary.BigEndian, uint32(env.Timestamp.Nanosecond()))
	binary.Write(buf, binary.BigEndian, uint64(env.TTL/time.Second))
	binary.Write(buf, binary.BigEndian, uint32(env.TTL%time.Second))

	// Escrever hop count
	buf.WriteByte(env.HopCount)

	// Escrever conteúdo
	if err := writeContent(buf, env.Content); err != nil {
		return nil, err
	}

	// Escrever tamanho e dados da assinatura
	binary.Write(buf, binary.BigEndian, uint16(len(env.Signature)))
	buf.Write(env.Signature)

	return buf.Bytes(), nil
}

// DecodeEnvelope deserializa um Envelope a partir de dados binários
func (BinaryCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < minEnvelopeSize {
		return nil, ErrBufferTooSmall
	}

	r := newReader(data)
	env := &Envelope{}

	// Ler versão
	version := r.u8()
	if r.err == nil && version != CurrentVersion {
		return nil, fmt.Errorf("%w: %w %d", ErrInvalidPacket, ErrUnsupported, version)
	}

	// Ler identificadores
	r.full(env.ID[:])
	r.full(env.Sender[:])
	switch r.u8() {
	case 0:
	case 1:
		var rcpt UserID
		r.full(rcpt[:])
		env.Recipient = &rcpt
	default:
		r.fail(ErrInvalidPacket)
	}

	// Ler timestamp e TTL
	secs := int64(r.u64())
	nanos := r.u32()
	if nanos >= uint32(time.Second) {
		r.fail(ErrInvalidPacket)
	}
	env.Timestamp = time.Unix(secs, int64(nanos))

	ttlSecs := r.u64()
	ttlNanos := r.u32()
	// secs*1e9 + nanos precisa caber em time.Duration
	if ttlNanos >= uint32(time.Second) || ttlSecs > uint64((math.MaxInt64-int64(ttlNanos))/int64(time.Second)) {
		r.fail(ErrInvalidPacket)
	}
	env.TTL = time.Duration(ttlSecs)*time.Second + time.Duration(ttlNanos)

	// Ler hop count
	env.HopCount = r.u8()

	// Ler conteúdo
	env.Content = readContent(r)

	// Ler assinatura
	sigLen := int(r.u16())
	env.Signature = r.take(sigLen)

	if r.err != nil {
		return nil, r.err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d bytes sobrando", ErrInvalidPacket, r.Len())
	}
	return env, nil
}

// EncodeContent serializa apenas o conteúdo de uma mensagem
func (BinaryCodec) EncodeContent(content Content) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeContent(buf, content); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeContent deserializa um conteúdo
func (BinaryCodec) DecodeContent(data []byte) (Content, error) {
	r := newReader(data)
	content := readContent(r)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return content, nil
}

// EncodeControl serializa um pacote de controle de roteamento
func (BinaryCodec) EncodeControl(packet ControlPacket) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeControl(buf, packet); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeControl deserializa um pacote de controle de roteamento
func (BinaryCodec) DecodeControl(data []byte) (ControlPacket, error) {
	r := newReader(data)
	packet := readControl(r)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return packet, nil
}

func writeContent(buf *bytes.Buffer, content Content) error {
	switch c := content.(type) {
	case TextContent:
		if !utf8.ValidString(c.Text) {
			return fmt.Errorf("%w: texto não é UTF-8", ErrInvalidContent)
		}
		buf.WriteByte(byte(ContentText))
		if uint64(len(c.Text)) > math.MaxUint32 {
			return fmt.Errorf("texto muito grande: %d bytes", len(c.Text))
		}
		binary.Write(buf, binary.BigEndian, uint32(len(c.Text)))
		buf.WriteString(c.Text)
	case FileContent:
		buf.WriteByte(byte(ContentFile))
		if len(c.Name) > maxNameLen {
			return fmt.Errorf("nome de arquivo muito grande: %d bytes", len(c.Name))
		}
		if uint64(len(c.Data)) > math.MaxUint32 {
			return fmt.Errorf("arquivo muito grande: %d bytes", len(c.Data))
		}
		binary.Write(buf, binary.BigEndian, uint16(len(c.Name)))
		buf.WriteString(c.Name)
		binary.Write(buf, binary.BigEndian, uint32(len(c.Data)))
		buf.Write(c.Data)
	case RoutingContent:
		buf.WriteByte(byte(ContentRouting))
		return writeControl(buf, c.Packet)
	default:
		return fmt.Errorf("conteúdo não suportado: %T", content)
	}
	return nil
}

func readContent(r *reader) Content {
	tag := ContentType(r.u8())
	if r.err != nil {
		return nil
	}
	switch tag {
	case ContentText:
		n := int(r.u32())
		text := r.take(n)
		if r.err == nil && !utf8.Valid(text) {
			r.fail(fmt.Errorf("%w: texto não é UTF-8", ErrInvalidPacket))
		}
		return TextContent{Text: string(text)}
	case ContentFile:
		nameLen := int(r.u16())
		name := r.take(nameLen)
		dataLen := int(r.u32())
		data := r.take(dataLen)
		return FileContent{Name: string(name), Data: data}
	case ContentRouting:
		return RoutingContent{Packet: readControl(r)}
	default:
		r.fail(fmt.Errorf("%w: conteúdo 0x%02x", ErrUnknownTag, uint8(tag)))
		return nil
	}
}

func writeControl(buf *bytes.Buffer, packet ControlPacket) error {
	switch p := packet.(type) {
	case RouteRequest:
		buf.WriteByte(byte(ControlRouteRequest))
		buf.Write(p.Origin[:])
		buf.Write(p.Destination[:])
		binary.Write(buf, binary.BigEndian, p.RequestID)
		buf.WriteByte(p.HopCount)
	case RouteReply:
		buf.WriteByte(byte(ControlRouteReply))
		buf.Write(p.Origin[:])
		buf.Write(p.Destination[:])
		buf.WriteByte(p.HopCount)
	case RouteError:
		if len(p.Unreachable) > maxUnreachable {
			return fmt.Errorf("lista de inalcançáveis muito grande: %d", len(p.Unreachable))
		}
		buf.WriteByte(byte(ControlRouteError))
		binary.Write(buf, binary.BigEndian, uint16(len(p.Unreachable)))
		for _, u := range p.Unreachable {
			buf.Write(u[:])
		}
	default:
		return fmt.Errorf("pacote de controle não suportado: %T", packet)
	}
	return nil
}

func readControl(r *reader) ControlPacket {
	tag := ControlType(r.u8())
	if r.err != nil {
		return nil
	}
	switch tag {
	case ControlRouteRequest:
		var p RouteRequest
		r.full(p.Origin[:])
		r.full(p.Destination[:])
		p.RequestID = r.u32()
		p.HopCount = r.u8()
		return p
	case ControlRouteReply:
		var p RouteReply
		r.full(p.Origin[:])
		r.full(p.Destination[:])
		p.HopCount = r.u8()
		return p
	case ControlRouteError:
		n := int(r.u16())
		if r.err == nil && n*UserIDSize > r.Len() {
			r.fail(ErrBufferTooSmall)
			return nil
		}
		p := RouteError{Unreachable: make([]UserID, n)}
		for i := 0; i < n; i++ {
			r.full(p.Unreachable[i][:])
		}
		return p
	default:
		r.fail(fmt.Errorf("%w: controle 0x%02x", ErrUnknownTag, uint8(tag)))
		return nil
	}
}

// reader acumula o primeiro erro de leitura, evitando checagens a cada campo
type reader struct {
	*bytes.Reader
	err error
}

func newReader(data []byte) *reader {
	return &reader{Reader: bytes.NewReader(data)}
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) full(dst []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.Reader, dst); err != nil {
		r.fail(ErrBufferTooSmall)
	}
}

func (r *reader) u8() byte {
	var b [1]byte
	r.full(b[:])
	return b[0]
}

func (r *reader) u16() uint16 {
	var b [2]byte
	r.full(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func (r *reader) u32() uint32 {
	var b [4]byte
	r.full(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (r *reader) u64() uint64 {
	var b [8]byte
	r.full(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// take lê n bytes sem alocar além do que resta no buffer
func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.Len() {
		r.fail(ErrBufferTooSmall)
		return nil
	}
	out := make([]byte, n)
	r.full(out)
	return out
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d bytes sobrando", ErrInvalidPacket, r.Len())
	}
	return nil
}
