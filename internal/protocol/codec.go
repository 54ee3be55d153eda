package protocol

import (
	"errors"
	"fmt"
)

// Erros de decodificação. Todos satisfazem errors.Is(err, ErrDecode):
// bytes malformados são descartados e nunca processados parcialmente.
var (
	ErrDecode         = errors.New("falha ao decodificar")
	ErrInvalidPacket  = fmt.Errorf("%w: pacote inválido ou corrompido", ErrDecode)
	ErrBufferTooSmall = fmt.Errorf("%w: buffer muito pequeno para decodificar o pacote", ErrDecode)
	ErrUnknownTag     = fmt.Errorf("%w: discriminante desconhecido", ErrDecode)
	ErrUnsupported    = errors.New("versão de protocolo não suportada")
)

// ErrInvalidContent indica conteúdo que não pode ser codificado (ex.: texto fora de UTF-8)
var ErrInvalidContent = errors.New("conteúdo inválido")

// Nomes dos codecs disponíveis
const (
	CodecBinary = "binary"
	CodecCBOR   = "cbor"
)

// Codec serializa envelopes, conteúdos e pacotes de controle.
// Implementações devem ser determinísticas e preservar variante e valores na ida e volta.
type Codec interface {
	Name() string

	EncodeEnvelope(env *Envelope) ([]byte, error)
	DecodeEnvelope(data []byte) (*Envelope, error)

	EncodeContent(content Content) ([]byte, error)
	DecodeContent(data []byte) (Content, error)

	EncodeControl(packet ControlPacket) ([]byte, error)
	DecodeControl(data []byte) (ControlPacket, error)
}

// NewCodec retorna o codec pelo nome. Nome vazio seleciona o binário.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecBinary:
		return BinaryCodec{}, nil
	case CodecCBOR:
		c, err := NewCBORCodec()
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("codec desconhecido: %q", name)
	}
}
