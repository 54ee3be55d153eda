package protocol

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	cbor "github.com/fxamacker/cbor/v2"
)

// CBORCodec serializa usando CBOR canônico (RFC 8949) com chaves inteiras.
// As chaves e discriminantes são os mesmos do formato binário.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec cria um codec CBOR determinístico
func NewCBORCodec() (*CBORCodec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CBORCodec{enc: em, dec: dm}, nil
}

// Name retorna o nome do codec
func (c *CBORCodec) Name() string { return CodecCBOR }

type cborEnvelope struct {
	Version   uint8       `cbor:"0,keyasint"`
	ID        []byte      `cbor:"1,keyasint"`
	Sender    []byte      `cbor:"2,keyasint"`
	Recipient []byte      `cbor:"3,keyasint,omitempty"`
	Content   cborContent `cbor:"4,keyasint"`
	Seconds   int64       `cbor:"5,keyasint"`
	Nanos     uint32      `cbor:"6,keyasint"`
	TTL       int64       `cbor:"7,keyasint"`
	HopCount  uint8       `cbor:"8,keyasint"`
	Signature []byte      `cbor:"9,keyasint"`
}

// Chaves que todo mapa decodificado precisa trazer
var (
	envelopeKeys = []uint64{0, 1, 2, 4, 5, 6, 7, 8, 9}
	contentKeys  = []uint64{0}
	controlKeys  = []uint64{0}
)

type cborContent struct {
	Type    uint8        `cbor:"0,keyasint"`
	Text    string       `cbor:"1,keyasint,omitempty"`
	Name    string       `cbor:"2,keyasint,omitempty"`
	Data    []byte       `cbor:"3,keyasint,omitempty"`
	Routing *cborControl `cbor:"4,keyasint,omitempty"`
}

type cborControl struct {
	Type        uint8    `cbor:"0,keyasint"`
	Origin      []byte   `cbor:"1,keyasint,omitempty"`
	Destination []byte   `cbor:"2,keyasint,omitempty"`
	RequestID   uint32   `cbor:"3,keyasint,omitempty"`
	HopCount    uint8    `cbor:"4,keyasint,omitempty"`
	Unreachable [][]byte `cbor:"5,keyasint,omitempty"`
}

// EncodeEnvelope serializa um Envelope
func (c *CBORCodec) EncodeEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("envelope nil")
	}
	if env.TTL < 0 {
		return nil, fmt.Errorf("ttl negativo: %s", env.TTL)
	}
	content, err := toCBORContent(env.Content)
	if err != nil {
		return nil, err
	}
	w := cborEnvelope{
		Version:   CurrentVersion,
		ID:        env.ID[:],
		Sender:    env.Sender[:],
		Content:   content,
		Seconds:   env.Timestamp.Unix(),
		Nanos:     uint32(env.Timestamp.Nanosecond()),
		TTL:       int64(env.TTL),
		HopCount:  env.HopCount,
		Signature: env.Signature,
	}
	if w.Signature == nil {
		w.Signature = []byte{}
	}
	if env.Recipient != nil {
		w.Recipient = env.Recipient[:]
	}
	return c.enc.Marshal(w)
}

// requireKeys decodifica o mapa cru e exige as chaves informadas.
// Sem isso uma chave ausente viraria silenciosamente o valor zero.
func (c *CBORCodec) requireKeys(data []byte, keys []uint64) (map[uint64]cbor.RawMessage, error) {
	var m map[uint64]cbor.RawMessage
	if err := c.dec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return nil, fmt.Errorf("%w: chave %d ausente", ErrInvalidPacket, k)
		}
	}
	return m, nil
}

// requireContentKeys confere o conteúdo e, se houver, o pacote de roteamento aninhado
func (c *CBORCodec) requireContentKeys(data []byte) error {
	m, err := c.requireKeys(data, contentKeys)
	if err != nil {
		return err
	}
	if routing, ok := m[4]; ok {
		if _, err := c.requireKeys(routing, controlKeys); err != nil {
			return err
		}
	}
	return nil
}

// DecodeEnvelope deserializa um Envelope
func (c *CBORCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	m, err := c.requireKeys(data, envelopeKeys)
	if err != nil {
		return nil, err
	}
	if err := c.requireContentKeys(m[4]); err != nil {
		return nil, err
	}

	var w cborEnvelope
	if err := c.dec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if w.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %w %d", ErrInvalidPacket, ErrUnsupported, w.Version)
	}
	if w.Nanos >= uint32(time.Second) || w.TTL < 0 {
		return nil, ErrInvalidPacket
	}
	env := &Envelope{
		Timestamp: time.Unix(w.Seconds, int64(w.Nanos)),
		TTL:       time.Duration(w.TTL),
		HopCount:  w.HopCount,
		Signature: w.Signature,
	}
	if env.Signature == nil {
		env.Signature = []byte{}
	}
	if err := fixed(env.ID[:], w.ID); err != nil {
		return nil, err
	}
	if err := fixed(env.Sender[:], w.Sender); err != nil {
		return nil, err
	}
	if w.Recipient != nil {
		var rcpt UserID
		if err := fixed(rcpt[:], w.Recipient); err != nil {
			return nil, err
		}
		env.Recipient = &rcpt
	}
	content, err := fromCBORContent(w.Content)
	if err != nil {
		return nil, err
	}
	env.Content = content
	return env, nil
}

// EncodeContent serializa um conteúdo
func (c *CBORCodec) EncodeContent(content Content) ([]byte, error) {
	w, err := toCBORContent(content)
	if err != nil {
		return nil, err
	}
	return c.enc.Marshal(w)
}

// DecodeContent deserializa um conteúdo
func (c *CBORCodec) DecodeContent(data []byte) (Content, error) {
	if err := c.requireContentKeys(data); err != nil {
		return nil, err
	}
	var w cborContent
	if err := c.dec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	return fromCBORContent(w)
}

// EncodeControl serializa um pacote de controle
func (c *CBORCodec) EncodeControl(packet ControlPacket) ([]byte, error) {
	w, err := toCBORControl(packet)
	if err != nil {
		return nil, err
	}
	return c.enc.Marshal(w)
}

// DecodeControl deserializa um pacote de controle
func (c *CBORCodec) DecodeControl(data []byte) (ControlPacket, error) {
	if _, err := c.requireKeys(data, controlKeys); err != nil {
		return nil, err
	}
	var w cborControl
	if err := c.dec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	return fromCBORControl(&w)
}

func toCBORContent(content Content) (cborContent, error) {
	switch c := content.(type) {
	case TextContent:
		if !utf8.ValidString(c.Text) {
			return cborContent{}, fmt.Errorf("%w: texto não é UTF-8", ErrInvalidContent)
		}
		return cborContent{Type: uint8(ContentText), Text: c.Text}, nil
	case FileContent:
		return cborContent{Type: uint8(ContentFile), Name: c.Name, Data: c.Data}, nil
	case RoutingContent:
		ctl, err := toCBORControl(c.Packet)
		if err != nil {
			return cborContent{}, err
		}
		return cborContent{Type: uint8(ContentRouting), Routing: &ctl}, nil
	default:
		return cborContent{}, fmt.Errorf("conteúdo não suportado: %T", content)
	}
}

func fromCBORContent(w cborContent) (Content, error) {
	switch ContentType(w.Type) {
	case ContentText:
		return TextContent{Text: w.Text}, nil
	case ContentFile:
		data := w.Data
		if data == nil {
			data = []byte{}
		}
		return FileContent{Name: w.Name, Data: data}, nil
	case ContentRouting:
		if w.Routing == nil {
			return nil, fmt.Errorf("%w: conteúdo de roteamento sem pacote", ErrInvalidPacket)
		}
		packet, err := fromCBORControl(w.Routing)
		if err != nil {
			return nil, err
		}
		return RoutingContent{Packet: packet}, nil
	default:
		return nil, fmt.Errorf("%w: conteúdo 0x%02x", ErrUnknownTag, w.Type)
	}
}

func toCBORControl(packet ControlPacket) (cborControl, error) {
	switch p := packet.(type) {
	case RouteRequest:
		return cborControl{
			Type:        uint8(ControlRouteRequest),
			Origin:      p.Origin[:],
			Destination: p.Destination[:],
			RequestID:   p.RequestID,
			HopCount:    p.HopCount,
		}, nil
	case RouteReply:
		return cborControl{
			Type:        uint8(ControlRouteReply),
			Origin:      p.Origin[:],
			Destination: p.Destination[:],
			HopCount:    p.HopCount,
		}, nil
	case RouteError:
		list := make([][]byte, len(p.Unreachable))
		for i := range p.Unreachable {
			list[i] = p.Unreachable[i][:]
		}
		return cborControl{Type: uint8(ControlRouteError), Unreachable: list}, nil
	default:
		return cborControl{}, fmt.Errorf("pacote de controle não suportado: %T", packet)
	}
}

func fromCBORControl(w *cborControl) (ControlPacket, error) {
	switch ControlType(w.Type) {
	case ControlRouteRequest:
		p := RouteRequest{RequestID: w.RequestID, HopCount: w.HopCount}
		if err := fixed(p.Origin[:], w.Origin); err != nil {
			return nil, err
		}
		if err := fixed(p.Destination[:], w.Destination); err != nil {
			return nil, err
		}
		return p, nil
	case ControlRouteReply:
		p := RouteReply{HopCount: w.HopCount}
		if err := fixed(p.Origin[:], w.Origin); err != nil {
			return nil, err
		}
		if err := fixed(p.Destination[:], w.Destination); err != nil {
			return nil, err
		}
		return p, nil
	case ControlRouteError:
		p := RouteError{Unreachable: make([]UserID, len(w.Unreachable))}
		for i, raw := range w.Unreachable {
			if err := fixed(p.Unreachable[i][:], raw); err != nil {
				return nil, err
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: controle 0x%02x", ErrUnknownTag, w.Type)
	}
}

// fixed copia src para dst exigindo o tamanho exato
func fixed(dst, src []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: campo com %d bytes, esperado %d", ErrInvalidPacket, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
