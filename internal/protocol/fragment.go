package protocol

import (
	"errors"
	"fmt"
)

// FragmentMarker é o primeiro byte de um fragmento no fio.
// Nunca coincide com o início de um envelope binário (versão) ou CBOR (mapa).
const FragmentMarker byte = 0xFF

// Formato do fragmento:
// [1 byte: marcador] [16 bytes: MessageID] [1 byte: índice] [1 byte: total] [N bytes: dados]
const FragmentHeaderSize = 1 + MessageIDSize + 1 + 1

// MaxFragments limita quantos pedaços um quadro pode ter
const MaxFragments = 255

var ErrFrameTooLarge = errors.New("quadro não cabe no MTU mesmo fragmentado")

// Fragment é um pedaço de um envelope codificado maior que o MTU do enlace
type Fragment struct {
	ID    MessageID
	Index uint8
	Total uint8
	Data  []byte
}

// IsFragment indica se os bytes recebidos são um fragmento
func IsFragment(data []byte) bool {
	return len(data) > 0 && data[0] == FragmentMarker
}

// SplitFrame divide um quadro em fragmentos de no máximo mtu bytes.
// Quadros que já cabem no MTU são retornados sem alteração.
func SplitFrame(id MessageID, frame []byte, mtu int) ([][]byte, error) {
	if mtu <= 0 || len(frame) <= mtu {
		return [][]byte{frame}, nil
	}

	chunk := mtu - FragmentHeaderSize
	if chunk <= 0 {
		return nil, fmt.Errorf("%w: mtu %d menor que o cabeçalho", ErrFrameTooLarge, mtu)
	}
	total := (len(frame) + chunk - 1) / chunk
	if total > MaxFragments {
		return nil, fmt.Errorf("%w: %d bytes exigiriam %d fragmentos", ErrFrameTooLarge, len(frame), total)
	}

	fragments := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunk
		end := min(start+chunk, len(frame))

		out := make([]byte, FragmentHeaderSize+end-start)
		out[0] = FragmentMarker
		copy(out[1:1+MessageIDSize], id[:])
		out[1+MessageIDSize] = byte(i)
		out[2+MessageIDSize] = byte(total)
		copy(out[FragmentHeaderSize:], frame[start:end])
		fragments = append(fragments, out)
	}
	return fragments, nil
}

// DecodeFragment lê um fragmento produzido por SplitFrame
func DecodeFragment(data []byte) (Fragment, error) {
	if len(data) < FragmentHeaderSize {
		return Fragment{}, fmt.Errorf("%w: fragmento com %d bytes", ErrBufferTooSmall, len(data))
	}
	if data[0] != FragmentMarker {
		return Fragment{}, fmt.Errorf("%w: marcador de fragmento 0x%02x", ErrInvalidPacket, data[0])
	}

	var f Fragment
	copy(f.ID[:], data[1:1+MessageIDSize])
	f.Index = data[1+MessageIDSize]
	f.Total = data[2+MessageIDSize]
	if f.Total < 2 || f.Index >= f.Total {
		return Fragment{}, fmt.Errorf("%w: fragmento %d de %d", ErrInvalidPacket, f.Index, f.Total)
	}
	f.Data = append([]byte(nil), data[FragmentHeaderSize:]...)
	return f, nil
}
