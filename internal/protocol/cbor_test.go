package protocol

import (
	"testing"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBORRequiredKeys(t *testing.T) {
	codec, err := NewCBORCodec()
	require.NoError(t, err)

	id := NewMessageID()
	sender := RandomUserID()
	full := func() map[uint64]any {
		return map[uint64]any{
			0: CurrentVersion,
			1: id[:],
			2: sender[:],
			4: map[uint64]any{0: uint8(ContentText), 1: "oi"},
			5: int64(1700000000),
			6: uint32(0),
			7: int64(3600_000_000_000),
			8: uint8(0),
			9: []byte{},
		}
	}
	encode := func(t *testing.T, v any) []byte {
		t.Helper()
		data, err := cbor.Marshal(v)
		require.NoError(t, err)
		return data
	}

	t.Run("Mapa completo é aceito", func(t *testing.T) {
		env, err := codec.DecodeEnvelope(encode(t, full()))
		require.NoError(t, err)
		assert.Equal(t, TextContent{Text: "oi"}, env.Content)
	})

	t.Run("Só versão, id e remetente", func(t *testing.T) {
		partial := map[uint64]any{0: CurrentVersion, 1: id[:], 2: sender[:]}
		_, err := codec.DecodeEnvelope(encode(t, partial))
		assert.ErrorIs(t, err, ErrInvalidPacket)
	})

	for _, key := range []uint64{4, 5, 6, 7, 8, 9} {
		m := full()
		delete(m, key)
		_, err := codec.DecodeEnvelope(encode(t, m))
		assert.ErrorIs(t, err, ErrDecode, "envelope sem a chave %d deveria ser rejeitado", key)
	}

	t.Run("Conteúdo sem discriminante", func(t *testing.T) {
		m := full()
		m[4] = map[uint64]any{1: "oi"}
		_, err := codec.DecodeEnvelope(encode(t, m))
		assert.ErrorIs(t, err, ErrInvalidPacket)

		_, err = codec.DecodeContent(encode(t, map[uint64]any{1: "oi"}))
		assert.ErrorIs(t, err, ErrInvalidPacket)
	})

	t.Run("Controle sem discriminante", func(t *testing.T) {
		origin, destination := RandomUserID(), RandomUserID()
		packet := map[uint64]any{1: origin[:], 2: destination[:]}

		_, err := codec.DecodeControl(encode(t, packet))
		assert.ErrorIs(t, err, ErrInvalidPacket)

		m := full()
		m[4] = map[uint64]any{0: uint8(ContentRouting), 4: packet}
		_, err = codec.DecodeEnvelope(encode(t, m))
		assert.ErrorIs(t, err, ErrInvalidPacket)
	})
}
