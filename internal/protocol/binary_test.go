package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodecs(t *testing.T) []Codec {
	t.Helper()
	cb, err := NewCBORCodec()
	require.NoError(t, err)
	return []Codec{BinaryCodec{}, cb}
}

func sampleEnvelope(content Content) *Envelope {
	recipient := RandomUserID()
	env := NewEnvelope(RandomUserID(), &recipient, content, time.Unix(1700000000, 123456789))
	env.HopCount = 3
	env.Signature = []byte("assinatura-simulada")
	return env
}

func assertEnvelopeEqual(t *testing.T, want, got *Envelope) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID, "ID não corresponde")
	assert.Equal(t, want.Sender, got.Sender, "Sender não corresponde")
	if want.Recipient == nil {
		assert.Nil(t, got.Recipient, "Recipient deveria ser nil")
	} else {
		require.NotNil(t, got.Recipient, "Recipient não deveria ser nil")
		assert.Equal(t, *want.Recipient, *got.Recipient, "Recipient não corresponde")
	}
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "Timestamp não corresponde: esperado %v, obtido %v", want.Timestamp, got.Timestamp)
	assert.Equal(t, want.TTL, got.TTL, "TTL não corresponde")
	assert.Equal(t, want.HopCount, got.HopCount, "HopCount não corresponde")
	assert.Equal(t, string(want.Signature), string(got.Signature), "Signature não corresponde")
	assert.True(t, EqualContent(want.Content, got.Content), "Conteúdo não corresponde: esperado %#v, obtido %#v", want.Content, got.Content)
}

func TestEnvelopeCodecs(t *testing.T) {
	contents := map[string]Content{
		"texto":   TextContent{Text: "Olá, malha! ✓"},
		"arquivo": FileContent{Name: "mapa.png", Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2}},
		"arquivo vazio": FileContent{Name: "vazio.txt", Data: []byte{}},
		"roteamento": RoutingContent{Packet: RouteRequest{
			Origin: RandomUserID(), Destination: RandomUserID(), RequestID: 42, HopCount: 1,
		}},
	}

	for _, codec := range testCodecs(t) {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			for name, content := range contents {
				t.Run("Ida e volta "+name, func(t *testing.T) {
					original := sampleEnvelope(content)

					encoded, err := codec.EncodeEnvelope(original)
					require.NoError(t, err, "Erro ao codificar envelope")

					decoded, err := codec.DecodeEnvelope(encoded)
					require.NoError(t, err, "Erro ao decodificar envelope")

					assertEnvelopeEqual(t, original, decoded)
				})
			}

			t.Run("Broadcast sem destinatário", func(t *testing.T) {
				original := NewEnvelope(RandomUserID(), nil, TextContent{Text: "alerta"}, time.Now())

				encoded, err := codec.EncodeEnvelope(original)
				require.NoError(t, err)
				decoded, err := codec.DecodeEnvelope(encoded)
				require.NoError(t, err)

				assert.True(t, decoded.IsBroadcast())
				assertEnvelopeEqual(t, original, decoded)
			})

			t.Run("Bytes truncados são rejeitados", func(t *testing.T) {
				encoded, err := codec.EncodeEnvelope(sampleEnvelope(TextContent{Text: "mensagem longa o bastante"}))
				require.NoError(t, err)

				for _, n := range []int{0, 1, len(encoded) / 2, len(encoded) - 1} {
					_, err := codec.DecodeEnvelope(encoded[:n])
					assert.ErrorIs(t, err, ErrDecode, "truncado em %d bytes deveria falhar", n)
				}
			})
		})
	}
}

func TestInvalidTextIsNotEncoded(t *testing.T) {
	for _, codec := range testCodecs(t) {
		t.Run(codec.Name(), func(t *testing.T) {
			content := TextContent{Text: "socorro \xff"}

			_, err := codec.EncodeContent(content)
			assert.ErrorIs(t, err, ErrInvalidContent)

			_, err = codec.EncodeEnvelope(sampleEnvelope(content))
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestBinaryCodecRejectsMalformed(t *testing.T) {
	codec := BinaryCodec{}
	encoded, err := codec.EncodeEnvelope(sampleEnvelope(TextContent{Text: "oi"}))
	require.NoError(t, err)

	t.Run("Versão incompatível", func(t *testing.T) {
		bad := append([]byte{}, encoded...)
		bad[0] = CurrentVersion + 10
		_, err := codec.DecodeEnvelope(bad)
		assert.ErrorIs(t, err, ErrDecode)
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("Bytes sobrando", func(t *testing.T) {
		bad := append(append([]byte{}, encoded...), 0x00)
		_, err := codec.DecodeEnvelope(bad)
		assert.ErrorIs(t, err, ErrInvalidPacket)
	})

	t.Run("Discriminante de conteúdo desconhecido", func(t *testing.T) {
		_, err := codec.DecodeContent([]byte{0x7F})
		assert.ErrorIs(t, err, ErrUnknownTag)
		assert.True(t, errors.Is(err, ErrDecode))
	})

	t.Run("Texto inválido em UTF-8", func(t *testing.T) {
		_, err := codec.DecodeContent([]byte{byte(ContentText), 0, 0, 0, 2, 0xff, 0xfe})
		assert.ErrorIs(t, err, ErrInvalidPacket)
	})

	t.Run("TTL que não cabe em time.Duration", func(t *testing.T) {
		// versão + id + sender + flag + recipient + timestamp
		const ttlOffset = 1 + MessageIDSize + UserIDSize + 1 + UserIDSize + 12

		bad := append([]byte{}, encoded...)
		binary.BigEndian.PutUint64(bad[ttlOffset:], 9223372036)
		binary.BigEndian.PutUint32(bad[ttlOffset+8:], 999999999)
		_, err := codec.DecodeEnvelope(bad)
		assert.ErrorIs(t, err, ErrInvalidPacket)

		// O maior TTL representável continua válido
		binary.BigEndian.PutUint32(bad[ttlOffset+8:], 854775807)
		env, err := codec.DecodeEnvelope(bad)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(math.MaxInt64), env.TTL)
	})

	t.Run("Contagem de inalcançáveis maior que o buffer", func(t *testing.T) {
		_, err := codec.DecodeControl([]byte{byte(ControlRouteError), 0xff, 0xff})
		assert.ErrorIs(t, err, ErrBufferTooSmall)
	})
}

func TestContentTags(t *testing.T) {
	codec := BinaryCodec{}

	t.Run("Discriminantes fixos no fio", func(t *testing.T) {
		for _, tc := range []struct {
			content Content
			tag     byte
		}{
			{TextContent{Text: "a"}, 0},
			{FileContent{Name: "a"}, 1},
			{RoutingContent{Packet: RouteError{}}, 2},
		} {
			encoded, err := codec.EncodeContent(tc.content)
			require.NoError(t, err)
			assert.Equal(t, tc.tag, encoded[0], "tag de %T", tc.content)
		}
	})

	t.Run("Prioridades ordenadas", func(t *testing.T) {
		assert.True(t, PriorityEmergency.MoreUrgentThan(PriorityUrgent))
		assert.True(t, PriorityUrgent.MoreUrgentThan(PriorityNormal))
		assert.True(t, PriorityNormal.MoreUrgentThan(PriorityBackground))
		assert.False(t, PriorityNormal.MoreUrgentThan(PriorityNormal))
		assert.Equal(t, uint8(3), uint8(PriorityBackground))
	})
}

func TestSignedBytes(t *testing.T) {
	env := sampleEnvelope(TextContent{Text: "assinado"})
	base := env.SignedBytes()

	t.Run("HopCount e assinatura não afetam os dados assinados", func(t *testing.T) {
		relayed := env.Clone()
		relayed.HopCount++
		relayed.Signature = []byte("outra")
		assert.Equal(t, base, relayed.SignedBytes())
	})

	t.Run("Conteúdo alterado muda os dados assinados", func(t *testing.T) {
		tampered := env.Clone()
		tampered.Content = TextContent{Text: "adulterado"}
		assert.NotEqual(t, base, tampered.SignedBytes())
	})
}

func TestEnvelopeAge(t *testing.T) {
	now := time.Unix(1700000000, 0)
	env := NewEnvelope(RandomUserID(), nil, TextContent{Text: "x"}, now)
	env.TTL = time.Second

	assert.Equal(t, time.Duration(0), env.Age(now.Add(-time.Minute)), "relógio adiantado conta como idade zero")
	assert.False(t, env.Expired(now.Add(time.Second)), "idade igual ao TTL ainda é válida")
	assert.True(t, env.Expired(now.Add(time.Second+time.Nanosecond)))
}
