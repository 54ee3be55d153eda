package store

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/pkg/utils"
)

// seenMarker é o valor gravado no namespace seen; só a presença da chave importa
var seenMarker = []byte{1}

// MessageStore guarda envelopes por id e o conjunto de ids já vistos.
// O conjunto seen só cresce: PurgeExpired marca o id como visto antes de
// remover a mensagem, então um id persistido nunca volta a parecer novo.
type MessageStore struct {
	kv          KV
	codec       protocol.Codec
	compression string
	logger      logrus.FieldLogger
}

// NewMessageStore cria o armazenamento sobre um KV. logger nil usa o logger padrão.
func NewMessageStore(kv KV, codec protocol.Codec, logger logrus.FieldLogger) *MessageStore {
	if codec == nil {
		codec = protocol.BinaryCodec{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MessageStore{
		kv:          kv,
		codec:       codec,
		compression: utils.CompressionLZ4,
		logger:      logger.WithField("component", "message_store"),
	}
}

// SetCompression escolhe o algoritmo usado nas próximas gravações.
// Blocos já gravados continuam legíveis, cada um traz seu marcador.
func (ms *MessageStore) SetCompression(algorithm string) error {
	if err := utils.ValidCompression(algorithm); err != nil {
		return err
	}
	ms.compression = algorithm
	return nil
}

// SaveMessage persiste o envelope sob seu id, comprimido quando compensa
func (ms *MessageStore) SaveMessage(env *protocol.Envelope) error {
	data, err := ms.codec.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("erro ao codificar mensagem %s: %w", env.ID, err)
	}
	block, err := utils.PackWith(ms.compression, data)
	if err != nil {
		return fmt.Errorf("erro ao comprimir mensagem %s: %w", env.ID, err)
	}
	return ms.kv.Put(BucketMessages, env.ID.Bytes(), block)
}

// LoadMessage retorna o envelope guardado ou (nil, nil) se não existir
func (ms *MessageStore) LoadMessage(id protocol.MessageID) (*protocol.Envelope, error) {
	block, err := ms.kv.Get(BucketMessages, id.Bytes())
	if err != nil || block == nil {
		return nil, err
	}
	return ms.decode(block)
}

func (ms *MessageStore) decode(block []byte) (*protocol.Envelope, error) {
	data, err := utils.Unpack(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidPacket, err)
	}
	return ms.codec.DecodeEnvelope(data)
}

// HasMessage informa se existe mensagem guardada com o id
func (ms *MessageStore) HasMessage(id protocol.MessageID) (bool, error) {
	return ms.kv.Contains(BucketMessages, id.Bytes())
}

// MarkSeen registra o id como visto. Idempotente.
func (ms *MessageStore) MarkSeen(id protocol.MessageID) error {
	return ms.kv.Put(BucketSeen, id.Bytes(), seenMarker)
}

// IsSeen informa se o id já foi marcado como visto
func (ms *MessageStore) IsSeen(id protocol.MessageID) (bool, error) {
	return ms.kv.Contains(BucketSeen, id.Bytes())
}

// CountMessages retorna o número de mensagens guardadas
func (ms *MessageStore) CountMessages() (int, error) {
	count := 0
	err := ms.kv.ForEach(BucketMessages, func(_, _ []byte) error {
		count++
		return nil
	})
	return count, err
}

// ForEachKnownID percorre os ids guardados e os vistos. Um id pode aparecer duas vezes.
func (ms *MessageStore) ForEachKnownID(fn func(id protocol.MessageID) error) error {
	for _, bucket := range []string{BucketMessages, BucketSeen} {
		err := ms.kv.ForEach(bucket, func(key, _ []byte) error {
			id, err := protocol.MessageIDFromBytes(key)
			if err != nil {
				return nil
			}
			return fn(id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// PurgeExpired remove mensagens cujo TTL já passou em now e retorna quantas foram removidas.
// Entradas que não decodificam são mantidas e registradas no log.
func (ms *MessageStore) PurgeExpired(now time.Time) (int, error) {
	var expired []protocol.MessageID
	err := ms.kv.ForEach(BucketMessages, func(key, value []byte) error {
		env, err := ms.decode(value)
		if err != nil {
			ms.logger.WithError(err).WithField("key", fmt.Sprintf("%x", key)).Warn("Mensagem guardada ilegível")
			return nil
		}
		if env.Expired(now) {
			expired = append(expired, env.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range expired {
		if err := ms.MarkSeen(id); err != nil {
			return removed, err
		}
		if err := ms.kv.Delete(BucketMessages, id.Bytes()); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		ms.logger.WithField("removed", removed).Debug("Mensagens expiradas removidas")
	}
	return removed, nil
}

// Close fecha o KV subjacente
func (ms *MessageStore) Close() error {
	return ms.kv.Close()
}
