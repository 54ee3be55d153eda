package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/disastermesh/internal/crypto"
	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/internal/store"
	"github.com/permissionlesstech/disastermesh/pkg/utils"
)

// Erros de admissão de mensagens
var (
	ErrExpired          = errors.New("mensagem expirada")
	ErrInvalidSignature = crypto.ErrInvalidSignature
)

// Verifier confere a assinatura de um envelope
type Verifier interface {
	Verify(env *protocol.Envelope) error
}

// Signer assina um envelope antes de ele ser persistido
type Signer interface {
	Sign(env *protocol.Envelope) error
}

// Config contém configurações do MessageManager
type Config struct {
	DefaultTTL       time.Duration // TTL atribuído a mensagens criadas localmente
	SeenCacheTTL     time.Duration // Tempo que um id visto fica no cache em memória
	SeenCacheCleanup time.Duration // Intervalo de limpeza do cache (<= 0 desativa)
	LockStripes      int           // Número de locks para admissão atômica por id

	// Filtro de Bloom na frente do armazenamento (0 desativa).
	// Só deve ser ativado quando o MessageManager é o único a gravar ids no armazenamento.
	BloomExpected      uint
	BloomFalsePositive float64
}

// DefaultConfig retorna a configuração padrão
func DefaultConfig() Config {
	return Config{
		DefaultTTL:       protocol.DefaultTTL,
		SeenCacheTTL:     10 * time.Minute,
		SeenCacheCleanup: time.Minute,
		LockStripes:      64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.SeenCacheTTL <= 0 {
		c.SeenCacheTTL = def.SeenCacheTTL
	}
	if c.LockStripes <= 0 {
		c.LockStripes = def.LockStripes
	}
	if c.BloomFalsePositive <= 0 || c.BloomFalsePositive >= 1 {
		c.BloomFalsePositive = 0.01
	}
	return c
}

// Option ajusta um MessageManager na criação
type Option func(*MessageManager)

// WithClock define o relógio usado para timestamps e validade
func WithClock(clk clock.Clock) Option {
	return func(mm *MessageManager) { mm.clock = clk }
}

// WithLogger define o logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(mm *MessageManager) { mm.logger = logger }
}

// WithSealer define a estratégia de criptografia de conteúdo
func WithSealer(sealer crypto.Sealer) Option {
	return func(mm *MessageManager) { mm.sealer = sealer }
}

// WithVerifier ativa a verificação de assinaturas em CheckMessage
func WithVerifier(verifier Verifier) Option {
	return func(mm *MessageManager) { mm.verifier = verifier }
}

// WithSigner assina toda mensagem criada antes da gravação
func WithSigner(signer Signer) Option {
	return func(mm *MessageManager) { mm.signer = signer }
}

// MessageManager cria mensagens e decide se mensagens recebidas devem ser aceitas
type MessageManager struct {
	store    *store.MessageStore
	config   Config
	clock    clock.Clock
	logger   logrus.FieldLogger
	sealer   crypto.Sealer
	verifier Verifier
	signer   Signer

	// Cache positivo: só guarda ids que já se sabe terem sido vistos.
	// O conjunto seen nunca encolhe, então um acerto aqui é sempre correto.
	seenCache *utils.ExpiringSet[protocol.MessageID]
	known     *knownFilter
	stripes   []sync.Mutex
}

// NewMessageManager cria o gerenciador sobre um MessageStore
func NewMessageManager(ms *store.MessageStore, config Config, opts ...Option) *MessageManager {
	config = config.withDefaults()
	mm := &MessageManager{
		store:  ms,
		config: config,
		clock:  clock.New(),
		sealer: crypto.PlainSealer{},
	}
	for _, opt := range opts {
		opt(mm)
	}
	if mm.logger == nil {
		mm.logger = logrus.StandardLogger()
	}
	mm.logger = mm.logger.WithField("component", "message_manager")
	mm.seenCache = utils.NewExpiringSetWithClock[protocol.MessageID](config.SeenCacheTTL, config.SeenCacheCleanup, mm.clock)
	mm.stripes = make([]sync.Mutex, config.LockStripes)

	if config.BloomExpected > 0 {
		known, err := newKnownFilter(ms, config.BloomExpected, config.BloomFalsePositive)
		if err != nil {
			mm.logger.WithError(err).Warn("Filtro de Bloom desativado: erro ao carregar ids")
		}
		mm.known = known
	}
	return mm
}

// Close interrompe a limpeza do cache. Não fecha o MessageStore.
func (mm *MessageManager) Close() {
	mm.seenCache.Stop()
}

// Store retorna o MessageStore subjacente
func (mm *MessageManager) Store() *store.MessageStore {
	return mm.store
}

// Now retorna o horário do relógio do gerenciador
func (mm *MessageManager) Now() time.Time {
	return mm.clock.Now()
}

// CreateMessage cria e persiste uma mensagem nova, assinada se houver Signer.
// Se a assinatura ou a gravação falhar a mensagem não é considerada criada.
func (mm *MessageManager) CreateMessage(ctx context.Context, sender protocol.UserID, recipient *protocol.UserID, content protocol.Content) (*protocol.Envelope, error) {
	return mm.CreateSignedMessage(ctx, mm.signer, sender, recipient, content)
}

// CreateSignedMessage é CreateMessage com um Signer explícito. signer nil grava sem assinatura.
func (mm *MessageManager) CreateSignedMessage(ctx context.Context, signer Signer, sender protocol.UserID, recipient *protocol.UserID, content protocol.Content) (*protocol.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env := protocol.NewEnvelope(sender, recipient, content, mm.clock.Now())
	env.TTL = mm.config.DefaultTTL

	if signer != nil {
		if err := signer.Sign(env); err != nil {
			return nil, fmt.Errorf("erro ao assinar mensagem %s: %w", env.ID, err)
		}
	}
	if err := mm.store.SaveMessage(env); err != nil {
		return nil, fmt.Errorf("erro ao salvar mensagem %s: %w", env.ID, err)
	}
	mm.known.add(env.ID)

	mm.logger.WithFields(logrus.Fields{
		"message_id": env.ID.String(),
		"content":    env.Content.ContentType().String(),
		"signed":     len(env.Signature) > 0,
	}).Debug("Mensagem criada")
	return env, nil
}

// IsNewMessage informa se o id nunca foi visto nem guardado.
// Em caso de erro de leitura a mensagem é tratada como nova.
func (mm *MessageManager) IsNewMessage(ctx context.Context, id protocol.MessageID) bool {
	if mm.seenCache.Contains(id) {
		return false
	}
	if !mm.known.mayContain(id) {
		return true
	}
	if err := ctx.Err(); err != nil {
		mm.logger.WithError(err).WithField("message_id", id.String()).Warn("Consulta de mensagem cancelada, tratando como nova")
		return true
	}

	seen, err := mm.store.IsSeen(id)
	if err != nil {
		mm.logger.WithError(err).WithField("message_id", id.String()).Warn("Erro ao consultar ids vistos, tratando como nova")
		return true
	}
	if !seen {
		seen, err = mm.store.HasMessage(id)
		if err != nil {
			mm.logger.WithError(err).WithField("message_id", id.String()).Warn("Erro ao consultar mensagens, tratando como nova")
			return true
		}
	}
	if seen {
		mm.seenCache.Add(id)
		return false
	}
	return true
}

// MarkMessageSeen registra o id como visto. Idempotente.
func (mm *MessageManager) MarkMessageSeen(ctx context.Context, id protocol.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mm.store.MarkSeen(id); err != nil {
		return fmt.Errorf("erro ao marcar mensagem %s como vista: %w", id, err)
	}
	mm.known.add(id)
	mm.seenCache.Add(id)
	return nil
}

// AdmitMessage verifica e marca o id numa única operação atômica por id.
// Entre chamadas concorrentes com o mesmo id, no máximo uma recebe true.
// Se a marcação falhar, retorna true junto com o erro: a mensagem é nova,
// mas pode ser aceita de novo no futuro.
func (mm *MessageManager) AdmitMessage(ctx context.Context, id protocol.MessageID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lock := mm.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	if !mm.IsNewMessage(ctx, id) {
		return false, nil
	}
	if err := mm.store.MarkSeen(id); err != nil {
		return true, fmt.Errorf("erro ao marcar mensagem %s como vista: %w", id, err)
	}
	mm.known.add(id)
	mm.seenCache.Add(id)
	return true, nil
}

func (mm *MessageManager) stripe(id protocol.MessageID) *sync.Mutex {
	// Os bytes finais do UUID são aleatórios
	h := binary.BigEndian.Uint32(id[12:])
	return &mm.stripes[h%uint32(len(mm.stripes))]
}

// ValidateMessage retorna ErrExpired se a idade da mensagem passou do TTL.
// Timestamps no futuro contam como idade zero.
func (mm *MessageManager) ValidateMessage(env *protocol.Envelope) error {
	now := mm.clock.Now()
	if env.Expired(now) {
		return fmt.Errorf("%w: idade %s, ttl %s", ErrExpired, env.Age(now).Truncate(time.Millisecond), env.TTL)
	}
	return nil
}

// CheckMessage verifica a assinatura (se houver verificador) e depois a validade
func (mm *MessageManager) CheckMessage(env *protocol.Envelope) error {
	if mm.verifier != nil {
		if err := mm.verifier.Verify(env); err != nil {
			if !errors.Is(err, ErrInvalidSignature) {
				err = fmt.Errorf("%w: %w", ErrInvalidSignature, err)
			}
			return err
		}
	}
	return mm.ValidateMessage(env)
}

// EncryptMessage protege o conteúdo para o destinatário
func (mm *MessageManager) EncryptMessage(content protocol.Content, recipientKey [crypto.KeySize]byte) ([]byte, error) {
	return mm.sealer.Seal(content, recipientKey)
}

// DecryptMessage reverte EncryptMessage. Bytes malformados retornam protocol.ErrDecode.
func (mm *MessageManager) DecryptMessage(data []byte, privateKey [crypto.KeySize]byte) (protocol.Content, error) {
	return mm.sealer.Open(data, privateKey)
}
