// Package config carrega a configuração do nó a partir de YAML e variáveis de ambiente.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/permissionlesstech/disastermesh/internal/crypto"
	"github.com/permissionlesstech/disastermesh/internal/node"
	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/internal/service"
	"github.com/permissionlesstech/disastermesh/pkg/mesh"
	"github.com/permissionlesstech/disastermesh/pkg/utils"
)

// EnvPrefix é o prefixo das variáveis de ambiente, ex.: DISASTERMESH_LOG_LEVEL=debug
const EnvPrefix = "DISASTERMESH"

// Config é a configuração raiz
type Config struct {
	// DataDir é o diretório base para dados persistentes
	DataDir string `mapstructure:"data_dir"`

	// Codec de fio: binary ou cbor
	Codec string `mapstructure:"codec"`

	// Sealer de conteúdo: plain ou box
	Sealer string `mapstructure:"sealer"`

	Routing     RoutingConfig     `mapstructure:"routing"`
	Messages    MessagesConfig    `mapstructure:"messages"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Link        LinkConfig        `mapstructure:"link"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Log         LogConfig         `mapstructure:"log"`
}

type RoutingConfig struct {
	MaxAge          time.Duration `mapstructure:"max_age"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CheckAgeOnRead  bool          `mapstructure:"check_age_on_read"`
}

type MessagesConfig struct {
	DefaultTTL       time.Duration `mapstructure:"default_ttl"`
	SeenCacheTTL     time.Duration `mapstructure:"seen_cache_ttl"`
	SeenCacheCleanup time.Duration `mapstructure:"seen_cache_cleanup"`
	LockStripes      int           `mapstructure:"lock_stripes"`
	MaxHops          int           `mapstructure:"max_hops"`

	// BloomExpected = 0 desativa o filtro de ids na frente do armazenamento
	BloomExpected      uint    `mapstructure:"bloom_expected"`
	BloomFalsePositive float64 `mapstructure:"bloom_false_positive"`
}

// RelayConfig controla o repasse de mensagens de terceiros
type RelayConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Broadcast bool `mapstructure:"broadcast"`

	// BlockedSenders são UserIDs em hexadecimal
	BlockedSenders []string `mapstructure:"blocked_senders"`
}

// BreakerConfig controla o disjuntor por vizinho (failure_threshold 0 desativa)
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// LinkConfig controla o tratamento de quadros de cada vizinho
type LinkConfig struct {
	// FramesPerSecond = 0 desativa o limite de taxa
	FramesPerSecond   int64         `mapstructure:"frames_per_second"`
	Burst             int64         `mapstructure:"burst"`
	ReassemblyTimeout time.Duration `mapstructure:"reassembly_timeout"`
	MaxPendingFrames  int           `mapstructure:"max_pending_frames"`
}

type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// StorageConfig escolhe o backend: bolt ou leveldb (arquivos em DataDir) ou memory
type StorageConfig struct {
	Backend string `mapstructure:"backend"`

	// Compression: none, lz4 ou brotli
	Compression string `mapstructure:"compression"`
}

type IdentityConfig struct {
	// KeysDir vazio usa DataDir/keys
	KeysDir   string `mapstructure:"keys_dir"`
	Ephemeral bool   `mapstructure:"ephemeral"`
}

// LogConfig define o logger
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text ou json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr ou caminhos de arquivo
	Outputs  []string       `mapstructure:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controla a rotação dos arquivos de log
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default retorna a configuração padrão
func Default() *Config {
	routing := mesh.DefaultRoutingConfig()
	messages := service.DefaultConfig()
	return &Config{
		DataDir: "./data",
		Codec:   protocol.CodecBinary,
		Sealer:  "plain",
		Routing: RoutingConfig{
			MaxAge:          routing.MaxAge,
			CleanupInterval: routing.CleanupInterval,
			CheckAgeOnRead:  routing.CheckAgeOnRead,
		},
		Messages: MessagesConfig{
			DefaultTTL:         messages.DefaultTTL,
			SeenCacheTTL:       messages.SeenCacheTTL,
			SeenCacheCleanup:   messages.SeenCacheCleanup,
			LockStripes:        messages.LockStripes,
			MaxHops:            7,
			BloomExpected:      100_000,
			BloomFalsePositive: 0.001,
		},
		Relay:       RelayConfig{Enabled: true, Broadcast: true},
		Breaker:     BreakerConfig(node.DefaultBreakerConfig()),
		Maintenance: MaintenanceConfig{Interval: service.DefaultMaintenanceConfig().Interval},
		Storage:     StorageConfig{Backend: "bolt", Compression: utils.CompressionLZ4},
		Link: LinkConfig{
			FramesPerSecond:   node.DefaultRateLimitConfig().FramesPerSecond,
			Burst:             node.DefaultRateLimitConfig().Burst,
			ReassemblyTimeout: node.DefaultReassemblyTimeout,
			MaxPendingFrames:  node.DefaultMaxPendingFrames,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load lê a configuração de path (se não vazio), senão procura disastermesh.yaml
// em locais comuns. Variáveis de ambiente sobrescrevem o arquivo.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("disastermesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".disastermesh"))
		}
	}

	// Arquivo ausente não é erro: seguem padrões e ambiente
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("erro ao ler configuração: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("erro ao decodificar configuração: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registra os padrões no viper para que configurações só por ambiente funcionem
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("sealer", cfg.Sealer)
	v.SetDefault("routing.max_age", cfg.Routing.MaxAge)
	v.SetDefault("routing.cleanup_interval", cfg.Routing.CleanupInterval)
	v.SetDefault("routing.check_age_on_read", cfg.Routing.CheckAgeOnRead)
	v.SetDefault("messages.default_ttl", cfg.Messages.DefaultTTL)
	v.SetDefault("messages.seen_cache_ttl", cfg.Messages.SeenCacheTTL)
	v.SetDefault("messages.seen_cache_cleanup", cfg.Messages.SeenCacheCleanup)
	v.SetDefault("messages.lock_stripes", cfg.Messages.LockStripes)
	v.SetDefault("messages.max_hops", cfg.Messages.MaxHops)
	v.SetDefault("messages.bloom_expected", cfg.Messages.BloomExpected)
	v.SetDefault("messages.bloom_false_positive", cfg.Messages.BloomFalsePositive)
	v.SetDefault("relay.enabled", cfg.Relay.Enabled)
	v.SetDefault("relay.broadcast", cfg.Relay.Broadcast)
	v.SetDefault("relay.blocked_senders", cfg.Relay.BlockedSenders)
	v.SetDefault("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.SetDefault("breaker.reset_timeout", cfg.Breaker.ResetTimeout)
	v.SetDefault("link.frames_per_second", cfg.Link.FramesPerSecond)
	v.SetDefault("link.burst", cfg.Link.Burst)
	v.SetDefault("link.reassembly_timeout", cfg.Link.ReassemblyTimeout)
	v.SetDefault("link.max_pending_frames", cfg.Link.MaxPendingFrames)
	v.SetDefault("maintenance.interval", cfg.Maintenance.Interval)
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.compression", cfg.Storage.Compression)
	v.SetDefault("identity.keys_dir", cfg.Identity.KeysDir)
	v.SetDefault("identity.ephemeral", cfg.Identity.Ephemeral)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

// Validate normaliza e verifica a configuração
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level inválido: %q", c.Log.Level)
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format inválido: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	c.Codec = strings.ToLower(strings.TrimSpace(c.Codec))
	if _, err := protocol.NewCodec(c.Codec); err != nil {
		return fmt.Errorf("codec inválido: %w", err)
	}

	switch c.Sealer {
	case "plain", "box":
	default:
		return fmt.Errorf("sealer inválido: %q", c.Sealer)
	}

	switch c.Storage.Backend {
	case "bolt", "leveldb", "memory":
	default:
		return fmt.Errorf("storage.backend inválido: %q", c.Storage.Backend)
	}
	if err := utils.ValidCompression(c.Storage.Compression); err != nil {
		return fmt.Errorf("storage.compression: %w", err)
	}
	if c.Storage.Backend != "memory" && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir é obrigatório com storage.backend=%s", c.Storage.Backend)
	}

	if c.Routing.MaxAge <= 0 {
		return fmt.Errorf("routing.max_age deve ser positivo: %s", c.Routing.MaxAge)
	}
	if c.Messages.DefaultTTL <= 0 {
		return fmt.Errorf("messages.default_ttl deve ser positivo: %s", c.Messages.DefaultTTL)
	}
	if c.Messages.BloomFalsePositive < 0 || c.Messages.BloomFalsePositive >= 1 {
		return fmt.Errorf("messages.bloom_false_positive fora do intervalo [0, 1): %v", c.Messages.BloomFalsePositive)
	}
	if c.Messages.MaxHops < 1 || c.Messages.MaxHops > 255 {
		return fmt.Errorf("messages.max_hops fora do intervalo 1..255: %d", c.Messages.MaxHops)
	}
	if c.Breaker.FailureThreshold > 0 && c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout deve ser positivo: %s", c.Breaker.ResetTimeout)
	}
	if c.Link.FramesPerSecond < 0 || c.Link.Burst < 0 {
		return fmt.Errorf("link: limite de taxa negativo: %d/%d", c.Link.FramesPerSecond, c.Link.Burst)
	}
	if c.Link.ReassemblyTimeout <= 0 || c.Link.MaxPendingFrames <= 0 {
		return errors.New("link.reassembly_timeout e link.max_pending_frames devem ser positivos")
	}
	if _, err := c.NodePolicy(); err != nil {
		return err
	}
	return nil
}

// RoutingTableConfig converte para mesh.RoutingConfig
func (c *Config) RoutingTableConfig() mesh.RoutingConfig {
	return mesh.RoutingConfig{
		MaxAge:          c.Routing.MaxAge,
		CleanupInterval: c.Routing.CleanupInterval,
		CheckAgeOnRead:  c.Routing.CheckAgeOnRead,
	}
}

// ServiceConfig converte para service.Config
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		DefaultTTL:         c.Messages.DefaultTTL,
		SeenCacheTTL:       c.Messages.SeenCacheTTL,
		SeenCacheCleanup:   c.Messages.SeenCacheCleanup,
		LockStripes:        c.Messages.LockStripes,
		BloomExpected:      c.Messages.BloomExpected,
		BloomFalsePositive: c.Messages.BloomFalsePositive,
	}
}

// MaintenanceServiceConfig converte para service.MaintenanceConfig
func (c *Config) MaintenanceServiceConfig() service.MaintenanceConfig {
	// Com routing.cleanup_interval ativo as rotas ficam com o RouteJanitor do nó
	return service.MaintenanceConfig{
		Interval:      c.Maintenance.Interval,
		CleanupRoutes: c.Routing.CleanupInterval <= 0,
		PurgeMessages: true,
	}
}

// NodePolicy converte a seção relay para node.Policy
func (c *Config) NodePolicy() (node.Policy, error) {
	policy := node.Policy{
		NoRelay:          !c.Relay.Enabled,
		NoBroadcastRelay: !c.Relay.Broadcast,
	}
	for _, s := range c.Relay.BlockedSenders {
		user, err := protocol.ParseUserID(strings.TrimSpace(s))
		if err != nil {
			return node.Policy{}, fmt.Errorf("relay.blocked_senders: %w", err)
		}
		policy.Blocked = append(policy.Blocked, user)
	}
	return policy, nil
}

// NodeBreakerConfig converte para node.BreakerConfig
func (c *Config) NodeBreakerConfig() node.BreakerConfig {
	return node.BreakerConfig(c.Breaker)
}

// NodeRateLimitConfig converte link.* para node.RateLimitConfig
func (c *Config) NodeRateLimitConfig() node.RateLimitConfig {
	return node.RateLimitConfig{FramesPerSecond: c.Link.FramesPerSecond, Burst: c.Link.Burst}
}

// EncryptionConfig converte para crypto.EncryptionConfig
func (c *Config) EncryptionConfig() crypto.EncryptionConfig {
	keysDir := c.Identity.KeysDir
	if keysDir == "" && c.DataDir != "" {
		keysDir = filepath.Join(c.DataDir, "keys")
	}
	return crypto.EncryptionConfig{KeysDir: keysDir, UseEphemeralOnly: c.Identity.Ephemeral}
}

// NewSealer cria o Sealer configurado
func (c *Config) NewSealer(codec protocol.Codec) crypto.Sealer {
	if c.Sealer == "box" {
		return crypto.BoxSealer{Codec: codec}
	}
	return crypto.PlainSealer{Codec: codec}
}
