package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permissionlesstech/disastermesh/internal/crypto"
	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disastermesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Hour, cfg.Messages.DefaultTTL)
	assert.True(t, cfg.Routing.CheckAgeOnRead)
	assert.Equal(t, "binary", cfg.Codec)

	assert.Equal(t, cfg.Routing.MaxAge, cfg.RoutingTableConfig().MaxAge)
	assert.Equal(t, cfg.Messages.LockStripes, cfg.ServiceConfig().LockStripes)
	assert.Equal(t, uint(100_000), cfg.ServiceConfig().BloomExpected)
	assert.Equal(t, uint32(5), cfg.NodeBreakerConfig().FailureThreshold)
	assert.Equal(t, int64(200), cfg.NodeRateLimitConfig().FramesPerSecond)
	assert.Equal(t, 64, cfg.Link.MaxPendingFrames)
	assert.True(t, cfg.MaintenanceServiceConfig().PurgeMessages)
	assert.Equal(t, time.Minute, cfg.RoutingTableConfig().CleanupInterval)
	assert.False(t, cfg.MaintenanceServiceConfig().CleanupRoutes, "rotas ficam com o RouteJanitor")
	assert.Equal(t, filepath.Join("./data", "keys"), cfg.EncryptionConfig().KeysDir)
	assert.IsType(t, crypto.PlainSealer{}, cfg.NewSealer(nil))

	noJanitor := Default()
	noJanitor.Routing.CleanupInterval = 0
	assert.True(t, noJanitor.MaintenanceServiceConfig().CleanupRoutes, "sem RouteJanitor a manutenção limpa as rotas")

	policy, err := cfg.NodePolicy()
	require.NoError(t, err)
	assert.False(t, policy.NoRelay)
	assert.False(t, policy.NoBroadcastRelay)
	assert.Empty(t, policy.Blocked)
}

func TestRelayPolicy(t *testing.T) {
	blocked := protocol.RandomUserID()
	path := writeConfig(t, fmt.Sprintf("relay:\n  broadcast: false\n  blocked_senders: [%s]\n", blocked))

	cfg, err := Load(path)
	require.NoError(t, err)
	policy, err := cfg.NodePolicy()
	require.NoError(t, err)

	assert.False(t, policy.NoRelay, "relay.enabled mantém o padrão")
	assert.True(t, policy.NoBroadcastRelay)
	assert.Equal(t, []protocol.UserID{blocked}, policy.Blocked)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/disastermesh
codec: cbor
sealer: box
routing:
  max_age: 90s
  check_age_on_read: false
messages:
  default_ttl: 30m
  max_hops: 4
storage:
  backend: memory
log:
  level: DEBUG
  format: json
  outputs: [stdout, /tmp/dm.log]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/disastermesh", cfg.DataDir)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, 90*time.Second, cfg.Routing.MaxAge)
	assert.False(t, cfg.Routing.CheckAgeOnRead)
	assert.Equal(t, 30*time.Minute, cfg.Messages.DefaultTTL)
	assert.Equal(t, 4, cfg.Messages.MaxHops)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/tmp/dm.log"}, cfg.Log.Outputs)
	assert.IsType(t, crypto.BoxSealer{}, cfg.NewSealer(nil))

	// Valores não informados mantêm o padrão
	assert.Equal(t, Default().Routing.CleanupInterval, cfg.Routing.CleanupInterval)
	assert.Equal(t, Default().Messages.LockStripes, cfg.Messages.LockStripes)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	t.Setenv("DISASTERMESH_LOG_LEVEL", "warn")
	t.Setenv("DISASTERMESH_ROUTING_MAX_AGE", "2m")
	t.Setenv("DISASTERMESH_DATA_DIR", "/srv/mesh")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2*time.Minute, cfg.Routing.MaxAge)
	assert.Equal(t, "/srv/mesh", cfg.DataDir)
}

func TestLoadEnvConfigPath(t *testing.T) {
	path := writeConfig(t, "codec: cbor\n")
	t.Setenv("DISASTERMESH_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cbor", cfg.Codec)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"nível de log":   "log:\n  level: verbose\n",
		"formato de log": "log:\n  format: xml\n",
		"codec":          "codec: protobuf\n",
		"sealer":         "sealer: rot13\n",
		"backend":        "storage:\n  backend: sqlite\n",
		"saltos":         "messages:\n  max_hops: 0\n",
		"idade máxima":   "routing:\n  max_age: 0s\n",
		"bloqueio":       "relay:\n  blocked_senders: [abc]\n",
		"falso positivo": "messages:\n  bloom_false_positive: 1.5\n",
		"disjuntor":      "breaker:\n  reset_timeout: 0s\n",
		"taxa negativa":  "link:\n  frames_per_second: -1\n",
		"remontagem":     "link:\n  max_pending_frames: 0\n",
		"compressão":     "storage:\n  compression: zstd\n",
		"sem data_dir":   "data_dir: \"\"\nstorage:\n  backend: leveldb\n",
		"yaml inválido":  "routing: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	t.Run("Arquivo inexistente", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nao-existe.yaml"))
		assert.Error(t, err)
	})
}
