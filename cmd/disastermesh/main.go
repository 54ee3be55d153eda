package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/permissionlesstech/disastermesh/internal/config"
	"github.com/permissionlesstech/disastermesh/internal/logging"
	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/internal/service"
	"github.com/permissionlesstech/disastermesh/internal/store"
)

const (
	AppVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "disastermesh",
	Short: "Núcleo de malha para comunicação em desastres",
	Long: `DisasterMesh: roteamento e admissão de mensagens para redes mesh
formadas entre dispositivos próximos quando a infraestrutura cai.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Mostra a versão",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "disastermesh %s (protocolo v%d)\n", AppVersion, protocol.CurrentVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "arquivo de configuração YAML")
	rootCmd.PersistentFlags().String("data-dir", "", "diretório de dados (sobrescreve a configuração)")
	rootCmd.PersistentFlags().String("log-level", "", "nível de log: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd, previewCmd, simulateCmd)
}

// loadConfig aplica as flags globais sobre a configuração carregada
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, cfg.Validate()
}

// setup carrega configuração e logger
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closeLog, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closeLog, nil
}

// openMessageStore abre o armazenamento configurado
func openMessageStore(cfg *config.Config, codec protocol.Codec, logger logrus.FieldLogger) (*store.MessageStore, error) {
	var kv store.KV
	switch cfg.Storage.Backend {
	case "memory":
		kv = store.NewMemoryKV()
	case "leveldb":
		level, err := store.OpenLevel(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", level.Path()).Debug("LevelDB aberto")
		kv = level
	default:
		bolt, err := store.OpenBolt(cfg.DataDir, store.BucketMessages, store.BucketSeen)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", bolt.Path()).Debug("Banco aberto")
		kv = bolt
	}
	ms := store.NewMessageStore(kv, codec, logger)
	if err := ms.SetCompression(cfg.Storage.Compression); err != nil {
		ms.Close()
		return nil, err
	}
	return ms, nil
}

// newManager monta o MessageManager a partir da configuração
func newManager(cfg *config.Config, ms *store.MessageStore, codec protocol.Codec, logger logrus.FieldLogger, opts ...service.Option) *service.MessageManager {
	opts = append([]service.Option{
		service.WithLogger(logger),
		service.WithSealer(cfg.NewSealer(codec)),
	}, opts...)
	return service.NewMessageManager(ms, cfg.ServiceConfig(), opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
