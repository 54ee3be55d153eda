// Package logging monta o logger logrus a partir de config.LogConfig.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/permissionlesstech/disastermesh/internal/config"
)

// Setup cria o logger. A função retornada fecha os arquivos abertos.
func Setup(c config.LogConfig) (*logrus.Logger, func() error, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("nível de log inválido: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(c.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("formato de log inválido: %q", c.Format)
	}

	var writers []io.Writer
	var closers []io.Closer
	closeAll := func() error {
		var errs []error
		for _, cl := range closers {
			errs = append(errs, cl.Close())
		}
		return errors.Join(errs...)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			w, err := openFile(out, c.Rotation)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			writers = append(writers, w)
			closers = append(closers, w)
		}
	}

	if len(writers) == 1 {
		logger.SetOutput(writers[0])
	} else {
		logger.SetOutput(io.MultiWriter(writers...))
	}
	return logger, closeAll, nil
}

// openFile abre o arquivo de log, com rotação se habilitada
func openFile(path string, rotation config.RotationConfig) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("erro ao criar diretório de log: %w", err)
		}
	}

	if rotation.Enable {
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(rotation.MaxSizeMB, 10),
			MaxBackups: max(rotation.MaxBackups, 1),
			MaxAge:     max(rotation.MaxAgeDays, 7),
			Compress:   rotation.Compress,
		}, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir arquivo de log: %w", err)
	}
	return f, nil
}
