package utils

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
)

// Marcadores do primeiro byte de um bloco empacotado
const (
	FlagRaw    byte = 0x00
	FlagLZ4    byte = 0x01
	FlagBrotli byte = 0x02
)

// Algoritmos aceitos por PackWith
const (
	CompressionNone   = "none"
	CompressionLZ4    = "lz4"
	CompressionBrotli = "brotli"
)

// MinCompressSize é o tamanho abaixo do qual não vale a pena comprimir
const MinCompressSize = 100

// ErrCorruptBlock indica um bloco empacotado com marcador desconhecido ou dados inválidos
var ErrCorruptBlock = errors.New("bloco comprimido corrompido")

// CompressData comprime dados usando o algoritmo LZ4
// Retorna os dados comprimidos ou um erro se a compressão falhar
func CompressData(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer

	// Criar writer LZ4 com checksum de conteúdo
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.ChecksumOption(true), lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, err
	}

	if _, err := zw.Write(data); err != nil {
		return nil, err
	}

	// Fechar writer para garantir que todos os dados foram comprimidos
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecompressData descomprime dados comprimidos com LZ4
// Retorna os dados descomprimidos ou um erro se a descompressão falhar
func DecompressData(compressedData []byte) ([]byte, error) {
	if len(compressedData) == 0 {
		return compressedData, nil
	}

	zr := lz4.NewReader(bytes.NewReader(compressedData))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// CompressBrotli comprime com brotli, mais lento que LZ4 e com blocos menores
func CompressBrotli(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressBrotli reverte CompressBrotli
func DecompressBrotli(compressedData []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, brotli.NewReader(bytes.NewReader(compressedData))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ValidCompression verifica o nome do algoritmo
func ValidCompression(algorithm string) error {
	switch algorithm {
	case CompressionNone, CompressionLZ4, CompressionBrotli:
		return nil
	default:
		return fmt.Errorf("algoritmo de compressão desconhecido: %q", algorithm)
	}
}

// Pack empacota com LZ4
func Pack(data []byte) ([]byte, error) {
	return PackWith(CompressionLZ4, data)
}

// PackWith prefixa os dados com um marcador e comprime quando compensa.
// Dados pequenos ou incompressíveis são guardados sem compressão.
func PackWith(algorithm string, data []byte) ([]byte, error) {
	if err := ValidCompression(algorithm); err != nil {
		return nil, err
	}
	if algorithm != CompressionNone && len(data) >= MinCompressSize {
		flag, compress := FlagLZ4, CompressData
		if algorithm == CompressionBrotli {
			flag, compress = FlagBrotli, CompressBrotli
		}
		compressed, err := compress(data)
		if err != nil {
			return nil, err
		}
		// Verificar se a compressão realmente reduziu o tamanho
		if len(compressed) < len(data) {
			return append([]byte{flag}, compressed...), nil
		}
	}
	return append([]byte{FlagRaw}, data...), nil
}

// Unpack reverte Pack
func Unpack(block []byte) ([]byte, error) {
	if len(block) == 0 {
		return nil, ErrCorruptBlock
	}
	switch block[0] {
	case FlagRaw:
		return block[1:], nil
	case FlagLZ4:
		data, err := DecompressData(block[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		return data, nil
	case FlagBrotli:
		data, err := DecompressBrotli(block[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: marcador 0x%02x", ErrCorruptBlock, block[0])
	}
}
