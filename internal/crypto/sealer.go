package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// Sealer protege o conteúdo de uma mensagem para um destinatário
type Sealer interface {
	Seal(content protocol.Content, recipientKey [KeySize]byte) ([]byte, error)
	Open(data []byte, privateKey [KeySize]byte) (protocol.Content, error)
}

// PlainSealer apenas serializa o conteúdo, sem confidencialidade.
// Mantém o formato de fio enquanto não há distribuição de chaves.
type PlainSealer struct {
	Codec protocol.Codec
}

func (s PlainSealer) codec() protocol.Codec {
	if s.Codec == nil {
		return protocol.BinaryCodec{}
	}
	return s.Codec
}

func (s PlainSealer) Seal(content protocol.Content, _ [KeySize]byte) ([]byte, error) {
	return s.codec().EncodeContent(content)
}

func (s PlainSealer) Open(data []byte, _ [KeySize]byte) (protocol.Content, error) {
	return s.codec().DecodeContent(data)
}

// BoxSealer cifra o conteúdo com NaCl box anônima (X25519 + XSalsa20-Poly1305).
// O remetente usa uma chave efêmera, então só o destinatário consegue abrir.
type BoxSealer struct {
	Codec protocol.Codec
}

func (s BoxSealer) codec() protocol.Codec {
	if s.Codec == nil {
		return protocol.BinaryCodec{}
	}
	return s.Codec
}

func (s BoxSealer) Seal(content protocol.Content, recipientKey [KeySize]byte) ([]byte, error) {
	plaintext, err := s.codec().EncodeContent(content)
	if err != nil {
		return nil, err
	}
	sealed, err := box.SealAnonymous(nil, plaintext, &recipientKey, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	return sealed, nil
}

func (s BoxSealer) Open(data []byte, privateKey [KeySize]byte) (protocol.Content, error) {
	publicKey := PublicKeyFromPrivate(privateKey)
	plaintext, ok := box.OpenAnonymous(nil, data, &publicKey, &privateKey)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return s.codec().DecodeContent(plaintext)
}
