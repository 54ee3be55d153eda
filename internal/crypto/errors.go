package crypto

import (
	"errors"
	"fmt"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// Erros de criptografia
var (
	ErrInvalidPublicKey  = errors.New("chave pública inválida")
	ErrInvalidPrivateKey = errors.New("chave privada inválida")
	ErrInvalidSignature  = errors.New("assinatura inválida")
	ErrEncryptionFailed  = errors.New("falha na criptografia")
	// ErrDecryptionFailed também satisfaz errors.Is(err, protocol.ErrDecode)
	ErrDecryptionFailed = fmt.Errorf("%w: falha na descriptografia", protocol.ErrDecode)
)
