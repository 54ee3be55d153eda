package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// SignEnvelope assina o envelope com a chave de identidade
func SignEnvelope(env *protocol.Envelope, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return ErrInvalidPrivateKey
	}
	env.Signature = ed25519.Sign(key, env.SignedBytes())
	return nil
}

// KeyLookup resolve a chave pública de assinatura de um usuário
type KeyLookup func(user protocol.UserID) (ed25519.PublicKey, bool)

// SenderIsKey trata o UserID como a própria chave pública Ed25519
func SenderIsKey(user protocol.UserID) (ed25519.PublicKey, bool) {
	return ed25519.PublicKey(user[:]), true
}

// Ed25519Verifier verifica assinaturas de envelopes
type Ed25519Verifier struct {
	Lookup KeyLookup
}

// NewEd25519Verifier cria um verificador. lookup nil usa SenderIsKey.
func NewEd25519Verifier(lookup KeyLookup) *Ed25519Verifier {
	if lookup == nil {
		lookup = SenderIsKey
	}
	return &Ed25519Verifier{Lookup: lookup}
}

// Verify retorna ErrInvalidSignature se a assinatura não confere
func (v *Ed25519Verifier) Verify(env *protocol.Envelope) error {
	key, ok := v.Lookup(env.Sender)
	if !ok {
		return fmt.Errorf("%w: remetente %s desconhecido", ErrInvalidSignature, env.Sender.Short())
	}
	if len(key) != ed25519.PublicKeySize || len(env.Signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(key, env.SignedBytes(), env.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
