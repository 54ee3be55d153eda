package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// Arquivos de chaves dentro de KeysDir
const (
	identityKeyFile   = "identity_key"
	encryptionKeyFile = "encryption_key"
)

// Identity reúne as chaves do nó local.
// O UserID é a própria chave pública Ed25519 de assinatura.
type Identity struct {
	SigningKey ed25519.PrivateKey
	Encryption KeyPair
}

// NewIdentity gera uma identidade efêmera
func NewIdentity() (*Identity, error) {
	_, signing, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Identity{SigningKey: signing, Encryption: kp}, nil
}

// LoadIdentity carrega as chaves de KeysDir, criando-as na primeira execução
func LoadIdentity(config EncryptionConfig) (*Identity, error) {
	if config.UseEphemeralOnly || config.KeysDir == "" {
		return NewIdentity()
	}

	// Criar diretório de chaves se não existir
	if err := os.MkdirAll(config.KeysDir, 0700); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório de chaves: %w", err)
	}

	signingPath := filepath.Join(config.KeysDir, identityKeyFile)
	encryptionPath := filepath.Join(config.KeysDir, encryptionKeyFile)

	signing, errSigning := os.ReadFile(signingPath)
	encryption, errEncryption := os.ReadFile(encryptionPath)
	if errors.Is(errSigning, os.ErrNotExist) && errors.Is(errEncryption, os.ErrNotExist) {
		// Primeira execução
		id, err := NewIdentity()
		if err != nil {
			return nil, err
		}
		if err := id.save(config.KeysDir); err != nil {
			return nil, fmt.Errorf("falha ao salvar chaves: %w", err)
		}
		return id, nil
	}
	if err := errors.Join(errSigning, errEncryption); err != nil {
		return nil, fmt.Errorf("falha ao ler chaves: %w", err)
	}

	if len(signing) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrivateKey, signingPath)
	}
	kp, err := KeyPairFromBytes(encryption)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, encryptionPath)
	}
	return &Identity{SigningKey: ed25519.PrivateKey(signing), Encryption: kp}, nil
}

func (id *Identity) save(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, identityKeyFile), id.SigningKey, 0600); err != nil {
		return fmt.Errorf("falha ao salvar chave de identidade: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, encryptionKeyFile), id.Encryption.Private[:], 0600); err != nil {
		return fmt.Errorf("falha ao salvar chave de criptografia: %w", err)
	}
	return nil
}

// UserID retorna o identificador do usuário local
func (id *Identity) UserID() protocol.UserID {
	var user protocol.UserID
	copy(user[:], id.SigningKey.Public().(ed25519.PublicKey))
	return user
}

// Sign assina o envelope com a chave de identidade
func (id *Identity) Sign(env *protocol.Envelope) error {
	return SignEnvelope(env, id.SigningKey)
}
