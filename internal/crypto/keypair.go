package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeySize é o tamanho das chaves X25519
const KeySize = 32

// KeyPair é um par de chaves X25519 para criptografia
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair gera um novo par de chaves X25519 para criptografia
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair

	// Gerar chave privada aleatória
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return KeyPair{}, err
	}

	// Ajustar bits conforme especificação X25519
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	// Derivar chave pública
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// PublicKeyFromPrivate deriva a chave pública X25519
func PublicKeyFromPrivate(private [KeySize]byte) [KeySize]byte {
	var public [KeySize]byte
	curve25519.ScalarBaseMult(&public, &private)
	return public
}

// KeyPairFromBytes monta um par a partir de uma chave privada serializada
func KeyPairFromBytes(private []byte) (KeyPair, error) {
	if len(private) != KeySize {
		return KeyPair{}, ErrInvalidPrivateKey
	}
	var kp KeyPair
	copy(kp.Private[:], private)
	kp.Public = PublicKeyFromPrivate(kp.Private)
	return kp, nil
}
