package store

import (
	"errors"
	"fmt"
)

// Namespaces usados pelo núcleo
const (
	BucketMessages = "messages"
	BucketSeen     = "seen"
)

var (
	// ErrStorage indica falha de E/S no armazenamento subjacente
	ErrStorage = errors.New("falha de armazenamento")
	// ErrClosed indica uso do armazenamento depois de Close
	ErrClosed = fmt.Errorf("%w: armazenamento fechado", ErrStorage)
)

// KV é um armazenamento chave-valor com namespaces (buckets).
// Get retorna (nil, nil) quando a chave não existe.
// Toda falha retornada satisfaz errors.Is(err, ErrStorage).
type KV interface {
	Put(bucket string, key, value []byte) error
	Get(bucket string, key []byte) ([]byte, error)
	Contains(bucket string, key []byte) (bool, error)
	Delete(bucket string, key []byte) error
	// ForEach percorre o bucket em ordem de chave. fn não deve modificar o KV.
	ForEach(bucket string, fn func(key, value []byte) error) error
	Close() error
}

func storageError(op string, err error) error {
	if err == nil || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
