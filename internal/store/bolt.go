package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DatabaseFile é o nome do arquivo bbolt dentro do diretório de dados
const DatabaseFile = "disastermesh.db"

// BoltKV implementa KV sobre bbolt. Cada operação é uma transação.
type BoltKV struct {
	db *bolt.DB
}

// OpenBolt abre (ou cria) o banco em dataDir e garante os buckets informados
func OpenBolt(dataDir string, buckets ...string) (*BoltKV, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, storageError("criar diretório de dados", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, DatabaseFile), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, storageError("abrir banco", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, storageError("criar buckets", err)
	}
	return &BoltKV{db: db}, nil
}

// Path retorna o caminho do arquivo do banco
func (b *BoltKV) Path() string {
	return b.db.Path()
}

func (b *BoltKV) Put(bucket string, key, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return bkt.Put(key, value)
	})
	return storageError(fmt.Sprintf("gravar em %s", bucket), err)
}

func (b *BoltKV) Get(bucket string, key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		// Valores do bbolt só são válidos dentro da transação
		if data := bkt.Get(key); data != nil {
			value = bytes.Clone(data)
		}
		return nil
	})
	if err != nil {
		return nil, storageError(fmt.Sprintf("ler de %s", bucket), err)
	}
	return value, nil
}

func (b *BoltKV) Contains(bucket string, key []byte) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		if bkt := tx.Bucket([]byte(bucket)); bkt != nil {
			found = bkt.Get(key) != nil
		}
		return nil
	})
	if err != nil {
		return false, storageError(fmt.Sprintf("consultar %s", bucket), err)
	}
	return found, nil
}

func (b *BoltKV) Delete(bucket string, key []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.Delete(key)
	})
	return storageError(fmt.Sprintf("remover de %s", bucket), err)
}

func (b *BoltKV) ForEach(bucket string, fn func(key, value []byte) error) error {
	// Erros de fn são repassados sem virar ErrStorage
	var fnErr error
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			fnErr = fn(bytes.Clone(k), bytes.Clone(v))
			return fnErr
		})
	})
	if fnErr != nil {
		return fnErr
	}
	return storageError(fmt.Sprintf("percorrer %s", bucket), err)
}

// Close fecha o banco
func (b *BoltKV) Close() error {
	return storageError("fechar banco", b.db.Close())
}
