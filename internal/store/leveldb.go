package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDir é o subdiretório do LevelDB dentro do diretório de dados
const LevelDir = "leveldb"

// LevelKV implementa KV sobre goleveldb.
// O LevelDB não tem buckets: cada chave é gravada como bucket + 0x00 + chave.
type LevelKV struct {
	db   *leveldb.DB
	path string
}

// OpenLevel abre (ou cria) o banco em dataDir/leveldb.
// Um banco corrompido é recuperado antes de desistir.
func OpenLevel(dataDir string) (*LevelKV, error) {
	path := filepath.Join(dataDir, LevelDir)
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, storageError("criar diretório de dados", err)
	}

	db, err := leveldb.OpenFile(path, &opt.Options{OpenFilesCacheCapacity: 16})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, storageError("abrir leveldb", err)
	}
	return &LevelKV{db: db, path: path}, nil
}

// NewMemoryLevel cria um LevelDB sem arquivos, útil em testes
func NewMemoryLevel() (*LevelKV, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, storageError("abrir leveldb em memória", err)
	}
	return &LevelKV{db: db}, nil
}

// Path retorna o diretório do banco (vazio em memória)
func (l *LevelKV) Path() string {
	return l.path
}

func levelPrefix(bucket string) []byte {
	return append([]byte(bucket), 0x00)
}

func levelKey(bucket string, key []byte) []byte {
	return append(levelPrefix(bucket), key...)
}

func (l *LevelKV) Put(bucket string, key, value []byte) error {
	return storageError(fmt.Sprintf("gravar em %s", bucket), l.db.Put(levelKey(bucket, key), value, nil))
}

func (l *LevelKV) Get(bucket string, key []byte) ([]byte, error) {
	value, err := l.db.Get(levelKey(bucket, key), nil)
	switch err {
	case nil:
		return value, nil
	case leveldb.ErrNotFound:
		return nil, nil
	default:
		return nil, storageError(fmt.Sprintf("ler de %s", bucket), err)
	}
}

func (l *LevelKV) Contains(bucket string, key []byte) (bool, error) {
	found, err := l.db.Has(levelKey(bucket, key), nil)
	if err != nil {
		return false, storageError(fmt.Sprintf("consultar %s", bucket), err)
	}
	return found, nil
}

func (l *LevelKV) Delete(bucket string, key []byte) error {
	return storageError(fmt.Sprintf("remover de %s", bucket), l.db.Delete(levelKey(bucket, key), nil))
}

func (l *LevelKV) ForEach(bucket string, fn func(key, value []byte) error) error {
	prefix := levelPrefix(bucket)
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		// Key e Value só valem até o próximo Next
		key := bytes.Clone(iter.Key()[len(prefix):])
		if err := fn(key, bytes.Clone(iter.Value())); err != nil {
			return err
		}
	}
	return storageError(fmt.Sprintf("percorrer %s", bucket), iter.Error())
}

// Close fecha o banco
func (l *LevelKV) Close() error {
	return storageError("fechar leveldb", l.db.Close())
}
