package service

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
	"github.com/permissionlesstech/disastermesh/internal/store"
)

// knownFilter responde "nunca visto" sem consultar o armazenamento.
// Só reflete gravações feitas pelo MessageManager, por isso é carregado do
// armazenamento na criação e atualizado a cada id registrado.
// Um filtro nil trata todo id como possivelmente conhecido.
type knownFilter struct {
	mutex  sync.RWMutex
	filter *bloom.BloomFilter
}

func newKnownFilter(ms *store.MessageStore, expected uint, falsePositive float64) (*knownFilter, error) {
	f := bloom.NewWithEstimates(expected, falsePositive)
	err := ms.ForEachKnownID(func(id protocol.MessageID) error {
		f.Add(id[:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &knownFilter{filter: f}, nil
}

func (k *knownFilter) add(id protocol.MessageID) {
	if k == nil {
		return
	}
	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.filter.Add(id[:])
}

func (k *knownFilter) mayContain(id protocol.MessageID) bool {
	if k == nil {
		return true
	}
	k.mutex.RLock()
	defer k.mutex.RUnlock()
	return k.filter.Test(id[:])
}
