package node

import (
	"sync"

	"github.com/permissionlesstech/disastermesh/internal/protocol"
)

// Policy controla o que o nó aceita e repassa
type Policy struct {
	// NoRelay desativa o repasse; o nó só entrega o que é para ele
	NoRelay bool
	// NoBroadcastRelay entrega broadcasts localmente sem repassá-los
	NoBroadcastRelay bool
	// Blocked são remetentes cujas mensagens são ignoradas em silêncio
	Blocked []protocol.UserID
}

type blocklist struct {
	mutex sync.RWMutex
	users map[protocol.UserID]struct{}
}

func newBlocklist(users []protocol.UserID) *blocklist {
	b := &blocklist{users: make(map[protocol.UserID]struct{}, len(users))}
	for _, u := range users {
		b.users[u] = struct{}{}
	}
	return b
}

func (b *blocklist) contains(user protocol.UserID) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	_, ok := b.users[user]
	return ok
}

// BlockUser passa a ignorar mensagens do remetente
func (n *Node) BlockUser(user protocol.UserID) {
	n.blocked.mutex.Lock()
	defer n.blocked.mutex.Unlock()
	n.blocked.users[user] = struct{}{}
}

// UnblockUser remove o remetente da lista de bloqueados
func (n *Node) UnblockUser(user protocol.UserID) {
	n.blocked.mutex.Lock()
	defer n.blocked.mutex.Unlock()
	delete(n.blocked.users, user)
}

// IsBlocked verifica se um remetente está bloqueado
func (n *Node) IsBlocked(user protocol.UserID) bool {
	return n.blocked.contains(user)
}

// BlockedUsers retorna a lista de remetentes bloqueados
func (n *Node) BlockedUsers() []protocol.UserID {
	n.blocked.mutex.RLock()
	defer n.blocked.mutex.RUnlock()

	result := make([]protocol.UserID, 0, len(n.blocked.users))
	for user := range n.blocked.users {
		result = append(result, user)
	}
	return result
}

// shouldRelay aplica a política de repasse
func (n *Node) shouldRelay(env *protocol.Envelope) bool {
	if n.cfg.Policy.NoRelay {
		return false
	}
	return !(env.IsBroadcast() && n.cfg.Policy.NoBroadcastRelay)
}
