package session

import (
	"sort"
	"sync"
)

// Registry 是进程级的会话存储：每个用户至多一个钱包会话和一个跟单会话。
// 写操作通过 per-user、per-条目的互斥锁串行化：同一用户的钱包会话
// 与跟单会话各有一把锁，可以在持有钱包锁时更新跟单会话；
// 不同用户之间互不阻塞。
type Registry struct {
	mu          sync.RWMutex
	wallets     map[int64]*Wallet
	copies      map[int64]*CopyTrade
	walletLocks map[int64]*sync.Mutex
	copyLocks   map[int64]*sync.Mutex
}

// NewRegistry 创建空的会话注册表。
func NewRegistry() *Registry {
	return &Registry{
		wallets:     make(map[int64]*Wallet),
		copies:      make(map[int64]*CopyTrade),
		walletLocks: make(map[int64]*sync.Mutex),
		copyLocks:   make(map[int64]*sync.Mutex),
	}
}

// lockFor 返回指定用户在某张锁表中的互斥锁，按需创建。
func (r *Registry) lockFor(locks map[int64]*sync.Mutex, userID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		locks[userID] = lock
	}
	return lock
}

// WithWallet 在该用户的锁内执行 fn。会话不存在时先创建空会话，
// fn 返回 false 时删除该用户的钱包会话。
func (r *Registry) WithWallet(userID int64, fn func(w *Wallet) bool) {
	lock := r.lockFor(r.walletLocks, userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	w, ok := r.wallets[userID]
	if !ok {
		w = &Wallet{UserID: userID}
		r.wallets[userID] = w
	}
	r.mu.Unlock()

	if !fn(w) {
		r.mu.Lock()
		delete(r.wallets, userID)
		r.mu.Unlock()
	}
}

// Wallet 返回用户钱包会话的快照拷贝。第二个返回值为 false 表示不存在。
// 读取同样要过该用户的锁，避免与 WithWallet 中的写并发。
func (r *Registry) Wallet(userID int64) (*Wallet, bool) {
	lock := r.lockFor(r.walletLocks, userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	w, ok := r.wallets[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// DeleteWallet 删除用户的钱包会话。
func (r *Registry) DeleteWallet(userID int64) {
	lock := r.lockFor(r.walletLocks, userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	delete(r.wallets, userID)
	r.mu.Unlock()
}

// WithCopyTrade 在该用户的锁内执行 fn。会话不存在时先创建，
// fn 返回 false 时删除该用户的跟单会话。
func (r *Registry) WithCopyTrade(userID int64, fn func(c *CopyTrade) bool) {
	lock := r.lockFor(r.copyLocks, userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	c, ok := r.copies[userID]
	if !ok {
		c = &CopyTrade{UserID: userID}
		r.copies[userID] = c
	}
	r.mu.Unlock()

	if !fn(c) {
		r.mu.Lock()
		delete(r.copies, userID)
		r.mu.Unlock()
	}
}

// CopyTrade 返回用户跟单会话的快照拷贝。
func (r *Registry) CopyTrade(userID int64) (*CopyTrade, bool) {
	lock := r.lockFor(r.copyLocks, userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	c, ok := r.copies[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// ActiveCopyTrades 返回所有处于激活状态的跟单会话的快照副本，
// 按用户 ID 排序，供监听器在一次 tick 内遍历。
// 逐用户取锁拷贝，不与任何用户的配置写入并发。
func (r *Registry) ActiveCopyTrades() []*CopyTrade {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.copies))
	for id := range r.copies {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snapshot := make([]*CopyTrade, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.CopyTrade(id); ok && c.Active {
			snapshot = append(snapshot, c)
		}
	}
	return snapshot
}
