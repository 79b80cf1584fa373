package points

import "sync"

// TenantLocker сериализует чтение-изменение-запись данных одного арендатора.
// Разные арендаторы не блокируют друг друга.
type TenantLocker struct {
	mu    sync.Mutex
	byKey map[string]*sync.Mutex
}

func NewTenantLocker() *TenantLocker {
	return &TenantLocker{byKey: make(map[string]*sync.Mutex)}
}

func (l *TenantLocker) Lock(tenant string) func() {
	l.mu.Lock()
	m, ok := l.byKey[tenant]
	if !ok {
		m = &sync.Mutex{}
		l.byKey[tenant] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() { m.Unlock() }
}
