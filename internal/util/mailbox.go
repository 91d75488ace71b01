package util

import "sync"

// Mailbox — неограниченная очередь «много писателей, один читатель».
// Сетевые горутины и фоновые задачи кладут сообщения через Push,
// а единственный владелец (тик кондуктора) забирает всё разом через Drain.
// Push никогда не блокирует, поэтому мёртвый получатель не тормозит
// отправителей.
type Mailbox[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewMailbox создаёт пустую очередь
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Push добавляет сообщение в конец очереди
func (m *Mailbox[T]) Push(item T) {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()
}

// Drain забирает все накопленные сообщения, сохраняя порядок поступления.
// Возвращает nil, если очередь пуста.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	return items
}

// Len возвращает текущее количество сообщений
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
