package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrRecordNotFound возвращается, когда записи гостя нет в хранилище
var ErrRecordNotFound = errors.New("auth: guest record not found")

// GuestRepository — долговечное хранилище записей гостей
type GuestRepository interface {
	// Get возвращает запись по идентификатору пользователя провайдера
	Get(ctx context.Context, providerUserID string) (*GuestRecord, error)
	// Put сохраняет запись (вставка или замена)
	Put(ctx context.Context, record *GuestRecord) error
	// Close освобождает ресурсы хранилища
	Close(ctx context.Context) error
}

// MemoryRepository — хранилище в памяти для тестов и локальной
// разработки
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]GuestRecord
}

// NewMemoryRepository создаёт пустое хранилище в памяти
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]GuestRecord)}
}

func (m *MemoryRepository) Get(_ context.Context, providerUserID string) (*GuestRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[providerUserID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := rec
	return &out, nil
}

func (m *MemoryRepository) Put(_ context.Context, record *GuestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ProviderUserID] = *record
	return nil
}

func (m *MemoryRepository) Close(context.Context) error {
	return nil
}
