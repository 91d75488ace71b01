package util

import (
	"sync"
	"time"
)

// IDGenerator выдаёт монотонно возрастающие 64-битные идентификаторы
// в стиле snowflake: 42 бита времени (мс) | 10 бит вида | 12 бит счётчика.
// Для каждого вида сущностей (акторы, игровые сущности, инстансы)
// создаётся свой генератор, поэтому идентификаторы разных видов
// не пересекаются.
type IDGenerator struct {
	mu       sync.Mutex
	kind     uint64 // идентификатор вида (0..1023)
	lastMs   int64
	sequence uint64
}

const (
	idKindBits     = 10
	idSequenceBits = 12
	idSequenceMask = (1 << idSequenceBits) - 1
	idEpochMs      = 1700000000000 // 2023-11-14, начало отсчёта
)

// NewIDGenerator создаёт генератор для указанного вида
func NewIDGenerator(kind uint64) *IDGenerator {
	return &IDGenerator{kind: kind & ((1 << idKindBits) - 1)}
}

// Next возвращает следующий идентификатор.
// Монотонность гарантируется даже при откате системных часов:
// lastMs никогда не уменьшается.
func (g *IDGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli() - idEpochMs
	if now < g.lastMs {
		now = g.lastMs
	}

	if now == g.lastMs {
		g.sequence = (g.sequence + 1) & idSequenceMask
		if g.sequence == 0 {
			// Переполнение счётчика в пределах миллисекунды
			g.lastMs++
			now = g.lastMs
		}
	} else {
		g.sequence = 0
		g.lastMs = now
	}

	return uint64(now)<<(idKindBits+idSequenceBits) | g.kind<<idSequenceBits | g.sequence
}

// Виды генераторов, используемые в процессе
const (
	IDKindActor    = 1
	IDKindInstance = 2
	IDKindEntity   = 3
)
