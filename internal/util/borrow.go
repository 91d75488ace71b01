package util

// BorrowCell оборачивает общее значение, к которому скриптовые capability
// обращаются во время тика. Повторный вход (скриптовый вызов пытается
// взять таблицу, которую уже держит вызов выше по стеку) не является
// ошибкой: TryBorrow возвращает false, и вызывающий отдаёт безопасное
// значение по умолчанию. Ячейка не потокобезопасна — весь доступ идёт
// из одной горутины тика.
type BorrowCell[T any] struct {
	value    T
	borrowed bool
}

// NewBorrowCell создаёт ячейку с указанным значением
func NewBorrowCell[T any](value T) *BorrowCell[T] {
	return &BorrowCell[T]{value: value}
}

// TryBorrow пытается взять значение. При успехе вернуть его нужно
// через Release; при неудаче (уже занято) возвращается false.
func (c *BorrowCell[T]) TryBorrow() (T, bool) {
	if c.borrowed {
		var zero T
		return zero, false
	}
	c.borrowed = true
	return c.value, true
}

// Release возвращает ранее взятое значение
func (c *BorrowCell[T]) Release() {
	c.borrowed = false
}

// Set заменяет хранимое значение. Допустимо только между тиками.
func (c *BorrowCell[T]) Set(value T) {
	c.value = value
}
