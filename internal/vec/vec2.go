package vec

import "math"

// Vec2 представляет целочисленные 2D координаты (тайлы, ячейки чанков)
type Vec2 struct {
	X, Y int
}

// ToChunkCoords преобразует координаты тайла в координаты чанка
// при указанном размере чанка (в тайлах)
func (v Vec2) ToChunkCoords(chunkSize int) Vec2 {
	return Vec2{X: floorDiv(v.X, chunkSize), Y: floorDiv(v.Y, chunkSize)}
}

// LocalInChunk возвращает локальные координаты тайла внутри чанка
func (v Vec2) LocalInChunk(chunkSize int) Vec2 {
	return Vec2{X: mod(v.X, chunkSize), Y: mod(v.Y, chunkSize)}
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// floorDiv целочисленное деление с округлением вниз (для отрицательных координат)
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// mod положительный остаток от деления
func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
