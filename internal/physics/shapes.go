package physics

import (
	"math"

	"github.com/annel0/shiku-server/internal/vec"
)

// ShapeKind — вид геометрии коллайдера
type ShapeKind int

const (
	ShapeRect ShapeKind = iota
	ShapeCircle
	ShapePolygon
	ShapePolyline
)

// Слои коллизий. Membership — в каких слоях состоит коллайдер,
// Filter — с какими слоями он сталкивается.
const (
	LayerA uint32 = 1 << 0
	LayerB uint32 = 1 << 1

	LayerAll = LayerA | LayerB
)

// Shape — геометрия коллайдера в локальных координатах.
// Rect и Circle центрированы в начале координат; Polygon задаётся
// выпуклым набором вершин, Polyline — открытой цепочкой сегментов.
type Shape struct {
	Kind   ShapeKind
	HalfW  float64
	HalfH  float64
	Radius float64
	Points []vec.Vec2F
}

// NewRect создаёт прямоугольник по полной ширине и высоте
func NewRect(width, height float64) Shape {
	return Shape{Kind: ShapeRect, HalfW: width / 2, HalfH: height / 2}
}

// NewCircle создаёт окружность указанного радиуса
func NewCircle(radius float64) Shape {
	return Shape{Kind: ShapeCircle, Radius: radius}
}

// NewPolygon создаёт выпуклый многоугольник
func NewPolygon(points []vec.Vec2F) Shape {
	return Shape{Kind: ShapePolygon, Points: points}
}

// NewPolyline создаёт цепочку сегментов
func NewPolyline(points []vec.Vec2F) Shape {
	return Shape{Kind: ShapePolyline, Points: points}
}

// AABB — ограничивающий прямоугольник, выровненный по осям
type AABB struct {
	Min, Max vec.Vec2F
}

// Overlaps проверяет пересечение двух AABB
func (a AABB) Overlaps(b AABB) bool {
	return a.Min.X <= b.Max.X && a.Max.X >= b.Min.X &&
		a.Min.Y <= b.Max.Y && a.Max.Y >= b.Min.Y
}

// Expanded возвращает AABB, расширенный на margin во все стороны
func (a AABB) Expanded(margin float64) AABB {
	m := vec.Vec2F{X: margin, Y: margin}
	return AABB{Min: a.Min.Sub(m), Max: a.Max.Add(m)}
}

// aabbAt вычисляет AABB формы, помещённой в позицию pos
func (s Shape) aabbAt(pos vec.Vec2F) AABB {
	switch s.Kind {
	case ShapeRect:
		half := vec.Vec2F{X: s.HalfW, Y: s.HalfH}
		return AABB{Min: pos.Sub(half), Max: pos.Add(half)}
	case ShapeCircle:
		r := vec.Vec2F{X: s.Radius, Y: s.Radius}
		return AABB{Min: pos.Sub(r), Max: pos.Add(r)}
	default:
		min := vec.Vec2F{X: math.Inf(1), Y: math.Inf(1)}
		max := vec.Vec2F{X: math.Inf(-1), Y: math.Inf(-1)}
		for _, p := range s.Points {
			w := pos.Add(p)
			min.X = math.Min(min.X, w.X)
			min.Y = math.Min(min.Y, w.Y)
			max.X = math.Max(max.X, w.X)
			max.Y = math.Max(max.Y, w.Y)
		}
		return AABB{Min: min, Max: max}
	}
}

// worldVerts возвращает вершины формы в мировых координатах.
// Для Rect — четыре угла, для Polygon — вершины, для Polyline — nil
// (цепочка обрабатывается посегментно).
func (s Shape) worldVerts(pos vec.Vec2F) []vec.Vec2F {
	switch s.Kind {
	case ShapeRect:
		return []vec.Vec2F{
			{X: pos.X - s.HalfW, Y: pos.Y - s.HalfH},
			{X: pos.X + s.HalfW, Y: pos.Y - s.HalfH},
			{X: pos.X + s.HalfW, Y: pos.Y + s.HalfH},
			{X: pos.X - s.HalfW, Y: pos.Y + s.HalfH},
		}
	case ShapePolygon:
		out := make([]vec.Vec2F, len(s.Points))
		for i, p := range s.Points {
			out[i] = pos.Add(p)
		}
		return out
	default:
		return nil
	}
}

// segments возвращает сегменты полилинии в мировых координатах
func (s Shape) segments(pos vec.Vec2F) [][2]vec.Vec2F {
	if s.Kind != ShapePolyline || len(s.Points) < 2 {
		return nil
	}
	segs := make([][2]vec.Vec2F, 0, len(s.Points)-1)
	for i := 0; i+1 < len(s.Points); i++ {
		segs = append(segs, [2]vec.Vec2F{pos.Add(s.Points[i]), pos.Add(s.Points[i+1])})
	}
	return segs
}
