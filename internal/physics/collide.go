package physics

import (
	"math"

	"github.com/annel0/shiku-server/internal/vec"
)

// contact — результат узкой фазы. Нормаль направлена от B к A,
// то есть вдоль неё выталкивается тело A.
type contact struct {
	normal vec.Vec2F
	depth  float64
}

// collideShapes проверяет пересечение двух форм в мировых позициях.
// Полилинии разворачиваются в сегменты, возвращается самый глубокий
// контакт.
func collideShapes(sa Shape, pa vec.Vec2F, sb Shape, pb vec.Vec2F) (contact, bool) {
	// Полилиния всегда приводится ко второму операнду
	if sa.Kind == ShapePolyline {
		c, ok := collideShapes(sb, pb, sa, pa)
		if ok {
			c.normal = c.normal.Mul(-1)
		}
		return c, ok
	}
	if sb.Kind == ShapePolyline {
		best := contact{}
		found := false
		for _, seg := range sb.segments(pb) {
			c, ok := collideWithSegment(sa, pa, seg[0], seg[1])
			if ok && (!found || c.depth > best.depth) {
				best = c
				found = true
			}
		}
		return best, found
	}

	switch {
	case sa.Kind == ShapeCircle && sb.Kind == ShapeCircle:
		return circleVsCircle(pa, sa.Radius, pb, sb.Radius)
	case sa.Kind == ShapeCircle:
		c, ok := circleVsConvex(pa, sa.Radius, sb.worldVerts(pb))
		return c, ok
	case sb.Kind == ShapeCircle:
		c, ok := circleVsConvex(pb, sb.Radius, sa.worldVerts(pa))
		if ok {
			c.normal = c.normal.Mul(-1)
		}
		return c, ok
	default:
		return satConvex(sa.worldVerts(pa), sb.worldVerts(pb))
	}
}

// collideWithSegment проверяет выпуклую форму против одного сегмента
func collideWithSegment(s Shape, pos vec.Vec2F, a, b vec.Vec2F) (contact, bool) {
	if s.Kind == ShapeCircle {
		return circleVsSegment(pos, s.Radius, a, b)
	}
	return satConvex(s.worldVerts(pos), []vec.Vec2F{a, b})
}

func circleVsCircle(ca vec.Vec2F, ra float64, cb vec.Vec2F, rb float64) (contact, bool) {
	d := ca.Sub(cb)
	distSq := d.LengthSq()
	rsum := ra + rb
	if distSq >= rsum*rsum {
		return contact{}, false
	}
	dist := math.Sqrt(distSq)
	if dist < 1e-12 {
		// Центры совпали, выталкиваем вверх
		return contact{normal: vec.Vec2F{X: 0, Y: -1}, depth: rsum}, true
	}
	return contact{normal: d.Mul(1 / dist), depth: rsum - dist}, true
}

func circleVsSegment(c vec.Vec2F, r float64, a, b vec.Vec2F) (contact, bool) {
	p := closestOnSegment(c, a, b)
	d := c.Sub(p)
	distSq := d.LengthSq()
	if distSq >= r*r {
		return contact{}, false
	}
	dist := math.Sqrt(distSq)
	if dist < 1e-12 {
		// Центр лежит на сегменте, берём нормаль сегмента
		n := b.Sub(a).Perp().Normalized()
		return contact{normal: n, depth: r}, true
	}
	return contact{normal: d.Mul(1 / dist), depth: r - dist}, true
}

// circleVsConvex — окружность против выпуклого многоугольника.
// Вершины должны идти по часовой стрелке в экранных координатах
// (ось Y вниз), тогда внешние нормали смотрят наружу.
func circleVsConvex(c vec.Vec2F, r float64, verts []vec.Vec2F) (contact, bool) {
	if len(verts) < 2 {
		return contact{}, false
	}

	inside := true
	maxSep := math.Inf(-1)
	var sepNormal vec.Vec2F
	closest := verts[0]
	closestDistSq := math.Inf(1)

	for i := range verts {
		a := verts[i]
		b := verts[(i+1)%len(verts)]
		n := a.Sub(b).Perp().Normalized()
		sep := c.Sub(a).Dot(n)
		if sep > 0 {
			inside = false
		}
		if sep > maxSep {
			maxSep = sep
			sepNormal = n
		}
		p := closestOnSegment(c, a, b)
		if d := c.Sub(p).LengthSq(); d < closestDistSq {
			closestDistSq = d
			closest = p
		}
	}

	if inside {
		return contact{normal: sepNormal, depth: r - maxSep}, true
	}
	dist := math.Sqrt(closestDistSq)
	if dist >= r {
		return contact{}, false
	}
	if dist < 1e-12 {
		return contact{normal: sepNormal, depth: r}, true
	}
	return contact{normal: c.Sub(closest).Mul(1 / dist), depth: r - dist}, true
}

// satConvex — разделяющие оси для пары выпуклых наборов вершин.
// Двухвершинный набор трактуется как сегмент. Нормаль контакта
// направлена от B к A.
func satConvex(va, vb []vec.Vec2F) (contact, bool) {
	if len(va) < 2 || len(vb) < 2 {
		return contact{}, false
	}

	minDepth := math.Inf(1)
	var minAxis vec.Vec2F

	check := func(verts []vec.Vec2F) bool {
		n := len(verts)
		edges := n
		if n == 2 {
			edges = 1
		}
		for i := 0; i < edges; i++ {
			axis := verts[(i+1)%n].Sub(verts[i]).Perp().Normalized()
			if axis.LengthSq() < 1e-12 {
				continue
			}
			minA, maxA := project(va, axis)
			minB, maxB := project(vb, axis)
			overlap := math.Min(maxA, maxB) - math.Max(minA, minB)
			if overlap <= 0 {
				return false
			}
			if overlap < minDepth {
				minDepth = overlap
				minAxis = axis
			}
		}
		return true
	}

	if !check(va) || !check(vb) {
		return contact{}, false
	}

	// Ориентируем нормаль от B к A
	if centroid(va).Sub(centroid(vb)).Dot(minAxis) < 0 {
		minAxis = minAxis.Mul(-1)
	}
	return contact{normal: minAxis, depth: minDepth}, true
}

func project(verts []vec.Vec2F, axis vec.Vec2F) (float64, float64) {
	min := verts[0].Dot(axis)
	max := min
	for _, v := range verts[1:] {
		d := v.Dot(axis)
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

func centroid(verts []vec.Vec2F) vec.Vec2F {
	var sum vec.Vec2F
	for _, v := range verts {
		sum = sum.Add(v)
	}
	return sum.Mul(1 / float64(len(verts)))
}

func closestOnSegment(p, a, b vec.Vec2F) vec.Vec2F {
	ab := b.Sub(a)
	lenSq := ab.LengthSq()
	if lenSq < 1e-12 {
		return a
	}
	t := p.Sub(a).Dot(ab) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return a.Add(ab.Mul(t))
}
