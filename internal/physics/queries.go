package physics

import "github.com/annel0/shiku-server/internal/vec"

// Contact — контакт, возвращаемый запросами. Нормаль направлена
// от другого коллайдера к запрошенному.
type Contact struct {
	Other  ColliderHandle
	Normal vec.Vec2F
	Depth  float64
}

// IntersectionsWith возвращает хэндлы всех коллайдеров, пересекающихся
// с указанным. Сенсоры учитываются.
func (s *Simulation) IntersectionsWith(h ColliderHandle) []ColliderHandle {
	c, ok := s.colliders[h]
	if !ok {
		return nil
	}
	pos := s.colliderPos(c)
	box := c.shape.aabbAt(pos)

	var out []ColliderHandle
	for oh, other := range s.colliders {
		if oh == h || !compatible(c, other) {
			continue
		}
		otherPos := s.colliderPos(other)
		if !box.Overlaps(other.shape.aabbAt(otherPos)) {
			continue
		}
		if _, hit := collideShapes(c.shape, pos, other.shape, otherPos); hit {
			out = append(out, oh)
		}
	}
	return out
}

// ContactsWith возвращает контакты коллайдера с нормалями и глубиной
func (s *Simulation) ContactsWith(h ColliderHandle) []Contact {
	c, ok := s.colliders[h]
	if !ok {
		return nil
	}
	pos := s.colliderPos(c)
	box := c.shape.aabbAt(pos)

	var out []Contact
	for oh, other := range s.colliders {
		if oh == h || !compatible(c, other) {
			continue
		}
		otherPos := s.colliderPos(other)
		if !box.Overlaps(other.shape.aabbAt(otherPos)) {
			continue
		}
		if ct, hit := collideShapes(c.shape, pos, other.shape, otherPos); hit {
			out = append(out, Contact{Other: oh, Normal: ct.normal, Depth: ct.depth})
		}
	}
	return out
}

// QueryAABB возвращает коллайдеры, чей AABB пересекает область
func (s *Simulation) QueryAABB(box AABB) []ColliderHandle {
	var out []ColliderHandle
	for h, c := range s.colliders {
		if box.Overlaps(c.shape.aabbAt(s.colliderPos(c))) {
			out = append(out, h)
		}
	}
	return out
}
