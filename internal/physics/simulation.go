package physics

import (
	"github.com/annel0/shiku-server/internal/vec"
)

// Число проходов разрешения контактов на шаг
const solverPasses = 2

// Simulation — детерминированная 2D-симуляция твёрдых тел с
// фиксированным шагом. Не потокобезопасна: весь доступ идёт из
// тикающей горутины мира.
type Simulation struct {
	gravity vec.Vec2F

	bodies    map[BodyHandle]*Body
	colliders map[ColliderHandle]*Collider

	nextBody     uint64
	nextCollider uint64
}

// NewSimulation создаёт пустую симуляцию с заданной гравитацией
// (экранные координаты, ось Y вниз)
func NewSimulation(gravity vec.Vec2F) *Simulation {
	return &Simulation{
		gravity:   gravity,
		bodies:    make(map[BodyHandle]*Body),
		colliders: make(map[ColliderHandle]*Collider),
	}
}

// AddRigidBody добавляет тело и возвращает его хэндл
func (s *Simulation) AddRigidBody(kind BodyKind, pos vec.Vec2F, rotation float64) BodyHandle {
	s.nextBody++
	h := BodyHandle(s.nextBody)
	s.bodies[h] = &Body{
		handle:       h,
		kind:         kind,
		pos:          pos,
		rotation:     rotation,
		mass:         1,
		gravityScale: 1,
	}
	return h
}

// RemoveRigidBody удаляет тело вместе с прикреплёнными коллайдерами
func (s *Simulation) RemoveRigidBody(h BodyHandle) {
	body, ok := s.bodies[h]
	if !ok {
		return
	}
	for _, ch := range body.colliders {
		delete(s.colliders, ch)
	}
	delete(s.bodies, h)
}

// AddCollider прикрепляет коллайдер к телу. Нулевой parent создаёт
// статический коллайдер мира, offset тогда — мировая позиция.
func (s *Simulation) AddCollider(parent BodyHandle, shape Shape, offset vec.Vec2F, membership, filter uint32, sensor bool) ColliderHandle {
	s.nextCollider++
	h := ColliderHandle(s.nextCollider)
	c := &Collider{
		handle:     h,
		shape:      shape,
		parent:     parent,
		offset:     offset,
		membership: membership,
		filter:     filter,
		sensor:     sensor,
	}
	s.colliders[h] = c
	if body, ok := s.bodies[parent]; ok {
		body.colliders = append(body.colliders, h)
	}
	return h
}

// RemoveCollider удаляет коллайдер
func (s *Simulation) RemoveCollider(h ColliderHandle) {
	c, ok := s.colliders[h]
	if !ok {
		return
	}
	if body, ok := s.bodies[c.parent]; ok {
		for i, ch := range body.colliders {
			if ch == h {
				body.colliders = append(body.colliders[:i], body.colliders[i+1:]...)
				break
			}
		}
	}
	delete(s.colliders, h)
}

// Body возвращает тело по хэндлу
func (s *Simulation) Body(h BodyHandle) (*Body, bool) {
	b, ok := s.bodies[h]
	return b, ok
}

// Collider возвращает коллайдер по хэндлу
func (s *Simulation) Collider(h ColliderHandle) (*Collider, bool) {
	c, ok := s.colliders[h]
	return c, ok
}

// GetRigidBodyTranslation возвращает позицию и угол тела
func (s *Simulation) GetRigidBodyTranslation(h BodyHandle) (vec.Vec2F, float64, bool) {
	b, ok := s.bodies[h]
	if !ok {
		return vec.Vec2F{}, 0, false
	}
	return b.pos, b.rotation, true
}

// ApplyImpulse накапливает импульс, применяется на ближайшем шаге
func (s *Simulation) ApplyImpulse(h BodyHandle, imp vec.Vec2F) {
	if b, ok := s.bodies[h]; ok && b.kind == BodyDynamic {
		b.impulse = b.impulse.Add(imp)
	}
}

// ApplyForce накапливает силу, действующую в течение шага
func (s *Simulation) ApplyForce(h BodyHandle, f vec.Vec2F) {
	if b, ok := s.bodies[h]; ok && b.kind == BodyDynamic {
		b.force = b.force.Add(f)
	}
}

// SetVelocity задаёт линейную скорость тела
func (s *Simulation) SetVelocity(h BodyHandle, v vec.Vec2F) {
	if b, ok := s.bodies[h]; ok {
		b.vel = v
	}
}

// SetNextPosition телепортирует тело (кинематика по позиции)
func (s *Simulation) SetNextPosition(h BodyHandle, pos vec.Vec2F) {
	if b, ok := s.bodies[h]; ok {
		b.pos = pos
	}
}

// SetRotation задаёт угол тела
func (s *Simulation) SetRotation(h BodyHandle, rotation float64) {
	if b, ok := s.bodies[h]; ok {
		b.rotation = rotation
	}
}

// SetGravityScale задаёт множитель гравитации для тела
func (s *Simulation) SetGravityScale(h BodyHandle, scale float64) {
	if b, ok := s.bodies[h]; ok {
		b.gravityScale = scale
	}
}

// colliderPos возвращает мировую позицию коллайдера
func (s *Simulation) colliderPos(c *Collider) vec.Vec2F {
	body, ok := s.bodies[c.parent]
	if !ok {
		return c.offset
	}
	off := c.offset
	if body.rotation != 0 {
		off = off.Rotated(body.rotation)
	}
	return body.pos.Add(off)
}

// Step продвигает симуляцию на dt секунд: интегрирует динамические
// тела, применяет накопленные силы и импульсы, разрешает контакты
func (s *Simulation) Step(dt float64) {
	for _, b := range s.bodies {
		switch b.kind {
		case BodyDynamic:
			acc := s.gravity.Mul(b.gravityScale).Add(b.force.Mul(1 / b.mass))
			b.vel = b.vel.Add(acc.Mul(dt)).Add(b.impulse.Mul(1 / b.mass))
			b.force = vec.Vec2F{}
			b.impulse = vec.Vec2F{}
			b.pos = b.pos.Add(b.vel.Mul(dt))
		case BodyKinematicVelocity:
			b.pos = b.pos.Add(b.vel.Mul(dt))
		}
	}

	for pass := 0; pass < solverPasses; pass++ {
		for _, b := range s.bodies {
			if b.kind != BodyDynamic {
				continue
			}
			s.resolveBody(b, pass == 0)
		}
	}
}

// resolveBody выталкивает динамическое тело из пересечений и гасит
// скорость вдоль нормали контакта
func (s *Simulation) resolveBody(b *Body, updateGrounded bool) {
	if updateGrounded {
		b.grounded = false
	}
	for _, ch := range b.colliders {
		c, ok := s.colliders[ch]
		if !ok || c.sensor {
			continue
		}
		pos := s.colliderPos(c)
		box := c.shape.aabbAt(pos)

		for _, other := range s.colliders {
			if other.parent == b.handle || other.sensor || !compatible(c, other) {
				continue
			}
			otherPos := s.colliderPos(other)
			if !box.Overlaps(other.shape.aabbAt(otherPos)) {
				continue
			}
			ct, hit := collideShapes(c.shape, pos, other.shape, otherPos)
			if !hit {
				continue
			}
			b.pos = b.pos.Add(ct.normal.Mul(ct.depth))
			pos = pos.Add(ct.normal.Mul(ct.depth))
			box = c.shape.aabbAt(pos)
			if into := b.vel.Dot(ct.normal); into < 0 {
				b.vel = b.vel.Sub(ct.normal.Mul(into))
			}
			if ct.normal.Y < -0.5 {
				b.grounded = true
			}
		}
	}
}
