package physics

import (
	"github.com/annel0/shiku-server/internal/vec"
)

// CharacterConfig — параметры контроллера персонажа
type CharacterConfig struct {
	// Зазор между персонажем и препятствием
	Offset float64
	// Максимум итераций скольжения за один вызов
	MaxSlideIters int
	// Прилипать к земле при движении по наклонной вниз
	SnapToGround bool
	// Дистанция прилипания
	SnapDistance float64
}

// DefaultCharacterConfig возвращает параметры по умолчанию
func DefaultCharacterConfig() CharacterConfig {
	return CharacterConfig{
		Offset:        0.02,
		MaxSlideIters: 4,
		SnapToGround:  true,
		SnapDistance:  0.3,
	}
}

// MoveResult — итог перемещения персонажа
type MoveResult struct {
	// Фактически пройденное смещение
	Moved vec.Vec2F
	// Стоит ли персонаж на опоре после перемещения
	Grounded bool
	// Было ли движение обрезано препятствием
	Blocked bool
}

// MoveCharacter двигает кинематическое тело на desired со скольжением
// вдоль препятствий. Движение дробится на подшаги не длиннее половины
// меньшего размера коллайдера, чтобы не туннелировать сквозь тонкие
// стены. Тело перемещается сразу, без ожидания шага.
func (s *Simulation) MoveCharacter(cfg CharacterConfig, body BodyHandle, collider ColliderHandle, desired vec.Vec2F) MoveResult {
	b, ok := s.bodies[body]
	if !ok {
		return MoveResult{}
	}
	c, ok := s.colliders[collider]
	if !ok {
		return MoveResult{Moved: desired}
	}

	start := b.pos
	res := MoveResult{}

	iters := cfg.MaxSlideIters
	if iters <= 0 {
		iters = 1
	}

	length := desired.Length()
	maxSub := subStepLength(c.shape)
	steps := 1
	if length > maxSub {
		steps = int(length/maxSub) + 1
	}
	step := desired.Mul(1 / float64(steps))

	for n := 0; n < steps; n++ {
		if step.LengthSq() < 1e-12 {
			break
		}
		b.pos = b.pos.Add(step)
		for i := 0; i < iters; i++ {
			ct, hit := s.deepestContact(b, c)
			if !hit {
				break
			}
			res.Blocked = true
			b.pos = b.pos.Add(ct.normal.Mul(ct.depth + cfg.Offset))
			if ct.normal.Y < -0.5 {
				res.Grounded = true
			}
			// Оставшиеся подшаги скользят вдоль поверхности
			step = step.Sub(ct.normal.Mul(step.Dot(ct.normal)))
		}
	}

	// Дожимаем выход из пересечений, оставшихся после скольжения
	for i := 0; i < iters; i++ {
		ct, hit := s.deepestContact(b, c)
		if !hit {
			break
		}
		b.pos = b.pos.Add(ct.normal.Mul(ct.depth + cfg.Offset))
		if ct.normal.Y < -0.5 {
			res.Grounded = true
		}
	}

	if cfg.SnapToGround && !res.Grounded && desired.Y >= 0 {
		s.snapToGround(b, c, cfg, &res)
	}

	b.grounded = res.Grounded
	res.Moved = b.pos.Sub(start)
	return res
}

// subStepLength возвращает максимальную длину подшага для формы
func subStepLength(s Shape) float64 {
	switch s.Kind {
	case ShapeCircle:
		if s.Radius > 0 {
			return s.Radius
		}
	case ShapeRect:
		m := s.HalfW
		if s.HalfH < m {
			m = s.HalfH
		}
		if m > 0 {
			return m
		}
	}
	return 0.5
}

// snapToGround прижимает персонажа к опоре, если она в пределах
// дистанции прилипания
func (s *Simulation) snapToGround(b *Body, c *Collider, cfg CharacterConfig, res *MoveResult) {
	saved := b.pos
	b.pos = b.pos.Add(vec.Vec2F{X: 0, Y: cfg.SnapDistance})
	ct, hit := s.deepestContact(b, c)
	if hit && ct.normal.Y < -0.5 {
		b.pos = b.pos.Add(ct.normal.Mul(ct.depth + cfg.Offset))
		res.Grounded = true
		return
	}
	b.pos = saved
}

// deepestContact находит самый глубокий контакт коллайдера персонажа
// со всеми совместимыми несенсорными коллайдерами
func (s *Simulation) deepestContact(b *Body, c *Collider) (contact, bool) {
	pos := s.colliderPos(c)
	box := c.shape.aabbAt(pos)

	best := contact{}
	found := false
	for _, other := range s.colliders {
		if other.parent == b.handle || other.sensor || !compatible(c, other) {
			continue
		}
		otherPos := s.colliderPos(other)
		if !box.Overlaps(other.shape.aabbAt(otherPos)) {
			continue
		}
		ct, hit := collideShapes(c.shape, pos, other.shape, otherPos)
		if hit && (!found || ct.depth > best.depth) {
			best = ct
			found = true
		}
	}
	return best, found
}
