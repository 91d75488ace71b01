package physics

import "github.com/annel0/shiku-server/internal/vec"

// BodyHandle — идентификатор твёрдого тела в симуляции
type BodyHandle uint64

// ColliderHandle — идентификатор коллайдера
type ColliderHandle uint64

// BodyKind — вид твёрдого тела
type BodyKind int

const (
	// BodyFixed никогда не двигается
	BodyFixed BodyKind = iota
	// BodyDynamic интегрируется симуляцией (гравитация, силы, импульсы)
	BodyDynamic
	// BodyKinematicPosition двигается внешним кодом через MoveCharacter
	// или SetNextPosition, симуляция его не интегрирует
	BodyKinematicPosition
	// BodyKinematicVelocity двигается по заданной скорости без отклика
	// на столкновения
	BodyKinematicVelocity
)

// Body — твёрдое тело. Все поля читаются и пишутся только из
// тикающей горутины мира, блокировок нет.
type Body struct {
	handle BodyHandle
	kind   BodyKind

	pos      vec.Vec2F
	rotation float64
	vel      vec.Vec2F

	// Аккумуляторы, сбрасываются на каждом шаге
	force   vec.Vec2F
	impulse vec.Vec2F

	mass         float64
	gravityScale float64
	grounded     bool

	colliders []ColliderHandle
}

// Handle возвращает идентификатор тела
func (b *Body) Handle() BodyHandle { return b.handle }

// Kind возвращает вид тела
func (b *Body) Kind() BodyKind { return b.kind }

// Position возвращает позицию центра тела
func (b *Body) Position() vec.Vec2F { return b.pos }

// Rotation возвращает угол тела в радианах
func (b *Body) Rotation() float64 { return b.rotation }

// Velocity возвращает линейную скорость
func (b *Body) Velocity() vec.Vec2F { return b.vel }

// Grounded сообщает, стояло ли тело на опоре после последнего
// MoveCharacter или шага симуляции
func (b *Body) Grounded() bool { return b.grounded }

// Collider — коллайдер, прикреплённый к телу. Нулевой parent
// означает статический коллайдер мира (местность).
type Collider struct {
	handle ColliderHandle
	shape  Shape
	parent BodyHandle
	offset vec.Vec2F

	membership uint32
	filter     uint32
	sensor     bool
}

// Handle возвращает идентификатор коллайдера
func (c *Collider) Handle() ColliderHandle { return c.handle }

// Parent возвращает тело, к которому прикреплён коллайдер
func (c *Collider) Parent() BodyHandle { return c.parent }

// Shape возвращает геометрию коллайдера
func (c *Collider) Shape() Shape { return c.shape }

// Sensor сообщает, является ли коллайдер сенсором (без отклика)
func (c *Collider) Sensor() bool { return c.sensor }

// compatible проверяет маски слоёв двух коллайдеров
func compatible(a, b *Collider) bool {
	return a.membership&b.filter != 0 && b.membership&a.filter != 0
}
