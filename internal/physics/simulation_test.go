package physics

import (
	"math"
	"testing"

	"github.com/annel0/shiku-server/internal/vec"
)

const dt = 1.0 / 60.0

func TestDynamicBodyFalls(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{X: 0, Y: 100})

	body := sim.AddRigidBody(BodyDynamic, vec.Vec2F{X: 0, Y: 0}, 0)
	for i := 0; i < 60; i++ {
		sim.Step(dt)
	}

	pos, _, ok := sim.GetRigidBodyTranslation(body)
	if !ok {
		t.Fatal("Тело пропало из симуляции")
	}
	if pos.Y <= 0 {
		t.Errorf("Тело не упало под гравитацией: y=%f", pos.Y)
	}
}

func TestFixedBodyDoesNotMove(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{X: 0, Y: 100})

	body := sim.AddRigidBody(BodyFixed, vec.Vec2F{X: 5, Y: 5}, 0)
	sim.ApplyImpulse(body, vec.Vec2F{X: 100, Y: 0})
	sim.Step(dt)

	pos, _, _ := sim.GetRigidBodyTranslation(body)
	if pos.X != 5 || pos.Y != 5 {
		t.Errorf("Статическое тело сдвинулось: %+v", pos)
	}
}

func TestImpulseChangesVelocity(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	body := sim.AddRigidBody(BodyDynamic, vec.Vec2F{}, 0)
	sim.ApplyImpulse(body, vec.Vec2F{X: 6, Y: 0})
	sim.Step(dt)

	b, _ := sim.Body(body)
	if math.Abs(b.Velocity().X-6) > 1e-9 {
		t.Errorf("Ожидалась скорость 6 по X, получено %f", b.Velocity().X)
	}
}

func TestBodyLandsOnGround(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{X: 0, Y: 100})

	// Пол: статический прямоугольник с верхней гранью на y=10
	sim.AddCollider(0, NewRect(20, 2), vec.Vec2F{X: 0, Y: 11}, LayerAll, LayerAll, false)

	body := sim.AddRigidBody(BodyDynamic, vec.Vec2F{X: 0, Y: 0}, 0)
	sim.AddCollider(body, NewCircle(1), vec.Vec2F{}, LayerAll, LayerAll, false)

	for i := 0; i < 300; i++ {
		sim.Step(dt)
	}

	pos, _, _ := sim.GetRigidBodyTranslation(body)
	if math.Abs(pos.Y-9) > 0.2 {
		t.Errorf("Тело не легло на пол: y=%f, ожидалось около 9", pos.Y)
	}
	b, _ := sim.Body(body)
	if math.Abs(b.Velocity().Y) > 1e-6 {
		t.Errorf("Вертикальная скорость не погашена: %f", b.Velocity().Y)
	}
	if !b.Grounded() {
		t.Error("Тело на полу не помечено как grounded")
	}
}

func TestCollisionGroupsFilter(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{X: 0, Y: 100})

	// Пол только в слое B, тело только в слое A: проваливается насквозь
	sim.AddCollider(0, NewRect(20, 2), vec.Vec2F{X: 0, Y: 11}, LayerB, LayerB, false)

	body := sim.AddRigidBody(BodyDynamic, vec.Vec2F{X: 0, Y: 0}, 0)
	sim.AddCollider(body, NewCircle(1), vec.Vec2F{}, LayerA, LayerA, false)

	for i := 0; i < 300; i++ {
		sim.Step(dt)
	}

	pos, _, _ := sim.GetRigidBodyTranslation(body)
	if pos.Y < 20 {
		t.Errorf("Несовместимые слои не должны сталкиваться: y=%f", pos.Y)
	}
}

func TestMoveCharacterBlockedByWall(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	// Стена справа от персонажа
	sim.AddCollider(0, NewRect(2, 20), vec.Vec2F{X: 5, Y: 0}, LayerAll, LayerAll, false)

	body := sim.AddRigidBody(BodyKinematicPosition, vec.Vec2F{X: 0, Y: 0}, 0)
	col := sim.AddCollider(body, NewRect(1, 1), vec.Vec2F{}, LayerAll, LayerAll, false)

	cfg := DefaultCharacterConfig()
	cfg.SnapToGround = false
	res := sim.MoveCharacter(cfg, body, col, vec.Vec2F{X: 10, Y: 0})

	if !res.Blocked {
		t.Error("Движение в стену не помечено как заблокированное")
	}
	pos, _, _ := sim.GetRigidBodyTranslation(body)
	if pos.X > 3.6 {
		t.Errorf("Персонаж прошёл сквозь стену: x=%f", pos.X)
	}
}

func TestMoveCharacterSlidesAlongWall(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	sim.AddCollider(0, NewRect(2, 40), vec.Vec2F{X: 5, Y: 0}, LayerAll, LayerAll, false)

	body := sim.AddRigidBody(BodyKinematicPosition, vec.Vec2F{X: 0, Y: 0}, 0)
	col := sim.AddCollider(body, NewRect(1, 1), vec.Vec2F{}, LayerAll, LayerAll, false)

	cfg := DefaultCharacterConfig()
	cfg.SnapToGround = false
	sim.MoveCharacter(cfg, body, col, vec.Vec2F{X: 10, Y: 7})

	pos, _, _ := sim.GetRigidBodyTranslation(body)
	if pos.Y < 6 {
		t.Errorf("Диагональное движение не скользит вдоль стены: y=%f", pos.Y)
	}
	if pos.X > 3.6 {
		t.Errorf("Скольжение пробило стену: x=%f", pos.X)
	}
}

func TestMoveCharacterWalksOnPolyline(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	// Пол из цепочки сегментов
	floor := NewPolyline([]vec.Vec2F{{X: -10, Y: 0}, {X: 0, Y: 0}, {X: 10, Y: 0}})
	sim.AddCollider(0, floor, vec.Vec2F{X: 0, Y: 5}, LayerAll, LayerAll, false)

	body := sim.AddRigidBody(BodyKinematicPosition, vec.Vec2F{X: -5, Y: 4.4}, 0)
	col := sim.AddCollider(body, NewCircle(0.5), vec.Vec2F{}, LayerAll, LayerAll, false)

	res := sim.MoveCharacter(DefaultCharacterConfig(), body, col, vec.Vec2F{X: 3, Y: 0.2})

	if !res.Grounded {
		t.Error("Персонаж на полу из полилинии не заземлён")
	}
	pos, _, _ := sim.GetRigidBodyTranslation(body)
	if pos.Y > 4.6 {
		t.Errorf("Персонаж провалился сквозь полилинию: y=%f", pos.Y)
	}
}

func TestSensorDoesNotBlock(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	sensor := sim.AddCollider(0, NewRect(4, 4), vec.Vec2F{X: 3, Y: 0}, LayerAll, LayerAll, true)

	body := sim.AddRigidBody(BodyKinematicPosition, vec.Vec2F{X: 0, Y: 0}, 0)
	col := sim.AddCollider(body, NewRect(1, 1), vec.Vec2F{}, LayerAll, LayerAll, false)

	res := sim.MoveCharacter(DefaultCharacterConfig(), body, col, vec.Vec2F{X: 3, Y: 0})
	if res.Blocked {
		t.Error("Сенсор заблокировал движение")
	}

	hits := sim.IntersectionsWith(col)
	found := false
	for _, h := range hits {
		if h == sensor {
			found = true
		}
	}
	if !found {
		t.Error("Пересечение с сенсором не обнаружено запросом")
	}
}

func TestContactsWithReportsNormal(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	sim.AddCollider(0, NewRect(10, 2), vec.Vec2F{X: 0, Y: 2}, LayerAll, LayerAll, false)

	body := sim.AddRigidBody(BodyDynamic, vec.Vec2F{X: 0, Y: 0.5}, 0)
	col := sim.AddCollider(body, NewCircle(1), vec.Vec2F{}, LayerAll, LayerAll, false)

	contacts := sim.ContactsWith(col)
	if len(contacts) != 1 {
		t.Fatalf("Ожидался один контакт, получено %d", len(contacts))
	}
	if contacts[0].Normal.Y >= 0 {
		t.Errorf("Нормаль контакта с полом должна смотреть вверх: %+v", contacts[0].Normal)
	}
}

func TestRemoveRigidBodyRemovesColliders(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	body := sim.AddRigidBody(BodyDynamic, vec.Vec2F{}, 0)
	col := sim.AddCollider(body, NewCircle(1), vec.Vec2F{}, LayerAll, LayerAll, false)

	sim.RemoveRigidBody(body)

	if _, ok := sim.Collider(col); ok {
		t.Error("Коллайдер пережил удаление тела")
	}
	if _, _, ok := sim.GetRigidBodyTranslation(body); ok {
		t.Error("Тело не удалено")
	}
}

func TestKinematicVelocityIgnoresObstacles(t *testing.T) {
	sim := NewSimulation(vec.Vec2F{})

	sim.AddCollider(0, NewRect(2, 20), vec.Vec2F{X: 2, Y: 0}, LayerAll, LayerAll, false)

	body := sim.AddRigidBody(BodyKinematicVelocity, vec.Vec2F{X: 0, Y: 0}, 0)
	sim.AddCollider(body, NewRect(1, 1), vec.Vec2F{}, LayerAll, LayerAll, false)
	sim.SetVelocity(body, vec.Vec2F{X: 60, Y: 0})

	for i := 0; i < 10; i++ {
		sim.Step(dt)
	}

	pos, _, _ := sim.GetRigidBodyTranslation(body)
	if pos.X < 9 {
		t.Errorf("Кинематическое тело должно игнорировать отклик: x=%f", pos.X)
	}
}
