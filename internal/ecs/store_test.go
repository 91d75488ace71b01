package ecs

import (
	"testing"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/physics"
	"github.com/annel0/shiku-server/internal/protocol"
)

func TestNewEntityBuildsTree(t *testing.T) {
	s := NewStore()

	root := s.NewEntity(0)
	child := s.NewEntity(root)
	grand := s.NewEntity(child)

	if s.SceneRoot != root {
		t.Error("Первая сущность должна стать корнем сцены")
	}
	if p, ok := s.ParentOf(grand); !ok || p != child {
		t.Errorf("Родитель внука определён неверно: %d", p)
	}
	if p, ok := s.ParentOf(child); !ok || p != root {
		t.Errorf("Родитель ребёнка определён неверно: %d", p)
	}
	if _, ok := s.ParentOf(root); ok {
		t.Error("У корня не должно быть родителя")
	}
}

func TestSubtreePostOrder(t *testing.T) {
	s := NewStore()

	root := s.NewEntity(0)
	a := s.NewEntity(root)
	b := s.NewEntity(a)

	order := s.Subtree(root)
	if len(order) != 3 {
		t.Fatalf("Ожидалось 3 сущности в поддереве, получено %d", len(order))
	}
	if order[0] != b || order[1] != a || order[2] != root {
		t.Errorf("Неверный post-order: %v", order)
	}
}

func TestRemovalLeavesNoComponents(t *testing.T) {
	s := NewStore()

	root := s.NewEntity(0)
	parent := s.NewEntity(root)
	child := s.NewEntity(parent)

	s.SetTransform(parent, blueprint.Transform{X: 1, ScaleX: 1, ScaleY: 1})
	s.SetGid(child, 7)
	s.BodyHandles[parent] = physics.BodyHandle(1)
	s.ColliderHandles[child] = physics.ColliderHandle(2)

	for _, e := range s.Subtree(parent) {
		s.DropEntity(e)
	}

	for _, e := range []EntityID{parent, child} {
		if s.Exists(e) {
			t.Errorf("Сущность %d пережила удаление", e)
		}
		if _, ok := s.Transforms[e]; ok {
			t.Errorf("Трансформ сущности %d не удалён", e)
		}
		if _, ok := s.BodyHandles[e]; ok {
			t.Errorf("Хэндл тела сущности %d не удалён", e)
		}
		if _, ok := s.ColliderHandles[e]; ok {
			t.Errorf("Хэндл коллайдера сущности %d не удалён", e)
		}
		if _, ok := s.RenderGids[e]; ok {
			t.Errorf("Gid сущности %d не удалён", e)
		}
	}
	if len(s.Children[root]) != 0 {
		t.Error("Удалённая сущность осталась в списке детей корня")
	}
}

func TestNearestBodyAncestor(t *testing.T) {
	s := NewStore()

	root := s.NewEntity(0)
	body := s.NewEntity(root)
	mid := s.NewEntity(body)
	collider := s.NewEntity(mid)

	s.BodyHandles[body] = physics.BodyHandle(5)

	found, ok := s.NearestBodyAncestor(collider)
	if !ok || found != body {
		t.Errorf("Ожидался предок с телом %d, получено %d (ok=%v)", body, found, ok)
	}

	if _, ok := s.NearestBodyAncestor(root); ok {
		t.Error("У корня без тела не должно быть телесного предка")
	}
}

func TestTransformRoundTrip(t *testing.T) {
	s := NewStore()
	root := s.NewEntity(0)
	e := s.NewEntity(root)

	want := blueprint.Transform{X: 3.5, Y: -2, Rotation: 0.25, ScaleX: 1, ScaleY: 1}
	if err := s.ApplyEntityUpdate(&protocol.EntityUpdate{
		Entity:    e,
		Kind:      protocol.EUSetTransform,
		Transform: &want,
	}); err != nil {
		t.Fatalf("Мутация не применилась: %v", err)
	}

	if got := s.Transforms[e]; got != want {
		t.Errorf("Трансформ после записи: %+v, ожидалось %+v", got, want)
	}
	if !s.Dirty[e] {
		t.Error("Запись трансформа не пометила сущность dirty")
	}
}

func TestGidRoundTrip(t *testing.T) {
	s := NewStore()
	root := s.NewEntity(0)
	e := s.NewEntity(root)

	gid := uint32(42)
	if err := s.ApplyEntityUpdate(&protocol.EntityUpdate{
		Entity: e,
		Kind:   protocol.EUSetGid,
		Gid:    &gid,
	}); err != nil {
		t.Fatalf("Мутация не применилась: %v", err)
	}
	if s.RenderGids[e] != 42 {
		t.Errorf("Gid после записи: %d", s.RenderGids[e])
	}
	if !s.ViewDirty[e] {
		t.Error("Запись gid не пометила сущность view-dirty")
	}
}

func TestSetPositionKeepsScale(t *testing.T) {
	s := NewStore()
	root := s.NewEntity(0)
	e := s.NewEntity(root)
	s.SetTransform(e, blueprint.Transform{ScaleX: 2, ScaleY: 3})

	s.SetPosition(e, 10, 20, 0.5)

	got := s.Transforms[e]
	if got.X != 10 || got.Y != 20 || got.Rotation != 0.5 {
		t.Errorf("Позиция записана неверно: %+v", got)
	}
	if got.ScaleX != 2 || got.ScaleY != 3 {
		t.Errorf("Масштаб потерян при записи позиции: %+v", got)
	}
}

func TestApplyUpdateUnknownEntity(t *testing.T) {
	s := NewStore()
	name := "x"
	err := s.ApplyEntityUpdate(&protocol.EntityUpdate{
		Entity: 999,
		Kind:   protocol.EUSetName,
		Name:   &name,
	})
	if err == nil {
		t.Error("Мутация несуществующей сущности должна вернуть ошибку")
	}
}

func TestScriptPathInvokesCompiler(t *testing.T) {
	s := NewStore()
	root := s.NewEntity(0)
	e := s.NewEntity(root)

	var compiled string
	s.SetScriptCallbacks(ScriptCallbacks{
		OnScriptPathSet: func(id EntityID, path string) error {
			compiled = path
			return nil
		},
	})

	path := "player.script.lua"
	if err := s.ApplyEntityUpdate(&protocol.EntityUpdate{
		Entity:     e,
		Kind:       protocol.EUSetScriptPath,
		ScriptPath: &path,
	}); err != nil {
		t.Fatalf("Установка скрипта не удалась: %v", err)
	}
	if compiled != path {
		t.Errorf("Компилятор не вызван для %q", path)
	}
	if s.ScriptPaths[e] != path {
		t.Error("Путь скрипта не сохранён")
	}
}

func TestPendingQueues(t *testing.T) {
	s := NewStore()
	root := s.NewEntity(0)

	s.QueueAdd(root, &blueprint.GameNode{Name: "spawned"})
	s.QueueRemove(root)

	added, removed := s.DrainPending()
	if len(added) != 1 || added[0].Node.Name != "spawned" {
		t.Errorf("Очередь добавлений: %+v", added)
	}
	if len(removed) != 1 || removed[0] != root {
		t.Errorf("Очередь удалений: %v", removed)
	}

	added, removed = s.DrainPending()
	if len(added) != 0 || len(removed) != 0 {
		t.Error("Очереди должны быть пусты после Drain")
	}
}
