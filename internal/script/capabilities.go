package script

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/annel0/shiku-server/internal/util"
)

// PhysicsOps — физические возможности, открытые скриптам
type PhysicsOps interface {
	AddFixedRigidBody(x, y float64) uint64
	GetRigidBodyHandle(entity uint64) (uint64, bool)
	SetEntityDesiredTranslation(entity uint64, x, y float64)
	AddForceToRigidBody(entity uint64, x, y float64)
	ApplyImpulseToRigidBody(entity uint64, x, y float64)
}

// NodeOps — топологические запросы по дереву сцены
type NodeOps interface {
	GetChildAnimationEntity(entity uint64) (uint64, bool)
}

// AnimationOps — управление анимационной машиной
type AnimationOps interface {
	GetState(entity uint64) string
	GoToState(entity uint64, state string)
	GetProgress(entity uint64) float64
	SetDirection(entity uint64, direction int)
}

// ActorOps — доступ к вводу и составу акторов мира
type ActorOps interface {
	IsKeyDown(actor uint64, key string) bool
	ActiveActors() []uint64
}

// Capabilities — ячейки с возможностями мира. Заём, не удавшийся
// из-за реентерабельного вызова, превращается в безобидный дефолт.
type Capabilities struct {
	Physics   *util.BorrowCell[PhysicsOps]
	Nodes     *util.BorrowCell[NodeOps]
	Animation *util.BorrowCell[AnimationOps]
	Actors    *util.BorrowCell[ActorOps]
}

// Идентификаторы сущностей и акторов переходят границу Lua строками:
// 64-битные snowflake-значения не влезают в число с плавающей точкой.

func pushID(L *lua.LState, id uint64) {
	L.Push(lua.LString(strconv.FormatUint(id, 10)))
}

func checkID(L *lua.LState, n int) (uint64, bool) {
	s := L.CheckString(n)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// installShiku регистрирует глобальную таблицу shiku с четырьмя
// модулями возможностей
func (e *Engine) installShiku() {
	L := e.L
	shiku := L.NewTable()

	physics := L.NewTable()
	L.SetField(physics, "add_fixed_rigid_body", L.NewFunction(func(L *lua.LState) int {
		x := float64(L.CheckNumber(1))
		y := float64(L.CheckNumber(2))
		ops, ok := e.caps.Physics.TryBorrow()
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		defer e.caps.Physics.Release()
		pushID(L, ops.AddFixedRigidBody(x, y))
		return 1
	}))
	L.SetField(physics, "get_rigid_body_handle", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		ops, ok := e.caps.Physics.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Physics.Release()
			}
			L.Push(lua.LNil)
			return 1
		}
		defer e.caps.Physics.Release()
		handle, found := ops.GetRigidBodyHandle(id)
		if !found {
			L.Push(lua.LNil)
			return 1
		}
		pushID(L, handle)
		return 1
	}))
	L.SetField(physics, "set_entity_desired_translation", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		x := float64(L.CheckNumber(2))
		y := float64(L.CheckNumber(3))
		ops, ok := e.caps.Physics.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Physics.Release()
			}
			return 0
		}
		defer e.caps.Physics.Release()
		ops.SetEntityDesiredTranslation(id, x, y)
		return 0
	}))
	L.SetField(physics, "add_force_to_rigid_body", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		x := float64(L.CheckNumber(2))
		y := float64(L.CheckNumber(3))
		ops, ok := e.caps.Physics.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Physics.Release()
			}
			return 0
		}
		defer e.caps.Physics.Release()
		ops.AddForceToRigidBody(id, x, y)
		return 0
	}))
	L.SetField(physics, "apply_impulse_to_rigid_body", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		x := float64(L.CheckNumber(2))
		y := float64(L.CheckNumber(3))
		ops, ok := e.caps.Physics.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Physics.Release()
			}
			return 0
		}
		defer e.caps.Physics.Release()
		ops.ApplyImpulseToRigidBody(id, x, y)
		return 0
	}))
	L.SetField(shiku, "physics", physics)

	nodes := L.NewTable()
	L.SetField(nodes, "get_child_animation_entity", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		ops, ok := e.caps.Nodes.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Nodes.Release()
			}
			L.Push(lua.LNil)
			return 1
		}
		defer e.caps.Nodes.Release()
		child, found := ops.GetChildAnimationEntity(id)
		if !found {
			L.Push(lua.LNil)
			return 1
		}
		pushID(L, child)
		return 1
	}))
	L.SetField(shiku, "nodes", nodes)

	animation := L.NewTable()
	L.SetField(animation, "get_state", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		ops, ok := e.caps.Animation.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Animation.Release()
			}
			L.Push(lua.LString(""))
			return 1
		}
		defer e.caps.Animation.Release()
		L.Push(lua.LString(ops.GetState(id)))
		return 1
	}))
	L.SetField(animation, "go_to_state", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		state := L.CheckString(2)
		ops, ok := e.caps.Animation.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Animation.Release()
			}
			return 0
		}
		defer e.caps.Animation.Release()
		ops.GoToState(id, state)
		return 0
	}))
	L.SetField(animation, "get_progress", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		ops, ok := e.caps.Animation.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Animation.Release()
			}
			L.Push(lua.LNumber(0))
			return 1
		}
		defer e.caps.Animation.Release()
		L.Push(lua.LNumber(ops.GetProgress(id)))
		return 1
	}))
	L.SetField(animation, "set_direction", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		dir := L.CheckInt(2)
		ops, ok := e.caps.Animation.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Animation.Release()
			}
			return 0
		}
		defer e.caps.Animation.Release()
		ops.SetDirection(id, dir)
		return 0
	}))
	L.SetField(shiku, "animation", animation)

	actors := L.NewTable()
	L.SetField(actors, "is_key_down", L.NewFunction(func(L *lua.LState) int {
		id, idOK := checkID(L, 1)
		key := L.CheckString(2)
		ops, ok := e.caps.Actors.TryBorrow()
		if !idOK || !ok {
			if ok {
				e.caps.Actors.Release()
			}
			L.Push(lua.LFalse)
			return 1
		}
		defer e.caps.Actors.Release()
		L.Push(lua.LBool(ops.IsKeyDown(id, key)))
		return 1
	}))
	L.SetField(actors, "get_active_actors", L.NewFunction(func(L *lua.LState) int {
		ops, ok := e.caps.Actors.TryBorrow()
		if !ok {
			L.Push(L.NewTable())
			return 1
		}
		defer e.caps.Actors.Release()
		tbl := L.NewTable()
		for _, a := range ops.ActiveActors() {
			tbl.Append(lua.LString(strconv.FormatUint(a, 10)))
		}
		L.Push(tbl)
		return 1
	}))
	L.SetField(shiku, "actors", actors)

	L.SetGlobal("shiku", shiku)
}
