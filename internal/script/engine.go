package script

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/protocol"
)

// Имена жизненного цикла, которые может определить скрипт
const (
	fnInit        = "init"
	fnUpdate      = "update"
	fnActorJoined = "on_actor_joined"
	fnActorLeft   = "on_actor_left"
)

// entityScript — скрипт, привязанный к одной сущности: скомпилированный
// чанк уже выполнен, его определения живут в env. Snapshot — последний
// наблюдавшийся скоуп для вычисления дельт.
type entityScript struct {
	path   string
	source string
	env    *lua.LTable

	hasInit   bool
	hasUpdate bool
	hasJoined bool
	hasLeft   bool

	snapshot map[string]protocol.ScopeValue
}

// Engine — скриптовый движок одного мира. Один LState на мир,
// по окружению на сущность. Не потокобезопасен.
type Engine struct {
	L    *lua.LState
	caps Capabilities
	log  *logging.Logger

	entities map[uint64]*entityScript

	// Сущности, чья ошибка уже залогирована в текущем тике
	errored map[uint64]bool
}

// NewEngine создаёт движок с возможностями мира
func NewEngine(caps Capabilities, log *logging.Logger) *Engine {
	e := &Engine{
		L:        lua.NewState(lua.Options{SkipOpenLibs: false}),
		caps:     caps,
		log:      log,
		entities: make(map[uint64]*entityScript),
		errored:  make(map[uint64]bool),
	}
	e.installShiku()
	return e
}

// Close освобождает Lua-состояние
func (e *Engine) Close() {
	e.L.Close()
}

// Compile проверяет, что исходник компилируется, не привязывая его
// ни к одной сущности
func (e *Engine) Compile(path, source string) error {
	_, err := e.L.Load(strings.NewReader(source), path)
	if err != nil {
		return fmt.Errorf("script: compile %s: %w", path, err)
	}
	return nil
}

// Attach привязывает скрипт к сущности: компилирует чанк, выполняет
// его в свежем окружении и находит функции жизненного цикла.
// init не вызывается, это делает вызывающий через CallInit.
func (e *Engine) Attach(entity uint64, path, source string) error {
	fn, err := e.L.Load(strings.NewReader(source), path)
	if err != nil {
		return fmt.Errorf("script: compile %s: %w", path, err)
	}

	env := e.L.NewTable()
	mt := e.L.NewTable()
	e.L.SetField(mt, "__index", e.L.G.Global)
	e.L.SetMetatable(env, mt)
	env.RawSetString("entity_id", lua.LString(strconv.FormatUint(entity, 10)))

	e.L.SetFEnv(fn, env)
	e.L.Push(fn)
	if err := e.L.PCall(0, 0, nil); err != nil {
		return fmt.Errorf("script: run %s: %w", path, err)
	}

	es := &entityScript{
		path:     path,
		source:   source,
		env:      env,
		snapshot: map[string]protocol.ScopeValue{},
	}
	es.hasInit = isFunction(env.RawGetString(fnInit))
	es.hasUpdate = isFunction(env.RawGetString(fnUpdate))
	es.hasJoined = isFunction(env.RawGetString(fnActorJoined))
	es.hasLeft = isFunction(env.RawGetString(fnActorLeft))

	e.entities[entity] = es
	return nil
}

// Detach отвязывает скрипт от сущности
func (e *Engine) Detach(entity uint64) {
	delete(e.entities, entity)
	delete(e.errored, entity)
}

// Has сообщает, привязан ли к сущности скрипт
func (e *Engine) Has(entity uint64) bool {
	_, ok := e.entities[entity]
	return ok
}

// EntitiesWithPath возвращает сущности, использующие данный скрипт
func (e *Engine) EntitiesWithPath(path string) []uint64 {
	var out []uint64
	for id, es := range e.entities {
		if es.path == path {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CallInit вызывает init и фиксирует начальный скоуп как снапшот
func (e *Engine) CallInit(entity uint64) {
	es, ok := e.entities[entity]
	if !ok {
		return
	}
	if es.hasInit {
		e.call(entity, es, fnInit)
	}
	es.snapshot = scopeOf(es.env)
}

// CallActorJoined оповещает все скрипты о входе актора в мир
func (e *Engine) CallActorJoined(actor uint64) {
	for id, es := range e.entities {
		if es.hasJoined {
			e.call(id, es, fnActorJoined, lua.LString(strconv.FormatUint(actor, 10)))
		}
	}
}

// CallActorLeft оповещает все скрипты о выходе актора из мира
func (e *Engine) CallActorLeft(actor uint64) {
	for id, es := range e.entities {
		if es.hasLeft {
			e.call(id, es, fnActorLeft, lua.LString(strconv.FormatUint(actor, 10)))
		}
	}
}

// UpdateAll вызывает update каждого скрипта и возвращает дельты
// скоупов, чьи строковые или числовые переменные изменились
func (e *Engine) UpdateAll() []protocol.EntityUpdate {
	for id := range e.errored {
		delete(e.errored, id)
	}

	ids := make([]uint64, 0, len(e.entities))
	for id := range e.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var updates []protocol.EntityUpdate
	for _, id := range ids {
		es := e.entities[id]
		if es.hasUpdate {
			e.call(id, es, fnUpdate)
		}
		scope := scopeOf(es.env)
		if scopeChanged(es.snapshot, scope) {
			es.snapshot = scope
			updates = append(updates, protocol.EntityUpdate{
				Entity: protocol.EntityID(id),
				Kind:   protocol.EUUpdateScriptScope,
				Scope:  scope,
			})
		}
	}
	return updates
}

// Recompile заменяет исходник скрипта для всех использующих его
// сущностей. При ошибке компиляции старый код продолжает работать.
func (e *Engine) Recompile(path, source string) error {
	if err := e.Compile(path, source); err != nil {
		return err
	}
	for _, id := range e.EntitiesWithPath(path) {
		if err := e.Attach(id, path, source); err != nil {
			e.log.Error("Re-attach of %s to entity %d failed: %v", path, id, err)
			continue
		}
		e.CallInit(id)
	}
	return nil
}

// Scope возвращает копию последнего снапшота скоупа сущности
func (e *Engine) Scope(entity uint64) map[string]protocol.ScopeValue {
	es, ok := e.entities[entity]
	if !ok {
		return nil
	}
	out := make(map[string]protocol.ScopeValue, len(es.snapshot))
	for k, v := range es.snapshot {
		out[k] = v
	}
	return out
}

// SetScopeVar записывает одну переменную в скоуп. Снапшот не трогаем:
// дельта уйдёт наблюдателям на следующем тике.
func (e *Engine) SetScopeVar(entity uint64, key string, value protocol.ScopeValue) {
	es, ok := e.entities[entity]
	if !ok {
		return
	}
	es.env.RawSetString(key, toLua(value))
}

// ReplaceScope перезаписывает скоуп целиком
func (e *Engine) ReplaceScope(entity uint64, scope map[string]protocol.ScopeValue) {
	es, ok := e.entities[entity]
	if !ok {
		return
	}
	for k, v := range scope {
		es.env.RawSetString(k, toLua(v))
	}
}

// call вызывает функцию жизненного цикла, логируя ошибку не чаще
// раза за тик на сущность
func (e *Engine) call(entity uint64, es *entityScript, name string, args ...lua.LValue) {
	fn, ok := es.env.RawGetString(name).(*lua.LFunction)
	if !ok {
		return
	}
	e.L.Push(fn)
	for _, a := range args {
		e.L.Push(a)
	}
	if err := e.L.PCall(len(args), 0, nil); err != nil {
		if !e.errored[entity] {
			e.errored[entity] = true
			e.log.Error("Script %s entity %d %s(): %v", es.path, entity, name, err)
		}
	}
}

func isFunction(v lua.LValue) bool {
	_, ok := v.(*lua.LFunction)
	return ok
}

// scopeOf собирает строковые и числовые переменные окружения
func scopeOf(env *lua.LTable) map[string]protocol.ScopeValue {
	out := map[string]protocol.ScopeValue{}
	env.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok || string(key) == "entity_id" {
			return
		}
		switch val := v.(type) {
		case lua.LString:
			out[string(key)] = protocol.ScopeValue{Kind: protocol.ScopeString, Str: string(val)}
		case lua.LNumber:
			out[string(key)] = protocol.ScopeValue{Kind: protocol.ScopeNumber, Num: float64(val)}
		}
	})
	return out
}

func scopeChanged(old, cur map[string]protocol.ScopeValue) bool {
	if len(old) != len(cur) {
		return true
	}
	for k, v := range cur {
		if old[k] != v {
			return true
		}
	}
	return false
}

func toLua(v protocol.ScopeValue) lua.LValue {
	if v.Kind == protocol.ScopeNumber {
		return lua.LNumber(v.Num)
	}
	return lua.LString(v.Str)
}
