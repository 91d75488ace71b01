package ecs

import (
	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/physics"
	"github.com/annel0/shiku-server/internal/vec"
)

// KinematicCharacter — компонент кинематического персонажа.
// Desired накапливается скриптами за тик и очищается контроллером.
type KinematicCharacter struct {
	Desired vec.Vec2F
	Config  physics.CharacterConfig
}

// CharacterAnimation — машина состояний анимации персонажа
type CharacterAnimation struct {
	States    map[string]blueprint.AnimationState
	Current   string
	Direction int
	Elapsed   float64
}

// ResolveGid возвращает gid текущего кадра анимации. Направления
// лежат в тайлсете построчно: кадр направления d смещён на
// d * len(frames) от базового ряда.
func (a *CharacterAnimation) ResolveGid() (uint32, bool) {
	state, ok := a.States[a.Current]
	if !ok || len(state.FrameGids) == 0 || state.FrameTime <= 0 {
		return 0, false
	}
	idx := int(a.Elapsed / state.FrameTime)
	if state.Loop {
		idx %= len(state.FrameGids)
	} else if idx >= len(state.FrameGids) {
		idx = len(state.FrameGids) - 1
	}
	gid := state.FrameGids[idx]
	if state.Directions > 1 && a.Direction > 0 && a.Direction < state.Directions {
		gid += uint32(a.Direction * len(state.FrameGids))
	}
	return gid, true
}

// Advance продвигает время анимации
func (a *CharacterAnimation) Advance(dt float64) {
	a.Elapsed += dt
}

// GoToState переключает состояние и сбрасывает время
func (a *CharacterAnimation) GoToState(id string) {
	if a.Current == id {
		return
	}
	a.Current = id
	a.Elapsed = 0
}

// Progress возвращает прогресс текущего состояния в [0, 1]
func (a *CharacterAnimation) Progress() float64 {
	state, ok := a.States[a.Current]
	if !ok || state.FrameTime <= 0 || len(state.FrameGids) == 0 {
		return 0
	}
	total := state.FrameTime * float64(len(state.FrameGids))
	p := a.Elapsed / total
	if state.Loop {
		p = p - float64(int(p))
	} else if p > 1 {
		p = 1
	}
	return p
}
