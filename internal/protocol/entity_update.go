package protocol

import "github.com/annel0/shiku-server/internal/blueprint"

// Виды обновлений сущности. Через них проходит вся мутация ECS:
// и команды редактора, и исходящие дельты наблюдателям.
const (
	EUSetTransform      = "SetTransform"
	EUSetName           = "SetName"
	EUSetScriptPath     = "SetScriptPath"
	EUSetBodyKind       = "SetBodyKind"
	EUSetPosition       = "SetPosition"
	EUSetGid            = "SetGid"
	EUUpdateScopeVar    = "UpdateScopeVar"
	EUUpdateScriptScope = "UpdateScriptScope"
)

// Виды скоуп-значений
const (
	ScopeString = "string"
	ScopeNumber = "number"
)

// ScopeValue — значение переменной скриптового скоупа на проводе
type ScopeValue struct {
	Kind string  `json:"kind"` // string | number
	Str  string  `json:"str,omitempty"`
	Num  float64 `json:"num,omitempty"`
}

// Position3 — (x, y, rotation)
type Position3 struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
}

// EntityUpdate — одно типизированное обновление сущности
type EntityUpdate struct {
	Entity EntityID `json:"entity"`
	Kind   string   `json:"kind"`

	Transform  *blueprint.Transform  `json:"transform,omitempty"`
	Name       *string               `json:"name,omitempty"`
	ScriptPath *string               `json:"script_path,omitempty"`
	BodyKind   *string               `json:"body_kind,omitempty"`
	Position   *Position3            `json:"position,omitempty"`
	Gid        *uint32               `json:"gid,omitempty"`
	ScopeKey   string                `json:"scope_key,omitempty"`
	ScopeValue *ScopeValue           `json:"scope_value,omitempty"`
	Scope      map[string]ScopeValue `json:"scope,omitempty"`
}
