package protocol

import (
	"github.com/annel0/shiku-server/internal/blueprint"
)

// Ticket — первый кадр клиента после открытия сокета.
// Пустой session_id означает нового актора.
type Ticket struct {
	SessionID   string `json:"session_id,omitempty"`
	AdminLogin  bool   `json:"admin_login,omitempty"`
	AdminTicket string `json:"admin_ticket,omitempty"` // JWT, выданный после проверки пароля
}

// Виды входящих кадров
const (
	FrameGuestToSystem = "GuestToSystem"
	FrameGuestToModule = "GuestToModule"
	FrameAdminToSystem = "AdminToSystem"
)

// ProviderPayload — данные OAuth-редиректа стороннего провайдера
type ProviderPayload struct {
	Provider string `json:"provider"` // twitch | ...
	Code     string `json:"code"`
	State    string `json:"state,omitempty"`
}

// GuestInput — состояние ввода гостя (нажатые клавиши)
type GuestInput struct {
	Keys map[string]bool `json:"keys"`
}

// Типы GuestToSystem
const (
	GTSProviderLoggedIn = "ProviderLoggedIn"
	GTSPing             = "Ping"
)

// GuestToSystem — системные сообщения гостя
type GuestToSystem struct {
	Type     string           `json:"type"`
	Provider *ProviderPayload `json:"provider,omitempty"`
}

// Типы событий GuestToModule
const (
	GTMControlInput       = "ControlInput"
	GTMResourcesLoaded    = "ResourcesLoaded"
	GTMWorldInitialized   = "WorldInitialized"
	GTMWantToChangeModule = "WantToChangeModule"
)

// GuestModuleEvent — вложенное событие, адресованное инстансу
type GuestModuleEvent struct {
	Type     string      `json:"type"`
	Input    *GuestInput `json:"input,omitempty"`
	ModuleID ModuleID    `json:"module_id,omitempty"` // ResourcesLoaded
	WorldID  WorldID     `json:"world_id,omitempty"`  // WorldInitialized
	ExitSlot string      `json:"exit_slot,omitempty"` // WantToChangeModule
}

// GuestToModule — сообщение гостя, адресованное конкретному инстансу
type GuestToModule struct {
	ModuleID   ModuleID         `json:"module_id"`
	InstanceID InstanceID       `json:"instance_id"`
	WorldID    WorldID          `json:"world_id,omitempty"`
	Event      GuestModuleEvent `json:"event"`
}

// Типы AdminToSystem
const (
	ATSProviderLoggedIn     = "ProviderLoggedIn"
	ATSControlInput         = "ControlInput"
	ATSWorldInitialized     = "WorldInitialized"
	ATSOpenInstance         = "OpenInstance"
	ATSStartInspectingWorld = "StartInspectingWorld"
	ATSStopInspectingWorld  = "StopInspectingWorld"
	ATSUpdateMap            = "UpdateMap"
	ATSCreateMap            = "CreateMap"
	ATSDeleteMap            = "DeleteMap"
	ATSGetResource          = "GetResource"
	ATSBrowseFolder         = "BrowseFolder"
	ATSUpdateConductor      = "UpdateConductor"
	ATSLoadEditorData       = "LoadEditorData"
	ATSCreateTileset        = "CreateTileset"
	ATSUpdateTileset        = "UpdateTileset"
	ATSSetTileset           = "SetTileset"
	ATSDeleteTileset        = "DeleteTileset"
	ATSCreateScene          = "CreateScene"
	ATSDeleteScene          = "DeleteScene"
	ATSUpdateSceneNode      = "UpdateSceneNode"
	ATSUpdateModule         = "UpdateModule"
	ATSCreateModule         = "CreateModule"
	ATSDeleteModule         = "DeleteModule"
	ATSCreateScript         = "CreateScript"
	ATSUpdateScript         = "UpdateScript"
	ATSDeleteScript         = "DeleteScript"
	ATSUpdateInstancedNode  = "UpdateInstancedNode"
	ATSRemoveInstanceNode   = "RemoveInstanceNode"
	ATSAddNodeToInstanceNode = "AddNodeToInstanceNode"
	ATSSetMainDoorStatus    = "SetMainDoorStatus"
	ATSSetBackDoorStatus    = "SetBackDoorStatus"
	ATSPing                 = "Ping"
)

// WorldAddress указывает мир внутри инстанса модуля
type WorldAddress struct {
	ModuleID   ModuleID   `json:"module_id"`
	InstanceID InstanceID `json:"instance_id"`
	WorldID    WorldID    `json:"world_id,omitempty"`
}

// Варианты UpdateSceneNode
const (
	SceneNodeUpdateData  = "UpdateData"
	SceneNodeAddChild    = "AddChild"
	SceneNodeRemoveChild = "RemoveChild"
)

// SceneNodeUpdate — редактирование узла сохранённой сцены
type SceneNodeUpdate struct {
	ScenePath string              `json:"scene_path"`
	NodeID    string              `json:"node_id"`
	Kind      string              `json:"kind"` // UpdateData | AddChild | RemoveChild
	Data      *blueprint.GameNode `json:"data,omitempty"`
	Child     *blueprint.GameNode `json:"child,omitempty"`
	ChildID   string              `json:"child_id,omitempty"`
}

// MapChunkUpdate — замена чанка слоя карты
type MapChunkUpdate struct {
	MapPath string                 `json:"map_path"`
	Layer   string                 `json:"layer"`
	Chunk   blueprint.TerrainChunk `json:"chunk"`
}

// CreateMapRequest — создание новой карты редактором
type CreateMapRequest struct {
	ModuleID   ModuleID `json:"module_id"`
	Name       string   `json:"name"`
	ChunkSize  int      `json:"chunk_size"`
	TileWidth  int      `json:"tile_width"`
	TileHeight int      `json:"tile_height"`
	Generate   bool     `json:"generate,omitempty"` // Заполнить слой ground генератором
	Seed       int64    `json:"seed,omitempty"`
}

// AdminToSystem — команды администратора/редактора
type AdminToSystem struct {
	Type string `json:"type"`

	Provider *ProviderPayload `json:"provider,omitempty"`
	Input    *GuestInput      `json:"input,omitempty"`
	Address  *WorldAddress    `json:"address,omitempty"`

	// Пути ресурсов (GetResource, Delete*, BrowseFolder, скрипты)
	Path   string `json:"path,omitempty"`
	Source string `json:"source,omitempty"` // Исходник скрипта

	MapUpdate *MapChunkUpdate   `json:"map_update,omitempty"`
	CreateMap *CreateMapRequest `json:"create_map,omitempty"`

	Conductor *blueprint.Conductor `json:"conductor,omitempty"`
	Tileset   *blueprint.Tileset   `json:"tileset,omitempty"`
	Scene     *blueprint.Scene     `json:"scene,omitempty"`
	Module    *blueprint.Module    `json:"module,omitempty"`
	SceneNode *SceneNodeUpdate     `json:"scene_node,omitempty"`

	// Живое редактирование мира
	EntityUpdate *EntityUpdate       `json:"entity_update,omitempty"`
	EntityID     EntityID            `json:"entity_id,omitempty"`
	ParentID     EntityID            `json:"parent_id,omitempty"`
	Node         *blueprint.GameNode `json:"node,omitempty"`

	Name string `json:"name,omitempty"` // CreateModule
	Open bool   `json:"open,omitempty"` // SetMainDoorStatus / SetBackDoorStatus
}
