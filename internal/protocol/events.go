package protocol

import "github.com/annel0/shiku-server/internal/blueprint"

// Типы исходящих CommunicationEvent
const (
	CEConnectionReady   = "ConnectionReady"
	CEAlreadyConnected  = "AlreadyConnected"
	CESignal            = "Signal"
	CEToast             = "Toast"
	CEPrepareGame       = "PrepareGame"
	CEUnloadGame        = "UnloadGame"
	CEResourceEvent     = "ResourceEvent"
	CEGameSystemEvent   = "GameSystemEvent"
	CEShowGlobalMessage = "ShowGlobalMessage"
	CEEditorEvent       = "EditorEvent"
)

// Сигналы логина
const (
	SignalLoginSuccess = "LoginSuccess"
	SignalLoginFailed  = "LoginFailed"
)

// Уровни тостов
const (
	ToastInfo  = "info"
	ToastWarn  = "warn"
	ToastError = "error"
)

// Toast — всплывающее сообщение пользователю
type Toast struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// TerrainParams — параметры местности, нужные клиенту для отрисовки
type TerrainParams struct {
	ChunkSize  int                                 `json:"chunk_size"`
	TileWidth  int                                 `json:"tile_width"`
	TileHeight int                                 `json:"tile_height"`
	Parallax   float64                             `json:"parallax,omitempty"`
	Layers     map[string][]blueprint.TerrainChunk `json:"layers"`
}

// PrepareGame — пакет, по которому клиент загружает модуль
type PrepareGame struct {
	ModuleID   ModuleID                      `json:"module_id"`
	InstanceID InstanceID                    `json:"instance_id"`
	WorldID    WorldID                       `json:"world_id,omitempty"`
	Resources  []blueprint.Resource          `json:"resources"`
	Terrain    *TerrainParams                `json:"terrain,omitempty"`
	Tilesets   map[string]*blueprint.Tileset `json:"tilesets"`
	GidMap     blueprint.GidMap              `json:"gid_map"`
}

// Типы ResourceEvent
const (
	RELoadAssets   = "LoadAssets"
	REUnloadAssets = "UnloadAssets"
)

// ResourceEvent — дельта ресурсов для одного актора
type ResourceEvent struct {
	Type   string               `json:"type"`
	Assets []blueprint.Resource `json:"assets"`
}

// Типы GameSystemEvent
const (
	GSEEntityAdded    = "EntityAdded"
	GSEEntityRemoved  = "EntityRemoved"
	GSEEntityUpdated  = "EntityUpdated"
	GSEWorldResumed   = "WorldResumed"
	GSETerrainUpdated = "TerrainUpdated"
)

// EntitySnapshot — полное описание сущности для наблюдателя
type EntitySnapshot struct {
	Entity     EntityID              `json:"entity"`
	Parent     EntityID              `json:"parent,omitempty"`
	Name       string                `json:"name,omitempty"`
	NodeID     string                `json:"node_id,omitempty"`
	Transform  *blueprint.Transform  `json:"transform,omitempty"`
	RenderKind string                `json:"render_kind,omitempty"`
	RenderGid  uint32                `json:"render_gid,omitempty"`
	Layer      int                   `json:"layer,omitempty"`
	ScriptPath string                `json:"script_path,omitempty"`
	Scope      map[string]ScopeValue `json:"scope,omitempty"`
}

// GameSystemEvent — событие мира, доставляемое наблюдателям
type GameSystemEvent struct {
	Type     string                 `json:"type"`
	Entities []EntitySnapshot       `json:"entities,omitempty"`
	Removed  []EntityID             `json:"removed,omitempty"`
	Updates  []EntityUpdate         `json:"updates,omitempty"`
	Chunk    *blueprint.TerrainChunk `json:"chunk,omitempty"`
	Layer    string                 `json:"layer,omitempty"`
}

// Типы EditorEvent
const (
	EEEditorData     = "EditorData"     // Полный список модулей и ресурсов
	EEResourceData   = "ResourceData"   // Содержимое запрошенного ресурса
	EEFolderListing  = "FolderListing"
	EESaved          = "Saved"          // Подтверждение сохранения
	EEScriptError    = "ScriptError"    // Ошибка компиляции скрипта
	EEBlueprintError = "BlueprintError" // Ошибка применения команды редактора
	EEInstanceList   = "InstanceList"
	EEWorldState     = "WorldState" // Снапшот мира для инспекции
)

// EditorModuleInfo — модуль в списке редактора
type EditorModuleInfo struct {
	Path   string            `json:"path"`
	Module *blueprint.Module `json:"module"`
}

// EditorInstanceInfo — живой инстанс в списке редактора
type EditorInstanceInfo struct {
	ModuleID   ModuleID   `json:"module_id"`
	InstanceID InstanceID `json:"instance_id"`
	Guests     int        `json:"guests"`
	Closed     bool       `json:"closed"`
	WorldIDs   []WorldID  `json:"world_ids"`
}

// EditorEvent — ответы редактору
type EditorEvent struct {
	Type string `json:"type"`

	Modules   []EditorModuleInfo     `json:"modules,omitempty"`
	Conductor *blueprint.Conductor   `json:"conductor,omitempty"`
	Path      string                 `json:"path,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Entries   []blueprint.FolderEntry `json:"entries,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Instances []EditorInstanceInfo   `json:"instances,omitempty"`
	Entities  []EntitySnapshot       `json:"entities,omitempty"`
	Address   *WorldAddress          `json:"address,omitempty"`
}

// CommunicationEvent — исходящий кадр сервера
type CommunicationEvent struct {
	Type string `json:"type"`

	SessionID  string `json:"session_id,omitempty"`
	NeedsLogin bool   `json:"needs_login,omitempty"`

	Signal string `json:"signal,omitempty"`
	Toast  *Toast `json:"toast,omitempty"`

	Prepare *PrepareGame  `json:"prepare,omitempty"`
	Address *WorldAddress `json:"address,omitempty"` // UnloadGame / GameSystemEvent

	ModuleID ModuleID         `json:"module_id,omitempty"`
	Resource *ResourceEvent   `json:"resource,omitempty"`
	Game     *GameSystemEvent `json:"game,omitempty"`
	Text     string           `json:"text,omitempty"`
	Editor   *EditorEvent     `json:"editor,omitempty"`
}
