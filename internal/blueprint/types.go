package blueprint

import "github.com/annel0/shiku-server/internal/vec"

// Kinds ресурсов в манифесте модуля
const (
	ResourceImage   = "image"
	ResourceTileset = "tileset"
	ResourceScene   = "scene"
	ResourceMap     = "map"
	ResourceScript  = "script"
)

// Resource — один элемент манифеста модуля
type Resource struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// InsertPoint — именованный вход модуля
type InsertPoint struct {
	Name    string `json:"name"`
	MapPath string `json:"map_path,omitempty"` // Карта, в которую попадает гость
}

// ExitPoint — именованный выход модуля
type ExitPoint struct {
	Name string `json:"name"`
}

// GidRange — диапазон глобальных идентификаторов тайлов одного тайлсета.
// Тайлсет занимает [FirstGid, FirstGid + tile_count).
type GidRange struct {
	TilesetPath string `json:"tileset_path"`
	FirstGid    uint32 `json:"first_gid"`
}

// GidMap — упорядоченный список диапазонов
type GidMap []GidRange

// Module — описание игрового модуля (<name>.module.json)
type Module struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Resources      []Resource    `json:"resources"`
	InsertPoints   []InsertPoint `json:"insert_points"`
	ExitPoints     []ExitPoint   `json:"exit_points"`
	MaxGuests      int           `json:"max_guests"`
	CloseAfterFull bool          `json:"close_after_full"`
	MainMapPath    string        `json:"main_map_path"`
	GidMap         GidMap        `json:"gid_map"`
}

// TerrainChunk — квадратный участок слоя тайлов.
// Data хранит gid'ы построчно, длина — chunk_size².
type TerrainChunk struct {
	Position vec.Vec2 `json:"position"` // Координаты чанка (в чанках)
	Data     []uint32 `json:"data"`
}

// GameMap — описание карты (<name>.map.json)
type GameMap struct {
	WorldID       string                    `json:"world_id"` // uuid
	Name          string                    `json:"name"`
	ChunkSize     int                       `json:"chunk_size"`
	TileWidth     int                       `json:"tile_width"`
	TileHeight    int                       `json:"tile_height"`
	Terrain       map[string][]TerrainChunk `json:"terrain"` // layer_kind -> chunks
	Parallax      float64                   `json:"parallax,omitempty"`
	MainScenePath string                    `json:"main_scene_path"`
}

// Значения game_node_kind
const (
	GameNodeKindNode2D   = "Node2D"
	GameNodeKindInstance = "Instance"
)

// Значения node_2d_kind
const (
	Node2DKindNode2D    = "Node2D"
	Node2DKindRigidBody = "RigidBody"
	Node2DKindCollider  = "Collider"
	Node2DKindRender    = "Render"
)

// Значения render_kind
const (
	RenderKindSprite         = "Sprite"
	RenderKindAnimatedSprite = "AnimatedSprite"
)

// Значения rigid_body_type
const (
	BodyDynamic           = "dynamic"
	BodyFixed             = "fixed"
	BodyKinematicPosition = "kinematic_position"
	BodyKinematicVelocity = "kinematic_velocity"
)

// Transform — позиция/поворот/масштаб узла
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	ScaleX   float64 `json:"scale_x"`
	ScaleY   float64 `json:"scale_y"`
}

// Формы коллизии
const (
	ShapeRect     = "rect"
	ShapeCircle   = "circle"
	ShapePolygon  = "polygon"
	ShapePolyline = "polyline"
)

// CollisionShape — геометрия коллайдера узла или тайла
type CollisionShape struct {
	Kind   string       `json:"kind"`
	Width  float64      `json:"width,omitempty"`
	Height float64      `json:"height,omitempty"`
	Radius float64      `json:"radius,omitempty"`
	Points [][2]float64 `json:"points,omitempty"` // polygon / polyline
}

// CharacterControllerConfig — параметры кинематического контроллера
type CharacterControllerConfig struct {
	Offset        float64 `json:"offset"`          // Зазор до препятствия
	MaxSlideIters int     `json:"max_slide_iters"` // Итерации collide-and-slide
	SnapToGround  float64 `json:"snap_to_ground,omitempty"`
}

// AnimationState — одно состояние анимационной машины персонажа
type AnimationState struct {
	ID         string   `json:"id"`
	FrameGids  []uint32 `json:"frame_gids"`  // Кадры для направления "вправо"
	FrameTime  float64  `json:"frame_time"`  // Секунд на кадр
	Loop       bool     `json:"loop"`
	Directions int      `json:"directions,omitempty"` // Сколько направлений в тайлсете
}

// GameNode — узел дерева сцены (<name>.scene.json)
type GameNode struct {
	GameNodeKind string     `json:"game_node_kind"`
	Node2DKind   string     `json:"node_2d_kind,omitempty"`
	Name         string     `json:"name"`
	ID           string     `json:"id"`
	ScriptPath   string     `json:"script_path,omitempty"`
	Transform    *Transform `json:"transform,omitempty"`

	BodyType string          `json:"body_type,omitempty"`
	Collider *CollisionShape `json:"collider,omitempty"`

	RenderKind    string     `json:"render_kind,omitempty"`
	RenderGid     uint32     `json:"render_gid,omitempty"`
	RenderOffsetX float64    `json:"render_offset_x,omitempty"`
	RenderOffsetY float64    `json:"render_offset_y,omitempty"`
	RenderLayer   int        `json:"render_layer,omitempty"`

	KinematicCharacter *CharacterControllerConfig `json:"kinematic_character,omitempty"`
	Animation          []AnimationState           `json:"animation,omitempty"`

	ScenePath string     `json:"scene_path,omitempty"` // Для GameNodeKind == Instance
	Children  []GameNode `json:"children,omitempty"`
}

// Scene — дерево игровых узлов
type Scene struct {
	Name string   `json:"name"`
	Root GameNode `json:"root"`
}

// TileMeta — метаданные одного тайла
type TileMeta struct {
	ID        uint32          `json:"id"`
	Collision *CollisionShape `json:"collision,omitempty"`
}

// Tileset — описание тайлсета (<name>.tileset.json)
type Tileset struct {
	Name       string     `json:"name"`
	Image      string     `json:"image"`
	TileWidth  int        `json:"tile_width"`
	TileHeight int        `json:"tile_height"`
	TileCount  uint32     `json:"tile_count"`
	Columns    int        `json:"columns"`
	Tiles      []TileMeta `json:"tiles,omitempty"`
}

// ExitTarget — целевой модуль и входной слот для выходного слота
type ExitTarget struct {
	ModuleID   string `json:"module_id"`
	InsertSlot string `json:"insert_slot"`
}

// Conductor — глобальный граф связей модулей (conductor.json)
type Conductor struct {
	// exit_slot_name -> (module, insert_slot)
	ModuleConnectionMap map[string]ExitTarget `json:"module_connection_map"`
	MainDoorOpen        bool                  `json:"main_door_open"`
	BackDoorOpen        bool                  `json:"back_door_open"`
}

// CollisionFor возвращает форму коллизии локального тайла (nil если нет)
func (t *Tileset) CollisionFor(localID uint32) *CollisionShape {
	for i := range t.Tiles {
		if t.Tiles[i].ID == localID {
			return t.Tiles[i].Collision
		}
	}
	return nil
}

// Resolve возвращает (tileset_path, local_id) для глобального gid.
// Диапазоны упорядочены по FirstGid; берётся последний подходящий.
func (gm GidMap) Resolve(gid uint32) (string, uint32, bool) {
	var path string
	var first uint32
	found := false
	for _, r := range gm {
		if gid >= r.FirstGid && (!found || r.FirstGid > first) {
			path = r.TilesetPath
			first = r.FirstGid
			found = true
		}
	}
	if !found {
		return "", 0, false
	}
	return path, gid - first, true
}
