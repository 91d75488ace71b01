package blueprint

import (
	"errors"
	"reflect"
	"testing"

	"github.com/annel0/shiku-server/internal/vec"
)

func TestModuleRoundTrip(t *testing.T) {
	l := NewLoader(t.TempDir())
	m := &Module{
		ID:   "hub",
		Name: "Hub",
		Resources: []Resource{
			{Path: "hub.tileset.json", Kind: ResourceTileset},
			{Path: "guard.script.lua", Kind: ResourceScript},
		},
		InsertPoints:   []InsertPoint{{Name: "north", MapPath: "north.map.json"}},
		ExitPoints:     []ExitPoint{{Name: "to_cave"}},
		MaxGuests:      8,
		CloseAfterFull: true,
		MainMapPath:    "hub.map.json",
		GidMap:         GidMap{{TilesetPath: "hub.tileset.json", FirstGid: 1}},
	}

	if err := l.SaveModule("hub.module.json", m); err != nil {
		t.Fatalf("Сохранение: %v", err)
	}
	got, err := l.LoadModule("hub.module.json")
	if err != nil {
		t.Fatalf("Чтение: %v", err)
	}
	if !reflect.DeepEqual(m, got) {
		t.Errorf("Модуль исказился:\nбыло  %+v\nстало %+v", m, got)
	}
}

func TestMapRoundTrip(t *testing.T) {
	l := NewLoader(t.TempDir())
	gm := &GameMap{
		WorldID:    "w-1",
		Name:       "hub",
		ChunkSize:  4,
		TileWidth:  16,
		TileHeight: 16,
		Terrain: map[string][]TerrainChunk{
			"ground": {{Position: vec.Vec2{X: 0, Y: 1}, Data: []uint32{0, 1, 2, 3}}},
		},
		MainScenePath: "hub.scene.json",
	}

	if err := l.SaveMap("hub.map.json", gm); err != nil {
		t.Fatalf("Сохранение: %v", err)
	}
	got, err := l.LoadMap("hub.map.json")
	if err != nil {
		t.Fatalf("Чтение: %v", err)
	}
	if !reflect.DeepEqual(gm, got) {
		t.Errorf("Карта исказилась:\nбыло  %+v\nстало %+v", gm, got)
	}
}

func TestSceneRoundTrip(t *testing.T) {
	l := NewLoader(t.TempDir())
	s := &Scene{
		Name: "guard_post",
		Root: GameNode{
			GameNodeKind: GameNodeKindNode2D,
			Node2DKind:   Node2DKindNode2D,
			Name:         "root",
			ID:           "n-root",
			Children: []GameNode{{
				GameNodeKind: GameNodeKindNode2D,
				Node2DKind:   Node2DKindRigidBody,
				Name:         "guard",
				ID:           "n-guard",
				BodyType:     BodyDynamic,
				Transform:    &Transform{X: 10, Y: 20, ScaleX: 1, ScaleY: 1},
				ScriptPath:   "guard.script.lua",
				Children: []GameNode{{
					GameNodeKind: GameNodeKindNode2D,
					Node2DKind:   Node2DKindCollider,
					Name:         "hitbox",
					ID:           "n-hitbox",
					Collider:     &CollisionShape{Kind: ShapeCircle, Radius: 8},
				}},
			}},
		},
	}

	if err := l.SaveScene("guard_post.scene.json", s); err != nil {
		t.Fatalf("Сохранение: %v", err)
	}
	got, err := l.LoadScene("guard_post.scene.json")
	if err != nil {
		t.Fatalf("Чтение: %v", err)
	}
	if !reflect.DeepEqual(s, got) {
		t.Errorf("Сцена исказилась:\nбыло  %+v\nстало %+v", s, got)
	}
}

func TestTilesetRoundTrip(t *testing.T) {
	l := NewLoader(t.TempDir())
	ts := &Tileset{
		Name:       "rocks",
		Image:      "rocks.png",
		TileWidth:  16,
		TileHeight: 16,
		TileCount:  4,
		Columns:    2,
		Tiles: []TileMeta{
			{ID: 0, Collision: &CollisionShape{Kind: ShapeRect, Width: 16, Height: 16}},
			{ID: 2, Collision: &CollisionShape{Kind: ShapePolyline, Points: [][2]float64{{-8, -8}, {8, -8}}}},
		},
	}

	if err := l.SaveTileset("rocks.tileset.json", ts); err != nil {
		t.Fatalf("Сохранение: %v", err)
	}
	got, err := l.LoadTileset("rocks.tileset.json")
	if err != nil {
		t.Fatalf("Чтение: %v", err)
	}
	if !reflect.DeepEqual(ts, got) {
		t.Errorf("Тайлсет исказился:\nбыло  %+v\nстало %+v", ts, got)
	}
}

func TestConductorRoundTripAndDefault(t *testing.T) {
	l := NewLoader(t.TempDir())

	// Отсутствующий файл — пустой граф, не ошибка
	empty, err := l.LoadConductor()
	if err != nil {
		t.Fatalf("Пустой граф: %v", err)
	}
	if empty.ModuleConnectionMap == nil || len(empty.ModuleConnectionMap) != 0 {
		t.Error("Пустой граф должен иметь инициализированную карту")
	}

	c := &Conductor{
		ModuleConnectionMap: map[string]ExitTarget{
			"main_door": {ModuleID: "hub"},
			"to_cave":   {ModuleID: "cave", InsertSlot: "west"},
		},
		MainDoorOpen: true,
	}
	if err := l.SaveConductor(c); err != nil {
		t.Fatalf("Сохранение: %v", err)
	}
	got, err := l.LoadConductor()
	if err != nil {
		t.Fatalf("Чтение: %v", err)
	}
	if !reflect.DeepEqual(c, got) {
		t.Errorf("Граф исказился:\nбыло  %+v\nстало %+v", c, got)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	l := NewLoader(t.TempDir())
	if _, err := l.LoadMap("../outside.map.json"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("Выход за корень не отвергнут: %v", err)
	}
	if _, err := l.LoadMap("/etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("Абсолютный путь не отвергнут: %v", err)
	}
}

func TestMissingResourceError(t *testing.T) {
	l := NewLoader(t.TempDir())
	if _, err := l.LoadScene("nope.scene.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Ожидался ErrNotFound: %v", err)
	}
}

func TestGenerateGidMapStableOrder(t *testing.T) {
	tilesets := map[string]*Tileset{
		"b.tileset.json": {TileCount: 4},
		"a.tileset.json": {TileCount: 10},
		"c.tileset.json": {TileCount: 2},
	}

	gm := GenerateGidMap(tilesets)
	want := GidMap{
		{TilesetPath: "a.tileset.json", FirstGid: 1},
		{TilesetPath: "b.tileset.json", FirstGid: 11},
		{TilesetPath: "c.tileset.json", FirstGid: 15},
	}
	if !reflect.DeepEqual(gm, want) {
		t.Errorf("Gid-карта: %+v", gm)
	}

	// Повторная генерация того же набора идентична
	if again := GenerateGidMap(tilesets); !reflect.DeepEqual(gm, again) {
		t.Error("Генерация нестабильна")
	}
}

func TestGidMapResolve(t *testing.T) {
	gm := GidMap{
		{TilesetPath: "a.tileset.json", FirstGid: 1},
		{TilesetPath: "b.tileset.json", FirstGid: 11},
	}

	path, local, ok := gm.Resolve(12)
	if !ok || path != "b.tileset.json" || local != 1 {
		t.Errorf("Resolve(12) = %s/%d/%v", path, local, ok)
	}
	path, local, ok = gm.Resolve(10)
	if !ok || path != "a.tileset.json" || local != 9 {
		t.Errorf("Resolve(10) = %s/%d/%v", path, local, ok)
	}
	if _, _, ok := gm.Resolve(0); ok {
		t.Error("Gid 0 (пустой тайл) не должен разрешаться")
	}
}
