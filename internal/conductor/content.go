package conductor

import (
	"github.com/annel0/shiku-server/internal/blueprint"
)

// contentCache — кэширующая прослойка над загрузчиком чертежей.
// Скрипты, сцены и тайлсеты читаются много раз (каждый новый мир),
// карты всегда с диска: их правит редактор между созданиями миров.
// Трогается только из горутины кондуктора, блокировки не нужны.
type contentCache struct {
	loader *blueprint.Loader

	scripts  map[string]string
	scenes   map[string]*blueprint.Scene
	tilesets map[string]*blueprint.Tileset
}

func newContentCache(loader *blueprint.Loader) *contentCache {
	return &contentCache{
		loader:   loader,
		scripts:  make(map[string]string),
		scenes:   make(map[string]*blueprint.Scene),
		tilesets: make(map[string]*blueprint.Tileset),
	}
}

// ScriptSource отдаёт исходник скрипта из кэша или с диска
func (cc *contentCache) ScriptSource(path string) (string, error) {
	if src, ok := cc.scripts[path]; ok {
		return src, nil
	}
	src, err := cc.loader.LoadScript(path)
	if err != nil {
		return "", err
	}
	cc.scripts[path] = src
	return src, nil
}

// Scene отдаёт сцену из кэша или с диска
func (cc *contentCache) Scene(path string) (*blueprint.Scene, error) {
	if s, ok := cc.scenes[path]; ok {
		return s, nil
	}
	s, err := cc.loader.LoadScene(path)
	if err != nil {
		return nil, err
	}
	cc.scenes[path] = s
	return s, nil
}

// Map всегда читает карту с диска
func (cc *contentCache) Map(path string) (*blueprint.GameMap, error) {
	return cc.loader.LoadMap(path)
}

// Tilesets загружает все тайлсеты gid-карты модуля
func (cc *contentCache) Tilesets(module *blueprint.Module) (map[string]*blueprint.Tileset, error) {
	out := make(map[string]*blueprint.Tileset, len(module.GidMap))
	for _, r := range module.GidMap {
		if ts, ok := cc.tilesets[r.TilesetPath]; ok {
			out[r.TilesetPath] = ts
			continue
		}
		ts, err := cc.loader.LoadTileset(r.TilesetPath)
		if err != nil {
			return nil, err
		}
		cc.tilesets[r.TilesetPath] = ts
		out[r.TilesetPath] = ts
	}
	return out, nil
}

// Invalidate выбрасывает ресурс из всех кэшей
func (cc *contentCache) Invalidate(path string) {
	delete(cc.scripts, path)
	delete(cc.scenes, path)
	delete(cc.tilesets, path)
}
