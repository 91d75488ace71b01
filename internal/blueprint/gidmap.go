package blueprint

import "sort"

// GenerateGidMap строит стабильную карту глобальных идентификаторов тайлов
// для набора тайлсетов: тайлсеты сортируются по пути ресурса, first_gid
// назначаются нарастающим итогом начиная с 1. Повторная генерация для
// того же набора даёт идентичный результат, поэтому gid'ы, сохранённые
// в чанках карт, остаются валидными пока состав тайлсетов не меняется.
func GenerateGidMap(tilesets map[string]*Tileset) GidMap {
	paths := make([]string, 0, len(tilesets))
	for path := range tilesets {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	gm := make(GidMap, 0, len(paths))
	next := uint32(1)
	for _, path := range paths {
		ts := tilesets[path]
		gm = append(gm, GidRange{TilesetPath: path, FirstGid: next})
		next += ts.TileCount
	}
	return gm
}
