package world

import (
	"fmt"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/physics"
	"github.com/annel0/shiku-server/internal/vec"
)

// placedShape — готовая статическая форма в мировых координатах.
// Кэшируется, чтобы сброс мира переустанавливал коллайдеры без
// пересчёта тайлов.
type placedShape struct {
	shape physics.Shape
	pos   vec.Vec2F
}

// TerrainManager превращает чанки тайловых слоёв в статические
// коллайдеры симуляции и перестраивает их при правках
type TerrainManager struct {
	sim *physics.Simulation

	chunkSize  int
	tileWidth  int
	tileHeight int

	// gid -> форма коллизии (nil = тайл без коллизии)
	collisionFor func(gid uint32) *blueprint.CollisionShape

	// Установленные коллайдеры по чанкам
	installed map[string][]physics.ColliderHandle
	// Кэш вычисленных форм по чанкам
	cache map[string][]placedShape
}

// NewTerrainManager создаёт менеджер местности для одной карты
func NewTerrainManager(sim *physics.Simulation, chunkSize, tileWidth, tileHeight int, collisionFor func(gid uint32) *blueprint.CollisionShape) *TerrainManager {
	return &TerrainManager{
		sim:          sim,
		chunkSize:    chunkSize,
		tileWidth:    tileWidth,
		tileHeight:   tileHeight,
		collisionFor: collisionFor,
		installed:    make(map[string][]physics.ColliderHandle),
		cache:        make(map[string][]placedShape),
	}
}

func chunkKey(layer string, pos vec.Vec2) string {
	return fmt.Sprintf("%s:%d:%d", layer, pos.X, pos.Y)
}

// LoadLayer устанавливает коллайдеры всех чанков слоя
func (tm *TerrainManager) LoadLayer(layer string, chunks []blueprint.TerrainChunk) {
	for i := range chunks {
		tm.ReplaceChunk(layer, &chunks[i])
	}
}

// ReplaceChunk заменяет вклад одного чанка: старые коллайдеры
// снимаются, формы пересчитываются и устанавливаются заново
func (tm *TerrainManager) ReplaceChunk(layer string, chunk *blueprint.TerrainChunk) {
	key := chunkKey(layer, chunk.Position)
	tm.removeChunk(key)

	shapes := tm.buildChunk(chunk)
	tm.cache[key] = shapes
	tm.install(key, shapes)
}

// Reinstall переустанавливает все кэшированные формы после сброса
// симуляции
func (tm *TerrainManager) Reinstall(sim *physics.Simulation) {
	tm.sim = sim
	for key := range tm.installed {
		tm.installed[key] = nil
	}
	for key, shapes := range tm.cache {
		tm.install(key, shapes)
	}
}

// ColliderCount возвращает число установленных коллайдеров чанка
func (tm *TerrainManager) ColliderCount(layer string, pos vec.Vec2) int {
	return len(tm.installed[chunkKey(layer, pos)])
}

func (tm *TerrainManager) install(key string, shapes []placedShape) {
	handles := make([]physics.ColliderHandle, 0, len(shapes))
	for _, ps := range shapes {
		h := tm.sim.AddCollider(0, ps.shape, ps.pos, physics.LayerAll, physics.LayerAll, false)
		handles = append(handles, h)
	}
	tm.installed[key] = handles
}

func (tm *TerrainManager) removeChunk(key string) {
	for _, h := range tm.installed[key] {
		tm.sim.RemoveCollider(h)
	}
	delete(tm.installed, key)
	delete(tm.cache, key)
}

// buildChunk вычисляет формы коллайдеров чанка. Прямоугольники,
// круги и полигоны ставятся по ячейкам; полилинии сшиваются по
// горизонтальным пробегам одинаковых тайлов, чтобы швы между
// соседними ячейками не цеплялись.
func (tm *TerrainManager) buildChunk(chunk *blueprint.TerrainChunk) []placedShape {
	var out []placedShape

	for row := 0; row < tm.chunkSize; row++ {
		for col := 0; col < tm.chunkSize; col++ {
			gid := tm.cellGid(chunk, col, row)
			if gid == 0 {
				continue
			}
			shape := tm.collisionFor(gid)
			if shape == nil {
				continue
			}
			if shape.Kind == blueprint.ShapePolyline {
				// Пробег обрабатывается целиком на первой ячейке
				if col > 0 && tm.cellGid(chunk, col-1, row) == gid {
					continue
				}
				run := 1
				for col+run < tm.chunkSize && tm.cellGid(chunk, col+run, row) == gid {
					run++
				}
				out = append(out, tm.stitchRun(chunk, col, row, run, shape))
				continue
			}
			out = append(out, placedShape{
				shape: convertShape(shape),
				pos:   tm.cellCenter(chunk, col, row),
			})
		}
	}
	return out
}

// stitchRun сшивает пробег из run одинаковых полилинейных тайлов
// в одну полилинию
func (tm *TerrainManager) stitchRun(chunk *blueprint.TerrainChunk, col, row, run int, shape *blueprint.CollisionShape) placedShape {
	base := tm.cellCenter(chunk, col, row)
	step := float64(tm.tileWidth)

	pts := toVecs(shape.Points)
	stitched := make([]vec.Vec2F, 0, len(pts)*run)
	for i := 0; i < run; i++ {
		offset := vec.Vec2F{X: float64(i) * step}
		for j, p := range pts {
			world := p.Add(offset)
			// Первая точка очередного тайла совпадает с последней
			// точкой предыдущего: шов схлопывается
			if i > 0 && j == 0 && len(stitched) > 0 {
				last := stitched[len(stitched)-1]
				if last.DistanceTo(world) < 1e-9 {
					continue
				}
			}
			stitched = append(stitched, world)
		}
	}
	return placedShape{
		shape: physics.NewPolyline(stitched),
		pos:   base,
	}
}

func (tm *TerrainManager) cellGid(chunk *blueprint.TerrainChunk, col, row int) uint32 {
	idx := row*tm.chunkSize + col
	if idx < 0 || idx >= len(chunk.Data) {
		return 0
	}
	return chunk.Data[idx]
}

// cellCenter возвращает мировые координаты центра ячейки
func (tm *TerrainManager) cellCenter(chunk *blueprint.TerrainChunk, col, row int) vec.Vec2F {
	tileX := chunk.Position.X*tm.chunkSize + col
	tileY := chunk.Position.Y*tm.chunkSize + row
	return vec.Vec2F{
		X: (float64(tileX) + 0.5) * float64(tm.tileWidth),
		Y: (float64(tileY) + 0.5) * float64(tm.tileHeight),
	}
}

// convertShape переводит форму чертежа в форму симуляции.
// Полигоны нормализуются к обходу по часовой стрелке.
func convertShape(s *blueprint.CollisionShape) physics.Shape {
	switch s.Kind {
	case blueprint.ShapeCircle:
		return physics.NewCircle(s.Radius)
	case blueprint.ShapePolygon:
		pts := toVecs(s.Points)
		if signedArea(pts) < 0 {
			reverse(pts)
		}
		return physics.NewPolygon(pts)
	case blueprint.ShapePolyline:
		return physics.NewPolyline(toVecs(s.Points))
	default:
		return physics.NewRect(s.Width, s.Height)
	}
}

func toVecs(points [][2]float64) []vec.Vec2F {
	out := make([]vec.Vec2F, len(points))
	for i, p := range points {
		out[i] = vec.Vec2F{X: p[0], Y: p[1]}
	}
	return out
}

// signedArea — знаковая площадь (формула шнурка)
func signedArea(pts []vec.Vec2F) float64 {
	area := 0.0
	for i := range pts {
		j := (i + 1) % len(pts)
		area += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return area / 2
}

func reverse(pts []vec.Vec2F) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}
