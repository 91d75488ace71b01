package mapgen

import (
	"github.com/aquilax/go-perlin"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/vec"
)

// Параметры шума Перлина для рельефа по умолчанию
const (
	noiseAlpha   = 2.0
	noiseBeta    = 2.0
	noiseOctaves = int32(3)
	noiseScale   = 0.05 // Тайлов на период шума
)

// Размер стартовой площадки в чанках
const (
	groundChunksX = 4
	groundChunksY = 2
)

// Gid тайла земли по умолчанию: первый тайл первого тайлсета
const defaultGroundGid = uint32(1)

// GenerateGroundLayer заполняет слой ground холмистой линией земли:
// шум Перлина задаёт высоту поверхности на каждом столбце, всё ниже
// поверхности закрашивается тайлом земли. Один и тот же сид всегда
// даёт одинаковый рельеф.
func GenerateGroundLayer(chunkSize int, seed int64) []blueprint.TerrainChunk {
	noise := perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed)

	widthTiles := groundChunksX * chunkSize
	heightTiles := groundChunksY * chunkSize

	// Высота поверхности на столбец, в тайлах от верха площадки
	surface := make([]int, widthTiles)
	for x := 0; x < widthTiles; x++ {
		n := (noise.Noise1D(float64(x)*noiseScale) + 1.0) / 2.0
		h := int(n * float64(heightTiles) * 0.6)
		if h < 1 {
			h = 1
		}
		surface[x] = heightTiles - h
	}

	chunks := make([]blueprint.TerrainChunk, 0, groundChunksX*groundChunksY)
	for cy := 0; cy < groundChunksY; cy++ {
		for cx := 0; cx < groundChunksX; cx++ {
			data := make([]uint32, chunkSize*chunkSize)
			filled := false
			for ty := 0; ty < chunkSize; ty++ {
				for tx := 0; tx < chunkSize; tx++ {
					gx := cx*chunkSize + tx
					gy := cy*chunkSize + ty
					if gy >= surface[gx] {
						data[ty*chunkSize+tx] = defaultGroundGid
						filled = true
					}
				}
			}
			if !filled {
				continue
			}
			chunks = append(chunks, blueprint.TerrainChunk{
				Position: vec.Vec2{X: cx, Y: cy},
				Data:     data,
			})
		}
	}
	return chunks
}
