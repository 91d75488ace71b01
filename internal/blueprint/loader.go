package blueprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Расширения файлов контента
const (
	ExtModule  = ".module.json"
	ExtMap     = ".map.json"
	ExtScene   = ".scene.json"
	ExtTileset = ".tileset.json"
	ExtScript  = ".script.lua"
	ConductorFile = "conductor.json"
)

// Структурные ошибки загрузчика
var (
	ErrNotFound    = errors.New("blueprint: resource not found")
	ErrBadFormat   = errors.New("blueprint: malformed file")
	ErrOutsideRoot = errors.New("blueprint: path escapes content root")
)

// Loader читает и пишет файлы контента относительно корневой директории.
// Пути ресурсов всегда относительные и с прямыми слешами.
type Loader struct {
	root string
}

// NewLoader создаёт загрузчик для указанного корня
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Root возвращает корневую директорию контента
func (l *Loader) Root() string { return l.root }

// resolve превращает путь ресурса в путь файловой системы,
// запрещая выход за пределы корня.
func (l *Loader) resolve(resourcePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(resourcePath))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, resourcePath)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Loader) readJSON(path string, out interface{}) error {
	fsPath, err := l.resolve(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadFormat, path, err)
	}
	return nil
}

func (l *Loader) writeJSON(path string, in interface{}) error {
	fsPath, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fsPath, data, 0644)
}

// LoadModule читает <name>.module.json
func (l *Loader) LoadModule(path string) (*Module, error) {
	var m Module
	if err := l.readJSON(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveModule пишет модуль на диск
func (l *Loader) SaveModule(path string, m *Module) error {
	return l.writeJSON(path, m)
}

// LoadMap читает <name>.map.json
func (l *Loader) LoadMap(path string) (*GameMap, error) {
	var gm GameMap
	if err := l.readJSON(path, &gm); err != nil {
		return nil, err
	}
	return &gm, nil
}

// SaveMap пишет карту на диск
func (l *Loader) SaveMap(path string, gm *GameMap) error {
	return l.writeJSON(path, gm)
}

// LoadScene читает <name>.scene.json
func (l *Loader) LoadScene(path string) (*Scene, error) {
	var s Scene
	if err := l.readJSON(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveScene пишет сцену на диск
func (l *Loader) SaveScene(path string, s *Scene) error {
	return l.writeJSON(path, s)
}

// LoadTileset читает <name>.tileset.json
func (l *Loader) LoadTileset(path string) (*Tileset, error) {
	var t Tileset
	if err := l.readJSON(path, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTileset пишет тайлсет на диск
func (l *Loader) SaveTileset(path string, t *Tileset) error {
	return l.writeJSON(path, t)
}

// LoadScript читает исходник скрипта
func (l *Loader) LoadScript(path string) (string, error) {
	return l.ReadResource(path)
}

// ReadResource возвращает сырое текстовое содержимое файла ресурса.
// Редактор просматривает через него любые файлы контента.
func (l *Loader) ReadResource(path string) (string, error) {
	fsPath, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", err
	}
	return string(data), nil
}

// SaveScript пишет исходник скрипта
func (l *Loader) SaveScript(path string, source string) error {
	fsPath, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(fsPath, []byte(source), 0644)
}

// LoadConductor читает conductor.json. Отсутствие файла — пустой граф.
func (l *Loader) LoadConductor() (*Conductor, error) {
	var c Conductor
	if err := l.readJSON(ConductorFile, &c); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Conductor{ModuleConnectionMap: map[string]ExitTarget{}}, nil
		}
		return nil, err
	}
	if c.ModuleConnectionMap == nil {
		c.ModuleConnectionMap = map[string]ExitTarget{}
	}
	return &c, nil
}

// SaveConductor пишет conductor.json
func (l *Loader) SaveConductor(c *Conductor) error {
	return l.writeJSON(ConductorFile, c)
}

// Delete удаляет файл ресурса
func (l *Loader) Delete(path string) error {
	fsPath, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fsPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	return nil
}

// FolderEntry — элемент листинга директории для редактора
type FolderEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Kind  string `json:"kind,omitempty"`
}

// BrowseFolder возвращает листинг директории контента
func (l *Loader) BrowseFolder(path string) ([]FolderEntry, error) {
	fsPath, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	out := make([]FolderEntry, 0, len(entries))
	for _, e := range entries {
		fe := FolderEntry{Name: e.Name(), IsDir: e.IsDir()}
		if !e.IsDir() {
			fe.Kind = resourceKind(e.Name())
		}
		out = append(out, fe)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListModules находит все файлы модулей в корне контента
func (l *Loader) ListModules() ([]string, error) {
	var paths []string
	err := filepath.Walk(l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ExtModule) {
			rel, relErr := filepath.Rel(l.root, p)
			if relErr != nil {
				return relErr
			}
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// resourceKind определяет вид ресурса по имени файла
func resourceKind(name string) string {
	switch {
	case strings.HasSuffix(name, ExtModule):
		return "module"
	case strings.HasSuffix(name, ExtMap):
		return ResourceMap
	case strings.HasSuffix(name, ExtScene):
		return ResourceScene
	case strings.HasSuffix(name, ExtTileset):
		return ResourceTileset
	case strings.HasSuffix(name, ExtScript):
		return ResourceScript
	case strings.HasSuffix(name, ".png"), strings.HasSuffix(name, ".jpg"):
		return ResourceImage
	default:
		return ""
	}
}
