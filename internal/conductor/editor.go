package conductor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/eventbus"
	"github.com/annel0/shiku-server/internal/game"
	"github.com/annel0/shiku-server/internal/mapgen"
	"github.com/annel0/shiku-server/internal/protocol"
)

// handleAdmin выполняет команду редактора. Ошибки уходят обратно
// админу событиями редактора и не трогают других акторов.
func (c *Conductor) handleAdmin(a *Actor, ats *protocol.AdminToSystem) {
	switch ats.Type {

	case protocol.ATSPing:

	case protocol.ATSProviderLoggedIn:
		if ats.Provider != nil {
			c.submitLogin(a, ats.Provider)
		}

	case protocol.ATSControlInput:
		c.adminModuleEvent(a, ats.Address, &protocol.GuestModuleEvent{
			Type:  protocol.GTMControlInput,
			Input: ats.Input,
		})

	case protocol.ATSWorldInitialized:
		c.adminModuleEvent(a, ats.Address, &protocol.GuestModuleEvent{
			Type: protocol.GTMWorldInitialized,
		})

	case protocol.ATSOpenInstance:
		c.adminOpenInstance(a, ats.Address)

	case protocol.ATSStartInspectingWorld:
		c.adminStartInspecting(a, ats.Address)

	case protocol.ATSStopInspectingWorld:
		c.adminStopInspecting(a, ats.Address)

	case protocol.ATSUpdateMap:
		c.adminUpdateMap(a, ats.MapUpdate)

	case protocol.ATSCreateMap:
		c.adminCreateMap(a, ats.CreateMap)

	case protocol.ATSDeleteMap, protocol.ATSDeleteTileset, protocol.ATSDeleteScene, protocol.ATSDeleteScript:
		if err := c.loader.Delete(ats.Path); err != nil {
			c.blueprintError(a, err)
			return
		}
		c.content.Invalidate(ats.Path)
		c.saved(a, ats.Path)

	case protocol.ATSGetResource:
		content, err := c.loader.ReadResource(ats.Path)
		if err != nil {
			c.blueprintError(a, err)
			return
		}
		c.editorReply(a, &protocol.EditorEvent{
			Type:    protocol.EEResourceData,
			Path:    ats.Path,
			Content: content,
		})

	case protocol.ATSBrowseFolder:
		entries, err := c.loader.BrowseFolder(ats.Path)
		if err != nil {
			c.blueprintError(a, err)
			return
		}
		c.editorReply(a, &protocol.EditorEvent{
			Type:    protocol.EEFolderListing,
			Path:    ats.Path,
			Entries: entries,
		})

	case protocol.ATSUpdateConductor:
		if ats.Conductor == nil {
			c.blueprintError(a, errors.New("conductor: missing conductor payload"))
			return
		}
		if err := c.loader.SaveConductor(ats.Conductor); err != nil {
			c.blueprintError(a, err)
			return
		}
		c.graph = ats.Conductor
		c.publish(eventbus.EventConductorSaved, nil, nil)
		c.saved(a, blueprint.ConductorFile)

	case protocol.ATSLoadEditorData:
		c.adminLoadEditorData(a)

	case protocol.ATSCreateTileset, protocol.ATSUpdateTileset:
		if ats.Tileset == nil || ats.Path == "" {
			c.blueprintError(a, errors.New("conductor: missing tileset payload or path"))
			return
		}
		if err := c.loader.SaveTileset(ats.Path, ats.Tileset); err != nil {
			c.blueprintError(a, err)
			return
		}
		if err := c.invalidateResource(ats.Path, true); err != nil {
			c.log.Warn("Tileset invalidation %s: %v", ats.Path, err)
		}
		c.saved(a, ats.Path)

	case protocol.ATSSetTileset:
		c.adminSetTileset(a, ats.Address, ats.Path)

	case protocol.ATSCreateScene:
		if ats.Scene == nil || ats.Path == "" {
			c.blueprintError(a, errors.New("conductor: missing scene payload or path"))
			return
		}
		if err := c.loader.SaveScene(ats.Path, ats.Scene); err != nil {
			c.blueprintError(a, err)
			return
		}
		c.content.Invalidate(ats.Path)
		c.saved(a, ats.Path)

	case protocol.ATSUpdateSceneNode:
		c.adminUpdateSceneNode(a, ats.SceneNode)

	case protocol.ATSUpdateModule:
		c.adminUpdateModule(a, ats.Path, ats.Module)

	case protocol.ATSCreateModule:
		c.adminCreateModule(a, ats.Name)

	case protocol.ATSDeleteModule:
		c.adminDeleteModule(a, ats.Path)

	case protocol.ATSCreateScript, protocol.ATSUpdateScript:
		if ats.Path == "" {
			c.blueprintError(a, errors.New("conductor: missing script path"))
			return
		}
		if err := c.loader.SaveScript(ats.Path, ats.Source); err != nil {
			c.blueprintError(a, err)
			return
		}
		if err := c.invalidateResource(ats.Path, true); err != nil {
			c.editorReply(a, &protocol.EditorEvent{
				Type:  protocol.EEScriptError,
				Path:  ats.Path,
				Error: err.Error(),
			})
			return
		}
		c.saved(a, ats.Path)

	case protocol.ATSUpdateInstancedNode:
		_, _, w, err := c.findWorld(ats.Address)
		if err != nil {
			c.blueprintError(a, err)
			return
		}
		if ats.EntityUpdate == nil {
			c.blueprintError(a, errors.New("conductor: missing entity update"))
			return
		}
		if err := w.ApplyEntityUpdate(ats.EntityUpdate); err != nil {
			c.blueprintError(a, err)
		}

	case protocol.ATSRemoveInstanceNode:
		_, _, w, err := c.findWorld(ats.Address)
		if err != nil {
			c.blueprintError(a, err)
			return
		}
		w.ECS.QueueRemove(ats.EntityID)

	case protocol.ATSAddNodeToInstanceNode:
		_, _, w, err := c.findWorld(ats.Address)
		if err != nil {
			c.blueprintError(a, err)
			return
		}
		if ats.Node == nil {
			c.blueprintError(a, errors.New("conductor: missing node payload"))
			return
		}
		w.ECS.QueueAdd(ats.ParentID, ats.Node)

	case protocol.ATSSetMainDoorStatus:
		c.graph.MainDoorOpen = ats.Open
		c.persistDoors(a)

	case protocol.ATSSetBackDoorStatus:
		c.graph.BackDoorOpen = ats.Open
		c.persistDoors(a)

	default:
		c.log.Warn("Unknown editor command %q from actor %d", ats.Type, a.ID)
	}
}

// adminModuleEvent проталкивает событие админа в почту инстанса
func (c *Conductor) adminModuleEvent(a *Actor, addr *protocol.WorldAddress, ev *protocol.GuestModuleEvent) {
	if addr == nil {
		return
	}
	m, ok := c.managers[addr.ModuleID]
	if !ok {
		return
	}
	m.Inbox.Push(game.AddressedMessage{
		Instance: addr.InstanceID,
		Message:  game.InstanceMessage{Actor: a.ID, World: addr.WorldID, Guest: ev},
	})
}

func (c *Conductor) adminOpenInstance(a *Actor, addr *protocol.WorldAddress) {
	if addr == nil {
		c.blueprintError(a, errors.New("conductor: missing module address"))
		return
	}
	m, ok := c.managers[addr.ModuleID]
	if !ok {
		c.blueprintError(a, fmt.Errorf("conductor: unknown module %s", addr.ModuleID))
		return
	}
	if _, err := m.OpenInstance(); err != nil {
		c.blueprintError(a, err)
		return
	}
	c.editorReply(a, &protocol.EditorEvent{
		Type:      protocol.EEInstanceList,
		Instances: c.instanceList(),
	})
}

func (c *Conductor) adminStartInspecting(a *Actor, addr *protocol.WorldAddress) {
	m, gi, w, err := c.findWorld(addr)
	if err != nil {
		c.blueprintError(a, err)
		return
	}
	if _, err := m.LetAdminIntoInstance(a.ID, gi.ID, w.ID); err != nil {
		c.blueprintError(a, err)
		return
	}
	a.ActiveModule = addr.ModuleID
	c.editorReply(a, &protocol.EditorEvent{
		Type:     protocol.EEWorldState,
		Address:  &protocol.WorldAddress{ModuleID: addr.ModuleID, InstanceID: gi.ID, WorldID: w.ID},
		Entities: w.SnapshotAll(),
	})
}

func (c *Conductor) adminStopInspecting(a *Actor, addr *protocol.WorldAddress) {
	if addr == nil {
		return
	}
	if m, ok := c.managers[addr.ModuleID]; ok {
		m.RemoveAdmin(a.ID)
	}
	if a.ActiveModule == addr.ModuleID {
		a.ActiveModule = ""
	}
}

// adminUpdateMap сохраняет правку чанка и применяет её к живым мирам
func (c *Conductor) adminUpdateMap(a *Actor, mu *protocol.MapChunkUpdate) {
	if mu == nil {
		c.blueprintError(a, errors.New("conductor: missing map update"))
		return
	}
	gm, err := c.loader.LoadMap(mu.MapPath)
	if err != nil {
		c.blueprintError(a, err)
		return
	}
	if gm.Terrain == nil {
		gm.Terrain = make(map[string][]blueprint.TerrainChunk)
	}
	replaced := false
	chunks := gm.Terrain[mu.Layer]
	for i := range chunks {
		if chunks[i].Position == mu.Chunk.Position {
			chunks[i] = mu.Chunk
			replaced = true
			break
		}
	}
	if !replaced {
		chunks = append(chunks, mu.Chunk)
	}
	gm.Terrain[mu.Layer] = chunks
	if err := c.loader.SaveMap(mu.MapPath, gm); err != nil {
		c.blueprintError(a, err)
		return
	}

	// Живые миры на этой карте получают новые коллайдеры сразу
	for _, id := range c.moduleOrder {
		m := c.managers[id]
		for _, gi := range m.Instances() {
			for _, wid := range gi.Worlds() {
				w, _ := gi.World(wid)
				if w == nil || w.MapPath != mu.MapPath {
					continue
				}
				chunk := mu.Chunk
				w.ReplaceTerrainChunk(mu.Layer, &chunk)
				ev := &protocol.CommunicationEvent{
					Type:    protocol.CEGameSystemEvent,
					Address: &protocol.WorldAddress{ModuleID: id, InstanceID: gi.ID, WorldID: wid},
					Game: &protocol.GameSystemEvent{
						Type:  protocol.GSETerrainUpdated,
						Layer: mu.Layer,
						Chunk: &chunk,
					},
				}
				for _, watcher := range gi.Watchers(wid) {
					if wa, ok := c.actors[watcher]; ok {
						c.send(wa, ev)
					}
				}
			}
		}
	}

	c.publish(eventbus.EventResourceChanged, nil, map[string]string{"path": mu.MapPath})
	c.saved(a, mu.MapPath)
}

func (c *Conductor) adminCreateMap(a *Actor, req *protocol.CreateMapRequest) {
	if req == nil || req.Name == "" {
		c.blueprintError(a, errors.New("conductor: missing map name"))
		return
	}
	gm := &blueprint.GameMap{
		WorldID:    uuid.NewString(),
		Name:       req.Name,
		ChunkSize:  req.ChunkSize,
		TileWidth:  req.TileWidth,
		TileHeight: req.TileHeight,
		Terrain:    make(map[string][]blueprint.TerrainChunk),
	}
	if gm.ChunkSize <= 0 {
		gm.ChunkSize = 16
	}
	if gm.TileWidth <= 0 {
		gm.TileWidth = 16
	}
	if gm.TileHeight <= 0 {
		gm.TileHeight = 16
	}
	if req.Generate {
		gm.Terrain["ground"] = mapgen.GenerateGroundLayer(gm.ChunkSize, req.Seed)
	}

	path := req.Name + blueprint.ExtMap
	if err := c.loader.SaveMap(path, gm); err != nil {
		c.blueprintError(a, err)
		return
	}
	c.saved(a, path)
}

func (c *Conductor) adminLoadEditorData(a *Actor) {
	paths, err := c.loader.ListModules()
	if err != nil {
		c.blueprintError(a, err)
		return
	}
	modules := make([]protocol.EditorModuleInfo, 0, len(paths))
	for _, path := range paths {
		bp, err := c.loader.LoadModule(path)
		if err != nil {
			c.log.Warn("Editor data: module %s unreadable: %v", path, err)
			continue
		}
		modules = append(modules, protocol.EditorModuleInfo{Path: path, Module: bp})
	}
	c.editorReply(a, &protocol.EditorEvent{
		Type:      protocol.EEEditorData,
		Modules:   modules,
		Conductor: c.graph,
		Instances: c.instanceList(),
	})
}

// adminSetTileset прикрепляет тайлсет к модулю и перегенерирует
// gid-карту. Сохранённые в чанках gid'ы остаются валидны, пока состав
// тайлсетов модуля только растёт.
func (c *Conductor) adminSetTileset(a *Actor, addr *protocol.WorldAddress, tilesetPath string) {
	if addr == nil || tilesetPath == "" {
		c.blueprintError(a, errors.New("conductor: missing module address or tileset path"))
		return
	}
	m, ok := c.managers[addr.ModuleID]
	if !ok {
		c.blueprintError(a, fmt.Errorf("conductor: unknown module %s", addr.ModuleID))
		return
	}
	bp := m.Module.Blueprint

	present := false
	for _, r := range bp.Resources {
		if r.Path == tilesetPath {
			present = true
			break
		}
	}
	if !present {
		bp.Resources = append(bp.Resources, blueprint.Resource{Path: tilesetPath, Kind: blueprint.ResourceTileset})
	}

	tilesets := make(map[string]*blueprint.Tileset)
	for _, r := range bp.Resources {
		if r.Kind != blueprint.ResourceTileset {
			continue
		}
		ts, err := c.loader.LoadTileset(r.Path)
		if err != nil {
			c.blueprintError(a, err)
			return
		}
		tilesets[r.Path] = ts
	}
	bp.GidMap = blueprint.GenerateGidMap(tilesets)

	path := c.modulePaths[addr.ModuleID]
	if err := c.loader.SaveModule(path, bp); err != nil {
		c.blueprintError(a, err)
		return
	}
	c.res.SetManifest(addr.ModuleID, bp.Resources)
	c.publish(eventbus.EventModuleSaved, nil, map[string]string{"path": path})
	c.saved(a, path)
}

func (c *Conductor) adminUpdateSceneNode(a *Actor, upd *protocol.SceneNodeUpdate) {
	if upd == nil {
		c.blueprintError(a, errors.New("conductor: missing scene node update"))
		return
	}
	scene, err := c.loader.LoadScene(upd.ScenePath)
	if err != nil {
		c.blueprintError(a, err)
		return
	}

	switch upd.Kind {
	case protocol.SceneNodeUpdateData:
		node := findNode(&scene.Root, upd.NodeID)
		if node == nil || upd.Data == nil {
			c.blueprintError(a, fmt.Errorf("conductor: node %s not found in %s", upd.NodeID, upd.ScenePath))
			return
		}
		children := node.Children
		*node = *upd.Data
		if node.Children == nil {
			node.Children = children
		}
	case protocol.SceneNodeAddChild:
		node := findNode(&scene.Root, upd.NodeID)
		if node == nil || upd.Child == nil {
			c.blueprintError(a, fmt.Errorf("conductor: node %s not found in %s", upd.NodeID, upd.ScenePath))
			return
		}
		node.Children = append(node.Children, *upd.Child)
	case protocol.SceneNodeRemoveChild:
		if !removeChild(&scene.Root, upd.ChildID) {
			c.blueprintError(a, fmt.Errorf("conductor: child %s not found in %s", upd.ChildID, upd.ScenePath))
			return
		}
	default:
		c.blueprintError(a, fmt.Errorf("conductor: unknown scene node update %q", upd.Kind))
		return
	}

	if err := c.loader.SaveScene(upd.ScenePath, scene); err != nil {
		c.blueprintError(a, err)
		return
	}
	c.content.Invalidate(upd.ScenePath)
	c.publish(eventbus.EventResourceChanged, nil, map[string]string{"path": upd.ScenePath})
	c.saved(a, upd.ScenePath)
}

func (c *Conductor) adminUpdateModule(a *Actor, path string, bp *blueprint.Module) {
	if bp == nil || path == "" {
		c.blueprintError(a, errors.New("conductor: missing module payload or path"))
		return
	}
	if err := c.loader.SaveModule(path, bp); err != nil {
		c.blueprintError(a, err)
		return
	}
	id := protocol.ModuleID(bp.ID)
	if m, ok := c.managers[id]; ok {
		m.Module.Blueprint = bp
		m.Module.Path = path
		c.modulePaths[id] = path
	} else {
		c.registerModule(path, bp)
	}
	c.res.SetManifest(id, bp.Resources)
	c.publish(eventbus.EventModuleSaved, nil, map[string]string{"path": path})
	c.saved(a, path)
}

func (c *Conductor) adminCreateModule(a *Actor, name string) {
	if name == "" {
		c.blueprintError(a, errors.New("conductor: missing module name"))
		return
	}
	if _, exists := c.managers[protocol.ModuleID(name)]; exists {
		c.blueprintError(a, fmt.Errorf("conductor: module %s already exists", name))
		return
	}
	bp := &blueprint.Module{ID: name, Name: name}
	path := name + blueprint.ExtModule
	if err := c.loader.SaveModule(path, bp); err != nil {
		c.blueprintError(a, err)
		return
	}
	c.registerModule(path, bp)
	c.publish(eventbus.EventModuleSaved, nil, map[string]string{"path": path})
	c.saved(a, path)
}

func (c *Conductor) adminDeleteModule(a *Actor, path string) {
	var id protocol.ModuleID
	found := false
	for mid, p := range c.modulePaths {
		if p == path {
			id = mid
			found = true
			break
		}
	}
	if !found {
		c.blueprintError(a, fmt.Errorf("conductor: no module at %s", path))
		return
	}

	c.managers[id].Close()
	delete(c.managers, id)
	delete(c.modulePaths, id)
	for i, mid := range c.moduleOrder {
		if mid == id {
			c.moduleOrder = append(c.moduleOrder[:i], c.moduleOrder[i+1:]...)
			break
		}
	}
	// Гости удалённого модуля остаются в лимбе до следующего входа
	for _, actor := range c.actors {
		if actor.ActiveModule == id {
			actor.ActiveModule = ""
			c.send(actor, &protocol.CommunicationEvent{
				Type:    protocol.CEUnloadGame,
				Address: &protocol.WorldAddress{ModuleID: id},
			})
		}
	}

	if err := c.loader.Delete(path); err != nil {
		c.blueprintError(a, err)
		return
	}
	c.saved(a, path)
}

func (c *Conductor) persistDoors(a *Actor) {
	if err := c.loader.SaveConductor(c.graph); err != nil {
		c.blueprintError(a, err)
		return
	}
	c.publish(eventbus.EventConductorSaved, nil, nil)
	c.saved(a, blueprint.ConductorFile)
}

func (c *Conductor) instanceList() []protocol.EditorInstanceInfo {
	var out []protocol.EditorInstanceInfo
	for _, id := range c.moduleOrder {
		for _, gi := range c.managers[id].Instances() {
			out = append(out, protocol.EditorInstanceInfo{
				ModuleID:   id,
				InstanceID: gi.ID,
				Guests:     gi.GuestCount(),
				Closed:     gi.Closed(),
				WorldIDs:   gi.Worlds(),
			})
		}
	}
	return out
}

func (c *Conductor) editorReply(a *Actor, ev *protocol.EditorEvent) {
	c.send(a, &protocol.CommunicationEvent{Type: protocol.CEEditorEvent, Editor: ev})
}

func (c *Conductor) blueprintError(a *Actor, err error) {
	c.editorReply(a, &protocol.EditorEvent{Type: protocol.EEBlueprintError, Error: err.Error()})
}

func (c *Conductor) saved(a *Actor, path string) {
	c.editorReply(a, &protocol.EditorEvent{Type: protocol.EESaved, Path: path})
}

// findNode ищет узел сцены по id в глубину
func findNode(n *blueprint.GameNode, id string) *blueprint.GameNode {
	if n.ID == id {
		return n
	}
	for i := range n.Children {
		if found := findNode(&n.Children[i], id); found != nil {
			return found
		}
	}
	return nil
}

// removeChild вырезает узел по id из поддерева; корень не трогается
func removeChild(n *blueprint.GameNode, childID string) bool {
	for i := range n.Children {
		if n.Children[i].ID == childID {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return true
		}
		if removeChild(&n.Children[i], childID) {
			return true
		}
	}
	return false
}
