package conductor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/shiku-server/internal/auth"
	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/eventbus"
	"github.com/annel0/shiku-server/internal/game"
	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/metrics"
	"github.com/annel0/shiku-server/internal/protocol"
	"github.com/annel0/shiku-server/internal/resources"
	"github.com/annel0/shiku-server/internal/util"
	"github.com/annel0/shiku-server/internal/world"
)

// Слоты дверей в графе связей модулей
const (
	MainDoorSlot = "main_door"
	BackDoorSlot = "back_door"
)

// Options — зависимости кондуктора
type Options struct {
	Loader  *blueprint.Loader
	Login   *auth.LoginManager
	Tickets *auth.AdminTickets

	// Необязательные
	Bus     eventbus.EventBus
	Metrics *metrics.Metrics

	Frame           time.Duration
	GuestTimeout    time.Duration
	InstanceTimeout time.Duration

	// Имя процесса для событий шины флота
	Source string
}

// snapshotRequest — отложенная отправка полного снапшота мира актору
type snapshotRequest struct {
	actor   uint64
	address protocol.WorldAddress
}

// Conductor владеет всеми акторами, модулями и мирами процесса.
// Всё состояние живёт в одной тикающей горутине; транспорт, REST и
// фоновые логины передают работу через почтовые ящики.
type Conductor struct {
	loader  *blueprint.Loader
	content *contentCache

	// Граф связей модулей и двери (conductor.json)
	graph *blueprint.Conductor

	managers    map[protocol.ModuleID]*game.InstanceManager
	modulePaths map[protocol.ModuleID]string
	moduleOrder []protocol.ModuleID

	actors   map[uint64]*Actor
	sessions map[string]uint64
	// provider_user_id -> актор: обнаружение повторного логина
	identities map[string]uint64
	byConn     map[Connection]uint64

	login   *auth.LoginManager
	tickets *auth.AdminTickets
	res     *resources.Bus

	inbox    *util.Mailbox[connEvent]
	busNotes *util.Mailbox[*eventbus.Envelope]

	bus       eventbus.EventBus
	busSource string
	busSub    eventbus.Subscription

	metrics *metrics.Metrics

	ids *util.IDGenerator

	frame           time.Duration
	guestTimeout    time.Duration
	instanceTimeout time.Duration

	pendingSnapshots []snapshotRequest

	log *logging.Logger
}

// New собирает кондуктор: читает conductor.json, загружает все модули
// и создаёт их менеджеры инстансов
func New(opts Options) (*Conductor, error) {
	log := logging.GetConductorLogger()

	graph, err := opts.Loader.LoadConductor()
	if err != nil {
		return nil, err
	}

	c := &Conductor{
		loader:       opts.Loader,
		content:      newContentCache(opts.Loader),
		graph:        graph,
		managers:     make(map[protocol.ModuleID]*game.InstanceManager),
		modulePaths:  make(map[protocol.ModuleID]string),
		actors:       make(map[uint64]*Actor),
		sessions:     make(map[string]uint64),
		identities:   make(map[string]uint64),
		byConn:       make(map[Connection]uint64),
		login:        opts.Login,
		tickets:      opts.Tickets,
		res:          resources.NewBus(),
		inbox:        util.NewMailbox[connEvent](),
		busNotes:     util.NewMailbox[*eventbus.Envelope](),
		bus:          opts.Bus,
		busSource:    opts.Source,
		metrics:      opts.Metrics,
		ids:             util.NewIDGenerator(util.IDKindActor),
		frame:           opts.Frame,
		guestTimeout:    opts.GuestTimeout,
		instanceTimeout: opts.InstanceTimeout,
		log:             log,
	}

	paths, err := opts.Loader.ListModules()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		bp, err := opts.Loader.LoadModule(path)
		if err != nil {
			log.Error("Module %s failed to load: %v", path, err)
			continue
		}
		c.registerModule(path, bp)
	}

	if c.bus != nil {
		sub, err := c.bus.Subscribe(context.Background(), eventbus.Filter{
			Types: []string{
				eventbus.EventResourceChanged,
				eventbus.EventModuleSaved,
				eventbus.EventConductorSaved,
				eventbus.EventGlobalMessage,
			},
		}, func(_ context.Context, env *eventbus.Envelope) {
			if env.Source == c.busSource {
				return
			}
			c.busNotes.Push(env)
		})
		if err != nil {
			return nil, err
		}
		c.busSub = sub
	}

	log.Info("🚀 Conductor up: %d modules, frame %v", len(c.moduleOrder), c.frame)
	return c, nil
}

func (c *Conductor) registerModule(path string, bp *blueprint.Module) {
	id := protocol.ModuleID(bp.ID)
	c.managers[id] = game.NewInstanceManager(&game.Module{Path: path, Blueprint: bp}, c.content, c.instanceTimeout)
	c.modulePaths[id] = path
	c.moduleOrder = append(c.moduleOrder, id)
	c.res.SetManifest(id, bp.Resources)
}

// Run тикает кондуктор с фиксированным кадром до отмены контекста
func (c *Conductor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-ticker.C:
			c.TickOnce(c.frame)
		}
	}
}

func (c *Conductor) shutdown() {
	for _, a := range c.actors {
		if a.Conn != nil {
			a.Conn.CloseWithReason("Server shutting down")
		}
	}
	for _, m := range c.managers {
		m.Close()
	}
	if c.busSub != nil {
		c.busSub.Unsubscribe()
	}
	c.log.Info("🛑 Conductor stopped")
}

// TickOnce — один кадр: почта, логины, часы таймаутов, тики модулей,
// рассылка дельт
func (c *Conductor) TickOnce(frame time.Duration) {
	started := time.Now()
	dt := frame.Seconds()

	for _, env := range c.busNotes.Drain() {
		c.handleBusEvent(env)
	}
	for _, ev := range c.inbox.Drain() {
		c.handleConnEvent(ev)
	}
	for _, res := range c.login.Results.Drain() {
		c.handleLoginResult(res)
	}

	c.advanceOfflineClocks(frame)

	for _, id := range c.moduleOrder {
		m := c.managers[id]
		upd := m.Update(dt, frame)
		c.handleStateChanges(m, upd.StateChanges)
		c.fanOutDeltas(id, m, upd.Deltas)
	}

	c.flushPendingSnapshots()
	c.observeTick(started)
}

// === СОБЫТИЯ СОЕДИНЕНИЙ ===

func (c *Conductor) handleConnEvent(ev connEvent) {
	switch ev.Kind {
	case connOpened:
		c.acceptConnection(ev.Conn, ev.Ticket)
	case connFrame:
		id, ok := c.byConn[ev.Conn]
		if !ok {
			return
		}
		if c.metrics != nil {
			c.metrics.MessagesRouted.Inc()
		}
		c.routeFrame(c.actors[id], ev.Frame)
	case connClosed:
		c.dropConnection(ev.Conn)
	case connProviderCallback:
		id, ok := c.sessions[ev.SessionID]
		if !ok {
			return
		}
		c.submitLogin(c.actors[id], ev.Provider)
	}
}

// acceptConnection обслуживает билет нового сокета: возобновление
// сессии, отклонение дубликата или создание нового актора
func (c *Conductor) acceptConnection(conn Connection, ticket *protocol.Ticket) {
	if ticket.SessionID != "" {
		if id, ok := c.sessions[ticket.SessionID]; ok {
			a := c.actors[id]
			if a.Conn != nil {
				conn.Send(&protocol.CommunicationEvent{Type: protocol.CEAlreadyConnected})
				conn.CloseWithReason("Session already connected")
				return
			}
			a.Conn = conn
			a.Offline = 0
			c.byConn[conn] = a.ID
			conn.Send(&protocol.CommunicationEvent{
				Type:       protocol.CEConnectionReady,
				SessionID:  a.SessionID,
				NeedsLogin: !a.LoggedIn,
			})
			if a.ActiveModule != "" {
				c.notifyModule(a, game.SystemReconnected)
				// Клиент загружается заново: свежий пакет и снапшот
				c.sendPrepare(a)
				c.scheduleResume(a)
			}
			c.log.Info("🔌 Actor %d resumed session %s", a.ID, a.SessionID)
			return
		}
		// Клиент принёс протухшую сессию: выдаём свежую
	}

	admin := false
	if ticket.AdminLogin {
		if err := c.tickets.Verify(ticket.AdminTicket); err != nil {
			conn.Send(&protocol.CommunicationEvent{
				Type:  protocol.CEToast,
				Toast: &protocol.Toast{Level: protocol.ToastError, Message: "Admin ticket rejected"},
			})
			conn.CloseWithReason("Not authorized")
			return
		}
		admin = true
	}

	a := &Actor{
		ID:        c.ids.Next(),
		SessionID: uuid.NewString(),
		Conn:      conn,
		Admin:     admin,
		LoggedIn:  admin,
	}
	c.actors[a.ID] = a
	c.sessions[a.SessionID] = a.ID
	c.byConn[conn] = a.ID

	conn.Send(&protocol.CommunicationEvent{
		Type:       protocol.CEConnectionReady,
		SessionID:  a.SessionID,
		NeedsLogin: !admin,
	})
	c.log.Info("🔌 Actor %d connected (admin=%v)", a.ID, admin)
}

// dropConnection отвязывает канал и запускает часы таймаута
func (c *Conductor) dropConnection(conn Connection) {
	id, ok := c.byConn[conn]
	if !ok {
		return
	}
	delete(c.byConn, conn)
	a := c.actors[id]
	if a == nil || a.Conn != conn {
		return
	}
	a.Conn = nil
	if a.ActiveModule != "" {
		c.notifyModule(a, game.SystemDisconnected)
	}
	c.log.Info("🔌 Actor %d disconnected", a.ID)
}

// notifyModule шлёт системное сообщение в инстанс актора
func (c *Conductor) notifyModule(a *Actor, kind string) {
	m, ok := c.managers[a.ActiveModule]
	if !ok {
		return
	}
	gi, ok := m.InstanceOf(a.ID)
	if !ok {
		return
	}
	m.Inbox.Push(game.AddressedMessage{
		Instance: gi.ID,
		Message: game.InstanceMessage{
			Actor:  a.ID,
			System: &game.SystemToModule{Type: kind, Actor: a.ID},
		},
	})
}

// advanceOfflineClocks выселяет гостей, чьё отключение пережило таймаут
func (c *Conductor) advanceOfflineClocks(frame time.Duration) {
	for id, a := range c.actors {
		if a.Conn != nil {
			continue
		}
		a.Offline += frame
		if a.Offline <= c.guestTimeout {
			continue
		}
		if a.ActiveModule != "" {
			if m, ok := c.managers[a.ActiveModule]; ok {
				if _, err := m.TryLeave(a.ID); err != nil && !errors.Is(err, game.ErrNotInModule) {
					c.log.Warn("Timed out actor %d failed to leave: %v", a.ID, err)
				}
			}
		}
		if a.Admin {
			for _, m := range c.managers {
				m.RemoveAdmin(a.ID)
			}
		}
		delete(c.sessions, a.SessionID)
		if owner, ok := c.identities[a.ProviderUserID]; ok && owner == a.ID {
			delete(c.identities, a.ProviderUserID)
		}
		c.res.DropActor(a.ID)
		delete(c.actors, id)
		c.log.Info("⏰ Actor %d timed out and was evicted", a.ID)
	}
}

// === МАРШРУТИЗАЦИЯ КАДРОВ ===

func (c *Conductor) routeFrame(a *Actor, frame *protocol.InboundFrame) {
	switch {
	case frame.GuestToSystem != nil:
		c.routeGuestToSystem(a, frame.GuestToSystem)
	case frame.GuestToModule != nil:
		c.routeGuestToModule(a, frame.GuestToModule)
	case frame.AdminToSystem != nil:
		if !a.Admin {
			c.toast(a, protocol.ToastError, "Editor commands require an admin session")
			return
		}
		c.handleAdmin(a, frame.AdminToSystem)
	}
}

func (c *Conductor) routeGuestToSystem(a *Actor, msg *protocol.GuestToSystem) {
	switch msg.Type {
	case protocol.GTSPing:
		// Keepalive уровня приложения, транспорт пингует сам
	case protocol.GTSProviderLoggedIn:
		if msg.Provider == nil {
			c.toast(a, protocol.ToastError, "Malformed login payload")
			return
		}
		c.submitLogin(a, msg.Provider)
	default:
		c.log.Warn("Unknown GuestToSystem %q from actor %d", msg.Type, a.ID)
	}
}

func (c *Conductor) routeGuestToModule(a *Actor, msg *protocol.GuestToModule) {
	if !a.LoggedIn {
		c.toast(a, protocol.ToastWarn, "Log in before playing")
		return
	}
	if a.ActiveModule != msg.ModuleID {
		c.toast(a, protocol.ToastWarn, "You are not in that module")
		return
	}
	m, ok := c.managers[msg.ModuleID]
	if !ok {
		return
	}
	gi, ok := m.InstanceOf(a.ID)
	if !ok {
		return
	}
	ev := msg.Event
	m.Inbox.Push(game.AddressedMessage{
		Instance: gi.ID,
		Message:  game.InstanceMessage{Actor: a.ID, World: msg.WorldID, Guest: &ev},
	})
	if ev.Type == protocol.GTMWorldInitialized {
		// Клиент готов: после тика инстанса получает полный снапшот
		c.scheduleResume(a)
	}
}

func (c *Conductor) submitLogin(a *Actor, payload *protocol.ProviderPayload) {
	c.login.Submit(context.Background(), auth.LoginRequest{
		Actor:    a.ID,
		Admin:    a.Admin,
		Provider: payload.Provider,
		Code:     payload.Code,
	})
}

// === ЛОГИН ===

func (c *Conductor) handleLoginResult(res auth.LoginResult) {
	a, ok := c.actors[res.Actor]
	if !ok {
		return
	}
	if res.Err != nil {
		c.send(a, &protocol.CommunicationEvent{Type: protocol.CESignal, Signal: protocol.SignalLoginFailed})
		c.toast(a, protocol.ToastError, loginErrorMessage(res.Err))
		if c.metrics != nil {
			c.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		}
		return
	}

	// Повторный логин того же пользователя: новое соединение
	// пересаживается на исходного актора, старый сокет закрывается
	if prevID, ok := c.identities[res.Data.ProviderUserID]; ok && prevID != a.ID {
		if prev, exists := c.actors[prevID]; exists {
			a = c.supersede(prev, a)
		} else {
			delete(c.identities, res.Data.ProviderUserID)
		}
	}
	c.identities[res.Data.ProviderUserID] = a.ID

	a.LoggedIn = true
	a.Provider = res.Data.Provider
	a.ProviderUserID = res.Data.ProviderUserID
	a.DisplayName = res.Data.DisplayName

	c.send(a, &protocol.CommunicationEvent{Type: protocol.CESignal, Signal: protocol.SignalLoginSuccess})
	if c.metrics != nil {
		c.metrics.LoginsTotal.WithLabelValues("success").Inc()
	}
	c.log.Info("✅ Actor %d logged in as %s (%s)", a.ID, a.DisplayName, a.Provider)

	if a.ActiveModule != "" {
		// Пересевший пользователь возвращается в свою игру
		c.sendPrepare(a)
	} else if !a.Admin {
		c.enterThroughMainDoor(a)
	}
}

// supersede переносит свежий сокет newcomer на исходного актора prev.
// Возвращает актора, которым продолжает пользоваться логин.
func (c *Conductor) supersede(prev, newcomer *Actor) *Actor {
	if prev.Conn != nil {
		prev.Conn.Send(&protocol.CommunicationEvent{
			Type:  protocol.CEToast,
			Toast: &protocol.Toast{Level: protocol.ToastWarn, Message: "Logged in elsewhere"},
		})
		prev.Conn.CloseWithReason("Logged in elsewhere")
		delete(c.byConn, prev.Conn)
	}

	delete(c.sessions, prev.SessionID)
	prev.SessionID = newcomer.SessionID
	c.sessions[prev.SessionID] = prev.ID
	prev.Conn = newcomer.Conn
	prev.Offline = 0
	if newcomer.Conn != nil {
		c.byConn[newcomer.Conn] = prev.ID
	}

	delete(c.actors, newcomer.ID)
	c.res.DropActor(newcomer.ID)
	c.log.Info("🔁 Actor %d superseded by a newer login, socket swapped", prev.ID)
	return prev
}

func loginErrorMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrUserDidNotExistLongEnough):
		return "Your account is too new to join"
	case errors.Is(err, auth.ErrNotAuthorized):
		return "The provider rejected the login"
	case errors.Is(err, auth.ErrProviderError):
		return "Login provider is unavailable, try again later"
	case errors.Is(err, auth.ErrCouldNotFind):
		return "Could not find your account"
	default:
		return "Login failed"
	}
}

// === ВХОД И ПЕРЕХОДЫ МЕЖДУ МОДУЛЯМИ ===

// enterThroughMainDoor помещает свежезалогиненного гостя в стартовый
// модуль, если главная дверь открыта
func (c *Conductor) enterThroughMainDoor(a *Actor) {
	if !c.graph.MainDoorOpen {
		c.toast(a, protocol.ToastInfo, "The doors are closed right now")
		return
	}
	target, ok := c.graph.ModuleConnectionMap[MainDoorSlot]
	if !ok {
		c.toast(a, protocol.ToastError, "No module behind the main door")
		return
	}
	c.enterModule(a, protocol.ModuleID(target.ModuleID), target.InsertSlot)
}

func (c *Conductor) enterModule(a *Actor, moduleID protocol.ModuleID, insertSlot string) {
	m, ok := c.managers[moduleID]
	if !ok {
		c.toast(a, protocol.ToastError, "Module is not hosted here")
		return
	}
	if _, err := m.TryEnter(a.ID, insertSlot); err != nil {
		c.toast(a, protocol.ToastError, "Could not enter the module")
		c.log.Warn("Actor %d failed to enter %s: %v", a.ID, moduleID, err)
		return
	}
	a.ActiveModule = moduleID
	if ev := c.res.SetActiveModule(a.ID, moduleID); ev != nil {
		c.send(a, &protocol.CommunicationEvent{
			Type:     protocol.CEResourceEvent,
			ModuleID: moduleID,
			Resource: ev,
		})
	}
	c.sendPrepare(a)
}

// handleStateChanges выполняет переходы, запрошенные инстансами
func (c *Conductor) handleStateChanges(m *game.InstanceManager, changes []game.GuestStateChange) {
	for _, sc := range changes {
		if sc.Type != game.StateExitModule {
			continue
		}
		a, ok := c.actors[sc.Actor]
		if !ok {
			continue
		}
		prevModule := a.ActiveModule
		gi, hasInstance := m.InstanceOf(a.ID)
		if _, err := m.TryLeave(a.ID); err != nil {
			c.log.Warn("Actor %d exit from %s failed: %v", a.ID, prevModule, err)
			continue
		}
		a.ActiveModule = ""
		if hasInstance {
			c.send(a, &protocol.CommunicationEvent{
				Type:    protocol.CEUnloadGame,
				Address: &protocol.WorldAddress{ModuleID: prevModule, InstanceID: gi.ID},
			})
		}

		target, ok := c.graph.ModuleConnectionMap[sc.ExitSlot]
		if !ok {
			c.toast(a, protocol.ToastWarn, "That exit leads nowhere")
			continue
		}
		c.enterModule(a, protocol.ModuleID(target.ModuleID), target.InsertSlot)
	}
}

// === ПОДГОТОВКА КЛИЕНТА ===

// sendPrepare собирает и шлёт пакет PrepareGame для текущего мира актора
func (c *Conductor) sendPrepare(a *Actor) {
	m, ok := c.managers[a.ActiveModule]
	if !ok {
		return
	}
	gi, ok := m.InstanceOf(a.ID)
	if !ok {
		return
	}
	worldID, ok := gi.GuestWorld(a.ID)
	if !ok {
		return
	}
	w, ok := gi.World(worldID)
	if !ok {
		return
	}

	bp := m.Module.Blueprint
	prepare := &protocol.PrepareGame{
		ModuleID:   a.ActiveModule,
		InstanceID: gi.ID,
		WorldID:    worldID,
		Resources:  bp.Resources,
		GidMap:     bp.GidMap,
	}
	if gameMap, err := c.content.Map(w.MapPath); err == nil {
		prepare.Terrain = &protocol.TerrainParams{
			ChunkSize:  gameMap.ChunkSize,
			TileWidth:  gameMap.TileWidth,
			TileHeight: gameMap.TileHeight,
			Parallax:   gameMap.Parallax,
			Layers:     gameMap.Terrain,
		}
	} else {
		c.log.Warn("Prepare for actor %d: map %s unreadable: %v", a.ID, w.MapPath, err)
	}
	if tilesets, err := c.content.Tilesets(bp); err == nil {
		prepare.Tilesets = tilesets
	}

	c.send(a, &protocol.CommunicationEvent{Type: protocol.CEPrepareGame, Prepare: prepare})
}

// scheduleResume откладывает полный снапшот мира до конца тика,
// чтобы инстанс успел обработать WorldInitialized
func (c *Conductor) scheduleResume(a *Actor) {
	m, ok := c.managers[a.ActiveModule]
	if !ok {
		return
	}
	gi, ok := m.InstanceOf(a.ID)
	if !ok {
		return
	}
	worldID, ok := gi.GuestWorld(a.ID)
	if !ok {
		return
	}
	c.pendingSnapshots = append(c.pendingSnapshots, snapshotRequest{
		actor: a.ID,
		address: protocol.WorldAddress{
			ModuleID:   a.ActiveModule,
			InstanceID: gi.ID,
			WorldID:    worldID,
		},
	})
}

func (c *Conductor) flushPendingSnapshots() {
	for _, req := range c.pendingSnapshots {
		a, ok := c.actors[req.actor]
		if !ok {
			continue
		}
		_, _, w, err := c.findWorld(&req.address)
		if err != nil {
			continue
		}
		addr := req.address
		c.send(a, &protocol.CommunicationEvent{
			Type:    protocol.CEGameSystemEvent,
			Address: &addr,
			Game: &protocol.GameSystemEvent{
				Type:     protocol.GSEWorldResumed,
				Entities: w.SnapshotAll(),
			},
		})
	}
	c.pendingSnapshots = c.pendingSnapshots[:0]
}

// === РАССЫЛКА ДЕЛЬТ ===

func (c *Conductor) fanOutDeltas(moduleID protocol.ModuleID, m *game.InstanceManager, deltas []game.WorldDelta) {
	for _, d := range deltas {
		gi, ok := m.Instance(d.Instance)
		if !ok {
			continue
		}
		ev := &protocol.CommunicationEvent{
			Type: protocol.CEGameSystemEvent,
			Address: &protocol.WorldAddress{
				ModuleID:   moduleID,
				InstanceID: d.Instance,
				WorldID:    d.World,
			},
			Game: &protocol.GameSystemEvent{
				Type:     protocol.GSEEntityUpdated,
				Entities: d.Result.Added,
				Removed:  d.Result.Removed,
				Updates:  d.Result.Updates,
			},
		}
		for _, watcher := range gi.Watchers(d.World) {
			if wa, ok := c.actors[watcher]; ok {
				c.send(wa, ev)
			}
		}
	}
}

// === ШИНА ФЛОТА ===

func (c *Conductor) handleBusEvent(env *eventbus.Envelope) {
	switch env.EventType {
	case eventbus.EventResourceChanged:
		if path := env.Metadata["path"]; path != "" {
			if err := c.invalidateResource(path, false); err != nil {
				c.log.Warn("Fleet resource invalidation %s: %v", path, err)
			}
		}
	case eventbus.EventModuleSaved:
		path := env.Metadata["path"]
		bp, err := c.loader.LoadModule(path)
		if err != nil {
			c.log.Warn("Fleet module reload %s: %v", path, err)
			return
		}
		if m, ok := c.managers[protocol.ModuleID(bp.ID)]; ok {
			m.Module.Blueprint = bp
			c.res.SetManifest(protocol.ModuleID(bp.ID), bp.Resources)
		}
	case eventbus.EventConductorSaved:
		if graph, err := c.loader.LoadConductor(); err == nil {
			c.graph = graph
		}
	case eventbus.EventGlobalMessage:
		c.broadcast(&protocol.CommunicationEvent{
			Type: protocol.CEShowGlobalMessage,
			Text: string(env.Payload),
		})
	}
}

// invalidateResource сбрасывает кэши, горячо заменяет скрипты в живых
// мирах и повторно доставляет ассет затронутым акторам.
// Возвращает первую ошибку перекомпиляции скрипта.
func (c *Conductor) invalidateResource(path string, publish bool) error {
	c.content.Invalidate(path)

	var compileErr error
	if isScriptPath(path) {
		src, err := c.loader.LoadScript(path)
		if err == nil {
			for _, id := range c.moduleOrder {
				for _, gi := range c.managers[id].Instances() {
					for _, wid := range gi.Worlds() {
						w, _ := gi.World(wid)
						if w == nil || !w.UsesScript(path) {
							continue
						}
						if err := w.RecompileScript(path, src); err != nil && compileErr == nil {
							compileErr = err
						}
					}
				}
			}
		}
	}

	for actorID, ev := range c.res.Invalidate(path) {
		if a, ok := c.actors[actorID]; ok {
			c.send(a, &protocol.CommunicationEvent{
				Type:     protocol.CEResourceEvent,
				ModuleID: a.ActiveModule,
				Resource: ev,
			})
		}
	}

	if publish {
		c.publish(eventbus.EventResourceChanged, nil, map[string]string{"path": path})
	}
	return compileErr
}

func (c *Conductor) publish(eventType string, payload []byte, metadata map[string]string) {
	if c.bus == nil {
		return
	}
	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    c.busSource,
		EventType: eventType,
		Version:   1,
		Priority:  5,
		Payload:   payload,
		Metadata:  metadata,
	}
	if err := c.bus.Publish(context.Background(), env); err != nil {
		c.log.Warn("Bus publish %s failed: %v", eventType, err)
	}
}

// === ОТПРАВКА ===

func (c *Conductor) send(a *Actor, ev *protocol.CommunicationEvent) {
	if a.Conn != nil {
		a.Conn.Send(ev)
	}
}

func (c *Conductor) toast(a *Actor, level, message string) {
	c.send(a, &protocol.CommunicationEvent{
		Type:  protocol.CEToast,
		Toast: &protocol.Toast{Level: level, Message: message},
	})
}

func (c *Conductor) broadcast(ev *protocol.CommunicationEvent) {
	for _, a := range c.actors {
		c.send(a, ev)
	}
}

// findWorld разворачивает адрес в (менеджер, инстанс, мир)
func (c *Conductor) findWorld(addr *protocol.WorldAddress) (*game.InstanceManager, *game.GameInstance, *world.World, error) {
	if addr == nil {
		return nil, nil, nil, errors.New("conductor: missing world address")
	}
	m, ok := c.managers[addr.ModuleID]
	if !ok {
		return nil, nil, nil, errors.New("conductor: unknown module " + string(addr.ModuleID))
	}
	gi, ok := m.Instance(addr.InstanceID)
	if !ok {
		return nil, nil, nil, game.ErrGameInstanceNotFoundWTF
	}
	worldID := addr.WorldID
	if worldID == "" {
		ids := gi.Worlds()
		if len(ids) == 0 {
			return nil, nil, nil, errors.New("conductor: instance has no worlds")
		}
		worldID = ids[0]
	}
	w, ok := gi.World(worldID)
	if !ok {
		return nil, nil, nil, errors.New("conductor: unknown world " + string(worldID))
	}
	return m, gi, w, nil
}

func (c *Conductor) observeTick(started time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.TickDuration.Observe(time.Since(started).Seconds())

	connected := 0
	for _, a := range c.actors {
		if a.Conn != nil {
			connected++
		}
	}
	c.metrics.ConnectedActors.Set(float64(connected))
	for _, id := range c.moduleOrder {
		c.metrics.OpenInstances.WithLabelValues(string(id)).Set(float64(len(c.managers[id].Instances())))
	}
}

func isScriptPath(path string) bool {
	return len(path) >= len(blueprint.ExtScript) &&
		path[len(path)-len(blueprint.ExtScript):] == blueprint.ExtScript
}
