package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/shiku-server/internal/auth"
	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/protocol"
)

// stubConn собирает отправленные события вместо сокета
type stubConn struct {
	sent        []*protocol.CommunicationEvent
	closed      bool
	closeReason string
}

func (s *stubConn) Send(ev *protocol.CommunicationEvent) { s.sent = append(s.sent, ev) }
func (s *stubConn) CloseWithReason(reason string) {
	s.closed = true
	s.closeReason = reason
}

func (s *stubConn) lastOfType(kind string) *protocol.CommunicationEvent {
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Type == kind {
			return s.sent[i]
		}
	}
	return nil
}

type stubProvider struct {
	data *auth.LoginData
	err  error
}

func (s *stubProvider) Exchange(context.Context, string) (*auth.LoginData, error) {
	return s.data, s.err
}

// writeFixtures раскладывает минимальный контент: два модуля и граф
// с главной дверью в hub и выходом to_cave в cave
func writeFixtures(t *testing.T, root string) *blueprint.Loader {
	t.Helper()
	loader := blueprint.NewLoader(root)

	hubMap := &blueprint.GameMap{WorldID: "w-hub", Name: "hub", ChunkSize: 4, TileWidth: 16, TileHeight: 16}
	if err := loader.SaveMap("hub.map.json", hubMap); err != nil {
		t.Fatalf("Карта hub не сохранилась: %v", err)
	}
	caveMap := &blueprint.GameMap{WorldID: "w-cave", Name: "cave", ChunkSize: 4, TileWidth: 16, TileHeight: 16}
	if err := loader.SaveMap("cave.map.json", caveMap); err != nil {
		t.Fatalf("Карта cave не сохранилась: %v", err)
	}

	hub := &blueprint.Module{ID: "hub", Name: "Hub", MainMapPath: "hub.map.json"}
	if err := loader.SaveModule("hub.module.json", hub); err != nil {
		t.Fatalf("Модуль hub не сохранился: %v", err)
	}
	cave := &blueprint.Module{ID: "cave", Name: "Cave", MainMapPath: "cave.map.json"}
	if err := loader.SaveModule("cave.module.json", cave); err != nil {
		t.Fatalf("Модуль cave не сохранился: %v", err)
	}

	graph := &blueprint.Conductor{
		ModuleConnectionMap: map[string]blueprint.ExitTarget{
			MainDoorSlot: {ModuleID: "hub"},
			"to_cave":    {ModuleID: "cave"},
		},
		MainDoorOpen: true,
	}
	if err := loader.SaveConductor(graph); err != nil {
		t.Fatalf("Граф не сохранился: %v", err)
	}
	return loader
}

const testFrame = 16 * time.Millisecond

func newTestConductor(t *testing.T) (*Conductor, *auth.LoginManager) {
	t.Helper()
	loader := writeFixtures(t, t.TempDir())

	login := auth.NewLoginManager(auth.NewMemoryRepository(), 24*time.Hour, 0)
	login.RegisterProvider("twitch", &stubProvider{data: &auth.LoginData{
		Provider: "twitch", ProviderUserID: "u1", DisplayName: "Гость",
	}})

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("Хэш пароля: %v", err)
	}

	c, err := New(Options{
		Loader:          loader,
		Login:           login,
		Tickets:         auth.NewAdminTickets("test-secret", hash),
		Frame:           testFrame,
		GuestTimeout:    60 * time.Millisecond,
		InstanceTimeout: time.Second,
		Source:          "test-process",
	})
	if err != nil {
		t.Fatalf("Кондуктор не собрался: %v", err)
	}
	return c, login
}

// tickUntil крутит тики, пока условие не выполнится
func tickUntil(t *testing.T, c *Conductor, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		c.TickOnce(testFrame)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Не дождались: %s", what)
}

func connect(t *testing.T, c *Conductor) *stubConn {
	t.Helper()
	conn := &stubConn{}
	c.inbox.Push(connEvent{Kind: connOpened, Conn: conn, Ticket: &protocol.Ticket{}})
	c.TickOnce(testFrame)
	if conn.lastOfType(protocol.CEConnectionReady) == nil {
		t.Fatal("ConnectionReady не пришёл")
	}
	return conn
}

func loginGuest(t *testing.T, c *Conductor, conn *stubConn) {
	t.Helper()
	c.inbox.Push(connEvent{Kind: connFrame, Conn: conn, Frame: &protocol.InboundFrame{
		GuestToSystem: &protocol.GuestToSystem{
			Type:     protocol.GTSProviderLoggedIn,
			Provider: &protocol.ProviderPayload{Provider: "twitch", Code: "C"},
		},
	}})
	tickUntil(t, c, "LoginSuccess", func() bool {
		ev := conn.lastOfType(protocol.CESignal)
		return ev != nil && ev.Signal == protocol.SignalLoginSuccess
	})
}

func TestConnectionReadyCarriesSession(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)

	ready := conn.lastOfType(protocol.CEConnectionReady)
	if ready.SessionID == "" {
		t.Error("Пустой session_id в ConnectionReady")
	}
	if !ready.NeedsLogin {
		t.Error("Свежий гость обязан логиниться")
	}
}

func TestLoginWalksThroughMainDoor(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)
	loginGuest(t, c, conn)

	prepare := conn.lastOfType(protocol.CEPrepareGame)
	if prepare == nil {
		t.Fatal("PrepareGame после логина не пришёл")
	}
	if prepare.Prepare.ModuleID != "hub" {
		t.Errorf("Главная дверь ведёт в hub, получили %s", prepare.Prepare.ModuleID)
	}
	if prepare.Prepare.WorldID != "w-hub" {
		t.Errorf("Мир главной карты: %s", prepare.Prepare.WorldID)
	}
	if prepare.Prepare.Terrain == nil || prepare.Prepare.Terrain.ChunkSize != 4 {
		t.Error("Параметры местности не долетели")
	}
}

func TestClosedMainDoorKeepsGuestOut(t *testing.T) {
	c, _ := newTestConductor(t)
	c.graph.MainDoorOpen = false
	conn := connect(t, c)
	loginGuest(t, c, conn)

	if conn.lastOfType(protocol.CEPrepareGame) != nil {
		t.Error("Гость вошёл сквозь закрытую дверь")
	}
	if conn.lastOfType(protocol.CEToast) == nil {
		t.Error("Гость не узнал, что двери закрыты")
	}
}

func TestDuplicateLoginSupersedesOlderSocket(t *testing.T) {
	c, _ := newTestConductor(t)
	first := connect(t, c)
	loginGuest(t, c, first)

	second := &stubConn{}
	c.inbox.Push(connEvent{Kind: connOpened, Conn: second, Ticket: &protocol.Ticket{}})
	c.TickOnce(testFrame)
	c.inbox.Push(connEvent{Kind: connFrame, Conn: second, Frame: &protocol.InboundFrame{
		GuestToSystem: &protocol.GuestToSystem{
			Type:     protocol.GTSProviderLoggedIn,
			Provider: &protocol.ProviderPayload{Provider: "twitch", Code: "C"},
		},
	}})
	tickUntil(t, c, "вытеснение первого сокета", func() bool { return first.closed })

	if first.closeReason != "Logged in elsewhere" {
		t.Errorf("Причина закрытия: %q", first.closeReason)
	}
	ev := second.lastOfType(protocol.CESignal)
	if ev == nil || ev.Signal != protocol.SignalLoginSuccess {
		t.Error("Новый сокет не получил LoginSuccess")
	}
	if len(c.actors) != 1 {
		t.Errorf("После вытеснения должен остаться один актор: %d", len(c.actors))
	}
	// Игровое состояние исходного актора пережило пересадку
	if second.lastOfType(protocol.CEPrepareGame) == nil {
		t.Error("Пересевший пользователь не вернулся в игру")
	}
}

func TestResumeBySessionID(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)
	loginGuest(t, c, conn)
	session := conn.lastOfType(protocol.CEConnectionReady).SessionID

	c.inbox.Push(connEvent{Kind: connClosed, Conn: conn})
	c.TickOnce(testFrame)

	resumed := &stubConn{}
	c.inbox.Push(connEvent{Kind: connOpened, Conn: resumed, Ticket: &protocol.Ticket{SessionID: session}})
	c.TickOnce(testFrame)

	ready := resumed.lastOfType(protocol.CEConnectionReady)
	if ready == nil {
		t.Fatal("ConnectionReady при возобновлении не пришёл")
	}
	if ready.NeedsLogin {
		t.Error("Возобновлённая сессия не должна требовать логин")
	}
	if ready.SessionID != session {
		t.Error("Возобновление сменило session_id")
	}
	game := resumed.lastOfType(protocol.CEGameSystemEvent)
	if game == nil || game.Game.Type != protocol.GSEWorldResumed {
		t.Error("Возобновлённый гость не получил снапшот мира")
	}
}

func TestLiveSessionRejectsSecondSocket(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)
	session := conn.lastOfType(protocol.CEConnectionReady).SessionID

	dup := &stubConn{}
	c.inbox.Push(connEvent{Kind: connOpened, Conn: dup, Ticket: &protocol.Ticket{SessionID: session}})
	c.TickOnce(testFrame)

	if dup.lastOfType(protocol.CEAlreadyConnected) == nil {
		t.Error("Второй сокет живой сессии не получил AlreadyConnected")
	}
	if !dup.closed {
		t.Error("Второй сокет не закрыт")
	}
	if conn.closed {
		t.Error("Исходный сокет пострадал")
	}
}

func TestGuestTimeoutEvictsFromModule(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)
	loginGuest(t, c, conn)
	session := conn.lastOfType(protocol.CEConnectionReady).SessionID

	hub := c.managers["hub"]
	if len(hub.Instances()) != 1 || hub.Instances()[0].GuestCount() != 1 {
		t.Fatal("Гость не в инстансе hub")
	}

	c.inbox.Push(connEvent{Kind: connClosed, Conn: conn})
	// 60 мс таймаута при кадре 16 мс: пять тиков хватает с запасом
	for i := 0; i < 6; i++ {
		c.TickOnce(testFrame)
	}

	if hub.Instances()[0].GuestCount() != 0 {
		t.Error("Выселенный гость остался в инстансе")
	}
	if _, ok := c.sessions[session]; ok {
		t.Error("Сессия выселенного гостя не забыта")
	}
	if len(c.actors) != 0 {
		t.Errorf("Акторы после выселения: %d", len(c.actors))
	}
}

func TestExitSlotTraversal(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)
	loginGuest(t, c, conn)

	c.inbox.Push(connEvent{Kind: connFrame, Conn: conn, Frame: &protocol.InboundFrame{
		GuestToModule: &protocol.GuestToModule{
			ModuleID: "hub",
			Event:    protocol.GuestModuleEvent{Type: protocol.GTMWantToChangeModule, ExitSlot: "to_cave"},
		},
	}})
	tickUntil(t, c, "переход в cave", func() bool {
		p := conn.lastOfType(protocol.CEPrepareGame)
		return p != nil && p.Prepare.ModuleID == "cave"
	})

	if conn.lastOfType(protocol.CEUnloadGame) == nil {
		t.Error("UnloadGame перед переходом не пришёл")
	}
	if c.managers["hub"].Instances()[0].GuestCount() != 0 {
		t.Error("Гость остался в hub после перехода")
	}
	if c.managers["cave"].Instances()[0].GuestCount() != 1 {
		t.Error("Гость не оказался в cave")
	}
}

func TestDeadEndExitLeavesGuestInLimbo(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)
	loginGuest(t, c, conn)

	c.inbox.Push(connEvent{Kind: connFrame, Conn: conn, Frame: &protocol.InboundFrame{
		GuestToModule: &protocol.GuestToModule{
			ModuleID: "hub",
			Event:    protocol.GuestModuleEvent{Type: protocol.GTMWantToChangeModule, ExitSlot: "nowhere"},
		},
	}})
	tickUntil(t, c, "выход из hub", func() bool {
		return c.managers["hub"].Instances()[0].GuestCount() == 0
	})

	id, ok := c.byConnActorID(conn)
	if !ok {
		t.Fatal("Актор пропал")
	}
	if c.actors[id].ActiveModule != "" {
		t.Error("Тупиковый выход должен оставить гостя в лимбе")
	}
}

func TestEditorCommandsRequireAdmin(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := connect(t, c)

	c.inbox.Push(connEvent{Kind: connFrame, Conn: conn, Frame: &protocol.InboundFrame{
		AdminToSystem: &protocol.AdminToSystem{Type: protocol.ATSLoadEditorData},
	}})
	c.TickOnce(testFrame)

	if conn.lastOfType(protocol.CEEditorEvent) != nil {
		t.Error("Гость получил данные редактора")
	}
	if conn.lastOfType(protocol.CEToast) == nil {
		t.Error("Гость не получил отказ")
	}
}

func adminConnect(t *testing.T, c *Conductor) *stubConn {
	t.Helper()
	ticket, err := c.tickets.Mint("s3cret")
	if err != nil {
		t.Fatalf("Выдача билета: %v", err)
	}
	conn := &stubConn{}
	c.inbox.Push(connEvent{Kind: connOpened, Conn: conn, Ticket: &protocol.Ticket{
		AdminLogin:  true,
		AdminTicket: ticket,
	}})
	c.TickOnce(testFrame)
	ready := conn.lastOfType(protocol.CEConnectionReady)
	if ready == nil || ready.NeedsLogin {
		t.Fatal("Админ с билетом не принят")
	}
	return conn
}

func TestAdminLoadsEditorData(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := adminConnect(t, c)

	c.inbox.Push(connEvent{Kind: connFrame, Conn: conn, Frame: &protocol.InboundFrame{
		AdminToSystem: &protocol.AdminToSystem{Type: protocol.ATSLoadEditorData},
	}})
	c.TickOnce(testFrame)

	ev := conn.lastOfType(protocol.CEEditorEvent)
	if ev == nil || ev.Editor.Type != protocol.EEEditorData {
		t.Fatal("EditorData не пришла")
	}
	if len(ev.Editor.Modules) != 2 {
		t.Errorf("Модулей в данных редактора: %d", len(ev.Editor.Modules))
	}
	if ev.Editor.Conductor == nil || !ev.Editor.Conductor.MainDoorOpen {
		t.Error("Граф связей не долетел")
	}
}

func TestAdminTicketForgeryRejected(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := &stubConn{}
	c.inbox.Push(connEvent{Kind: connOpened, Conn: conn, Ticket: &protocol.Ticket{
		AdminLogin:  true,
		AdminTicket: "forged",
	}})
	c.TickOnce(testFrame)

	if !conn.closed {
		t.Error("Сокет с поддельным билетом не закрыт")
	}
	if conn.lastOfType(protocol.CEConnectionReady) != nil {
		t.Error("Поддельный билет получил ConnectionReady")
	}
}

func TestAdminCreatesGeneratedMap(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := adminConnect(t, c)

	c.inbox.Push(connEvent{Kind: connFrame, Conn: conn, Frame: &protocol.InboundFrame{
		AdminToSystem: &protocol.AdminToSystem{
			Type: protocol.ATSCreateMap,
			CreateMap: &protocol.CreateMapRequest{
				Name: "hills", ChunkSize: 8, TileWidth: 16, TileHeight: 16,
				Generate: true, Seed: 7,
			},
		},
	}})
	c.TickOnce(testFrame)

	ev := conn.lastOfType(protocol.CEEditorEvent)
	if ev == nil || ev.Editor.Type != protocol.EESaved {
		t.Fatal("Создание карты не подтверждено")
	}
	gm, err := c.loader.LoadMap("hills.map.json")
	if err != nil {
		t.Fatalf("Созданная карта не читается: %v", err)
	}
	if len(gm.Terrain["ground"]) == 0 {
		t.Error("Генератор не заполнил слой ground")
	}
	if gm.WorldID == "" {
		t.Error("Карта без world_id")
	}
}

func TestAdminUpdateMapReachesLiveWorld(t *testing.T) {
	c, _ := newTestConductor(t)
	guest := connect(t, c)
	loginGuest(t, c, guest)
	admin := adminConnect(t, c)

	chunk := blueprint.TerrainChunk{Data: make([]uint32, 16)}
	c.inbox.Push(connEvent{Kind: connFrame, Conn: admin, Frame: &protocol.InboundFrame{
		AdminToSystem: &protocol.AdminToSystem{
			Type: protocol.ATSUpdateMap,
			MapUpdate: &protocol.MapChunkUpdate{
				MapPath: "hub.map.json",
				Layer:   "ground",
				Chunk:   chunk,
			},
		},
	}})
	c.TickOnce(testFrame)

	if ev := admin.lastOfType(protocol.CEEditorEvent); ev == nil || ev.Editor.Type != protocol.EESaved {
		t.Error("Правка карты не подтверждена")
	}
	gm, err := c.loader.LoadMap("hub.map.json")
	if err != nil || len(gm.Terrain["ground"]) != 1 {
		t.Errorf("Чанк не сохранился: %v", err)
	}
	tu := guest.lastOfType(protocol.CEGameSystemEvent)
	if tu == nil || tu.Game.Type != protocol.GSETerrainUpdated {
		t.Error("Гость не увидел правку местности")
	}
}

func TestDoorTogglePersists(t *testing.T) {
	c, _ := newTestConductor(t)
	conn := adminConnect(t, c)

	c.inbox.Push(connEvent{Kind: connFrame, Conn: conn, Frame: &protocol.InboundFrame{
		AdminToSystem: &protocol.AdminToSystem{Type: protocol.ATSSetMainDoorStatus, Open: false},
	}})
	c.TickOnce(testFrame)

	if c.graph.MainDoorOpen {
		t.Error("Дверь не закрылась в памяти")
	}
	saved, err := c.loader.LoadConductor()
	if err != nil || saved.MainDoorOpen {
		t.Error("Закрытая дверь не сохранилась на диске")
	}
}

// byConnActorID — тестовый помощник поиска актора по соединению
func (c *Conductor) byConnActorID(conn Connection) (uint64, bool) {
	id, ok := c.byConn[conn]
	return id, ok
}
