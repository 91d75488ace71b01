package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/shiku-server/internal/auth"
	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/conductor"
	"github.com/annel0/shiku-server/internal/network"
	"github.com/annel0/shiku-server/internal/protocol"
)

// Интеграционные тесты гоняют полный стек: websocket транспорт,
// кондуктор, менеджеры инстансов, миры со скриптами и хранилище
// гостей. Клиенты ходят через настоящий gorilla-сокет.

const adminPassword = "s3cret"

// echoProvider превращает OAuth-код в идентификатор пользователя,
// что даёт тестам разных гостей без внешнего провайдера
type echoProvider struct{}

func (echoProvider) Exchange(_ context.Context, code string) (*auth.LoginData, error) {
	return &auth.LoginData{
		Provider:       "twitch",
		ProviderUserID: code,
		DisplayName:    "Guest " + code,
		CreatedAt:      time.Now().Add(-365 * 24 * time.Hour),
	}, nil
}

const greeterV1 = `
greeting = "hello"
ticks = 0
function init()
    greeting = "hello"
    ticks = 0
end
function update()
    ticks = ticks + 1
end
`

const greeterV2 = `
greeting = "v2"
ticks = 0
function init()
    greeting = "v2"
    ticks = 0
end
function update()
    ticks = ticks + 1
end
`

const greeterBroken = `function init( this does not parse`

// writeContent раскладывает двухмодульный мир: лобби со скриптовой
// сценой и игровой модуль на два гостя, закрывающийся при заполнении
func writeContent(t *testing.T, root string) *blueprint.Loader {
	t.Helper()
	loader := blueprint.NewLoader(root)

	require.NoError(t, loader.SaveScript("greeter.script.lua", greeterV1))

	scene := &blueprint.Scene{
		Name: "lobby",
		Root: blueprint.GameNode{
			GameNodeKind: blueprint.GameNodeKindNode2D,
			Node2DKind:   blueprint.Node2DKindNode2D,
			Name:         "root",
			ID:           "n-root",
			Children: []blueprint.GameNode{{
				GameNodeKind: blueprint.GameNodeKindNode2D,
				Node2DKind:   blueprint.Node2DKindNode2D,
				Name:         "greeter",
				ID:           "n-greeter",
				ScriptPath:   "greeter.script.lua",
			}},
		},
	}
	require.NoError(t, loader.SaveScene("lobby.scene.json", scene))

	lobbyMap := &blueprint.GameMap{
		WorldID: "w-lobby", Name: "lobby",
		ChunkSize: 4, TileWidth: 16, TileHeight: 16,
		MainScenePath: "lobby.scene.json",
	}
	require.NoError(t, loader.SaveMap("lobby.map.json", lobbyMap))

	gameMap := &blueprint.GameMap{
		WorldID: "w-game", Name: "game",
		ChunkSize: 4, TileWidth: 16, TileHeight: 16,
	}
	require.NoError(t, loader.SaveMap("game.map.json", gameMap))

	lobby := &blueprint.Module{
		ID: "lobby", Name: "Lobby",
		MainMapPath: "lobby.map.json",
		Resources: []blueprint.Resource{
			{Path: "greeter.script.lua", Kind: blueprint.ResourceScript},
		},
	}
	require.NoError(t, loader.SaveModule("lobby.module.json", lobby))

	game := &blueprint.Module{
		ID: "game", Name: "Game",
		MainMapPath:    "game.map.json",
		MaxGuests:      2,
		CloseAfterFull: true,
		InsertPoints:   []blueprint.InsertPoint{{Name: "entry", MapPath: "game.map.json"}},
	}
	require.NoError(t, loader.SaveModule("game.module.json", game))

	graph := &blueprint.Conductor{
		ModuleConnectionMap: map[string]blueprint.ExitTarget{
			conductor.MainDoorSlot: {ModuleID: "lobby"},
			"to_game":              {ModuleID: "game", InsertSlot: "entry"},
			"to_lobby":             {ModuleID: "lobby"},
		},
		MainDoorOpen: true,
	}
	require.NoError(t, loader.SaveConductor(graph))
	return loader
}

type testEnv struct {
	cond   *conductor.Conductor
	repo   *auth.MemoryRepository
	loader *blueprint.Loader
	wsURL  string
}

func startServer(t *testing.T) *testEnv {
	t.Helper()
	loader := writeContent(t, t.TempDir())

	repo := auth.NewMemoryRepository()
	login := auth.NewLoginManager(repo, 24*time.Hour, 0)
	login.RegisterProvider("twitch", echoProvider{})

	hash, err := auth.HashPassword(adminPassword)
	require.NoError(t, err)

	cond, err := conductor.New(conductor.Options{
		Loader:          loader,
		Login:           login,
		Tickets:         auth.NewAdminTickets("it-secret", hash),
		Frame:           5 * time.Millisecond,
		GuestTimeout:    time.Second,
		InstanceTimeout: time.Second,
		Source:          "itest",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go cond.Run(ctx)

	ws := network.NewServer(cond.Sink())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = ws.Upgrade(w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &testEnv{
		cond:   cond,
		repo:   repo,
		loader: loader,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

// client — тестовый websocket-клиент поверх реального соединения
type client struct {
	t    *testing.T
	conn *websocket.Conn
}

type outboundFrame struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

func dial(t *testing.T, env *testEnv, ticket protocol.Ticket) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL, nil)
	require.NoError(t, err, "сокет не открылся")
	require.NoError(t, conn.WriteJSON(ticket), "первый кадр не ушёл")
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(kind string, payload any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(outboundFrame{Kind: kind, Payload: payload}))
}

// expect читает кадры, пропуская посторонние, пока не встретит событие
// нужного типа
func (c *client) expect(typ string) *protocol.CommunicationEvent {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "не дождались события %s", typ)
		var ev protocol.CommunicationEvent
		require.NoError(c.t, json.Unmarshal(data, &ev))
		if ev.Type == typ {
			return &ev
		}
	}
}

// expectGame ждёт игровое событие конкретного вида
func (c *client) expectGame(gseType string) *protocol.CommunicationEvent {
	c.t.Helper()
	for {
		ev := c.expect(protocol.CEGameSystemEvent)
		if ev.Game != nil && ev.Game.Type == gseType {
			return ev
		}
	}
}

// expectEditor ждёт ответ редактора конкретного вида
func (c *client) expectEditor(eeType string) *protocol.EditorEvent {
	c.t.Helper()
	for {
		ev := c.expect(protocol.CEEditorEvent)
		if ev.Editor != nil && ev.Editor.Type == eeType {
			return ev.Editor
		}
	}
}

// loginAs проходит полный логин и возвращает PrepareGame лобби
func (c *client) loginAs(code string) *protocol.PrepareGame {
	c.t.Helper()
	c.send(protocol.FrameGuestToSystem, protocol.GuestToSystem{
		Type:     protocol.GTSProviderLoggedIn,
		Provider: &protocol.ProviderPayload{Provider: "twitch", Code: code},
	})
	signal := c.expect(protocol.CESignal)
	require.Equal(c.t, protocol.SignalLoginSuccess, signal.Signal, "логин не удался")
	prepare := c.expect(protocol.CEPrepareGame)
	return prepare.Prepare
}

// traverse просит смену модуля через выходной слот и возвращает
// PrepareGame нового модуля
func (c *client) traverse(from protocol.ModuleID, slot string) *protocol.PrepareGame {
	c.t.Helper()
	c.send(protocol.FrameGuestToModule, protocol.GuestToModule{
		ModuleID: from,
		Event:    protocol.GuestModuleEvent{Type: protocol.GTMWantToChangeModule, ExitSlot: slot},
	})
	return c.expect(protocol.CEPrepareGame).Prepare
}

func dialAdmin(t *testing.T, env *testEnv) *client {
	t.Helper()
	ticket, err := env.cond.MintAdminTicket(adminPassword)
	require.NoError(t, err)
	c := dial(t, env, protocol.Ticket{AdminLogin: true, AdminTicket: ticket})
	ready := c.expect(protocol.CEConnectionReady)
	require.False(t, ready.NeedsLogin, "админ с билетом не должен логиниться")
	return c
}

func TestHandshakeCountsReturnVisit(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()

	// Гостья уже бывала тут семь раз, последний визит позавчера
	require.NoError(t, env.repo.Put(ctx, &auth.GuestRecord{
		ProviderUserID: "alice",
		Provider:       "twitch",
		DisplayName:    "Guest alice",
		TimesJoined:    7,
		LastTimeJoined: time.Now().Add(-48 * time.Hour),
	}))

	c := dial(t, env, protocol.Ticket{})
	ready := c.expect(protocol.CEConnectionReady)
	require.NotEmpty(t, ready.SessionID, "сессия не выдана")
	require.True(t, ready.NeedsLogin, "свежий сокет обязан логиниться")

	prepare := c.loginAs("alice")
	assert.Equal(t, protocol.ModuleID("lobby"), prepare.ModuleID, "главная дверь ведёт в лобби")
	assert.NotNil(t, prepare.Terrain, "параметры местности не долетели")

	record, err := env.repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 8, record.TimesJoined, "визит старше порога должен увеличить счётчик")
}

func TestRepeatVisitWithinThresholdDoesNotCount(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()

	require.NoError(t, env.repo.Put(ctx, &auth.GuestRecord{
		ProviderUserID: "bob",
		Provider:       "twitch",
		TimesJoined:    3,
		LastTimeJoined: time.Now().Add(-time.Hour),
	}))

	c := dial(t, env, protocol.Ticket{})
	c.expect(protocol.CEConnectionReady)
	c.loginAs("bob")

	record, err := env.repo.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, record.TimesJoined, "визит внутри порога не считается")
}

func TestExitSlotTraversal(t *testing.T) {
	env := startServer(t)

	c := dial(t, env, protocol.Ticket{})
	c.expect(protocol.CEConnectionReady)
	prepare := c.loginAs("carol")
	require.Equal(t, protocol.ModuleID("lobby"), prepare.ModuleID)

	c.send(protocol.FrameGuestToModule, protocol.GuestToModule{
		ModuleID: "lobby",
		Event:    protocol.GuestModuleEvent{Type: protocol.GTMWantToChangeModule, ExitSlot: "to_game"},
	})
	unload := c.expect(protocol.CEUnloadGame)
	require.NotNil(t, unload, "выгрузка старого модуля не пришла")

	next := c.expect(protocol.CEPrepareGame).Prepare
	assert.Equal(t, protocol.ModuleID("game"), next.ModuleID)
	assert.Equal(t, protocol.WorldID("w-game"), next.WorldID, "входной слот entry ведёт на карту game")
}

func TestFullInstanceClosesAndStaysClosed(t *testing.T) {
	env := startServer(t)

	enterGame := func(code string) *protocol.PrepareGame {
		c := dial(t, env, protocol.Ticket{})
		c.expect(protocol.CEConnectionReady)
		c.loginAs(code)
		return c.traverse("lobby", "to_game")
	}

	p1 := enterGame("g1")
	p2 := enterGame("g2")
	assert.Equal(t, p1.InstanceID, p2.InstanceID, "двое помещаются в один инстанс")

	// Инстанс заполнен и закрыт: третий гость получает новый
	p3 := enterGame("g3")
	assert.NotEqual(t, p1.InstanceID, p3.InstanceID, "третий гость не влезает в закрытый инстанс")

	// Повторный логин g1 пересаживает его на новый сокет прямо в игру
	c1 := dial(t, env, protocol.Ticket{})
	c1.expect(protocol.CEConnectionReady)
	back := c1.loginAs("g1")
	require.Equal(t, protocol.ModuleID("game"), back.ModuleID, "пересевший гость возвращается в игру")
	require.Equal(t, p1.InstanceID, back.InstanceID, "пересадка не должна менять инстанс")

	// Первый гость уходит, но закрытый инстанс не открывается снова
	_ = c1.traverse("game", "to_lobby")

	p4 := enterGame("g4")
	assert.Equal(t, p3.InstanceID, p4.InstanceID, "новый гость попадает в открытый инстанс, не в закрытый")
}

func TestTerrainEditReachesLiveGuest(t *testing.T) {
	env := startServer(t)

	guest := dial(t, env, protocol.Ticket{})
	guest.expect(protocol.CEConnectionReady)
	guest.loginAs("dora")

	admin := dialAdmin(t, env)
	chunk := blueprint.TerrainChunk{Data: make([]uint32, 16)}
	chunk.Data[0] = 1
	admin.send(protocol.FrameAdminToSystem, protocol.AdminToSystem{
		Type: protocol.ATSUpdateMap,
		MapUpdate: &protocol.MapChunkUpdate{
			MapPath: "lobby.map.json",
			Layer:   "ground",
			Chunk:   chunk,
		},
	})
	saved := admin.expectEditor(protocol.EESaved)
	assert.Equal(t, "lobby.map.json", saved.Path)

	// Гость получает правку без переподключения
	tu := guest.expectGame(protocol.GSETerrainUpdated)
	require.NotNil(t, tu.Game.Chunk)
	assert.Equal(t, "ground", tu.Game.Layer)
	assert.Equal(t, uint32(1), tu.Game.Chunk.Data[0])

	// Правка долговечна
	gm, err := env.loader.LoadMap("lobby.map.json")
	require.NoError(t, err)
	require.Len(t, gm.Terrain["ground"], 1)
	assert.Equal(t, uint32(1), gm.Terrain["ground"][0].Data[0])
}

func TestScriptHotSwap(t *testing.T) {
	env := startServer(t)

	guest := dial(t, env, protocol.Ticket{})
	guest.expect(protocol.CEConnectionReady)
	prepare := guest.loginAs("eva")

	// Скрипт живёт: счётчик тиков капает наблюдателю
	guest.expectGame(protocol.GSEEntityUpdated)

	admin := dialAdmin(t, env)
	admin.send(protocol.FrameAdminToSystem, protocol.AdminToSystem{
		Type:   protocol.ATSUpdateScript,
		Path:   "greeter.script.lua",
		Source: greeterV2,
	})
	admin.expectEditor(protocol.EESaved)

	// После горячей замены init вызван заново: скоуп несёт новое
	// приветствие. Проверяем инспекцией мира.
	admin.send(protocol.FrameAdminToSystem, protocol.AdminToSystem{
		Type: protocol.ATSStartInspectingWorld,
		Address: &protocol.WorldAddress{
			ModuleID:   prepare.ModuleID,
			InstanceID: prepare.InstanceID,
			WorldID:    prepare.WorldID,
		},
	})
	state := admin.expectEditor(protocol.EEWorldState)
	greeting := ""
	for _, e := range state.Entities {
		if v, ok := e.Scope["greeting"]; ok {
			greeting = v.Str
		}
	}
	assert.Equal(t, "v2", greeting, "init новой версии не отработал")

	// Сломанный скрипт не валит мир: ошибка компиляции возвращается
	// редактору, старый код продолжает крутиться
	admin.send(protocol.FrameAdminToSystem, protocol.AdminToSystem{
		Type:   protocol.ATSUpdateScript,
		Path:   "greeter.script.lua",
		Source: greeterBroken,
	})
	scriptErr := admin.expectEditor(protocol.EEScriptError)
	assert.NotEmpty(t, scriptErr.Error)

	guest.expectGame(protocol.GSEEntityUpdated)
}

func TestReconnectionBySession(t *testing.T) {
	env := startServer(t)

	c := dial(t, env, protocol.Ticket{})
	session := c.expect(protocol.CEConnectionReady).SessionID
	first := c.loginAs("frank")

	require.NoError(t, c.conn.Close())

	resumed := dial(t, env, protocol.Ticket{SessionID: session})
	ready := resumed.expect(protocol.CEConnectionReady)
	assert.False(t, ready.NeedsLogin, "возобновлённая сессия не требует логина")
	assert.Equal(t, session, ready.SessionID, "session_id не должен меняться")

	again := resumed.expect(protocol.CEPrepareGame).Prepare
	assert.Equal(t, first.ModuleID, again.ModuleID)
	assert.Equal(t, first.InstanceID, again.InstanceID, "переподключение не должно менять инстанс")

	resumed.expectGame(protocol.GSEWorldResumed)
}

func TestLiveSessionRejectsDuplicateSocket(t *testing.T) {
	env := startServer(t)

	c := dial(t, env, protocol.Ticket{})
	session := c.expect(protocol.CEConnectionReady).SessionID

	dup := dial(t, env, protocol.Ticket{SessionID: session})
	dup.expect(protocol.CEAlreadyConnected)
}

func TestGuestCannotUseEditor(t *testing.T) {
	env := startServer(t)

	c := dial(t, env, protocol.Ticket{})
	c.expect(protocol.CEConnectionReady)
	c.loginAs("mallory")

	c.send(protocol.FrameAdminToSystem, protocol.AdminToSystem{Type: protocol.ATSLoadEditorData})
	toast := c.expect(protocol.CEToast)
	require.NotNil(t, toast.Toast)
	assert.Equal(t, protocol.ToastError, toast.Toast.Level)
}
