package resources

import (
	"testing"

	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/protocol"
)

func manifest(paths ...string) []blueprint.Resource {
	out := make([]blueprint.Resource, 0, len(paths))
	for _, p := range paths {
		out = append(out, blueprint.Resource{Path: p, Kind: blueprint.ResourceImage})
	}
	return out
}

func TestActiveModuleDeliversOnlyMissing(t *testing.T) {
	b := NewBus()
	b.SetManifest("hub", manifest("a.png", "b.png"))

	ev := b.SetActiveModule(1, "hub")
	if ev == nil || len(ev.Assets) != 2 {
		t.Fatalf("Первый вход должен доставить оба ассета: %+v", ev)
	}
	if ev.Type != protocol.RELoadAssets {
		t.Errorf("Тип события: %s", ev.Type)
	}

	// Повторный вход: всё уже на руках
	if ev := b.SetActiveModule(1, "hub"); ev != nil {
		t.Errorf("Повторная доставка уже доставленного: %+v", ev)
	}
}

func TestModuleSwitchDeliversDelta(t *testing.T) {
	b := NewBus()
	b.SetManifest("hub", manifest("shared.png", "hub.png"))
	b.SetManifest("cave", manifest("shared.png", "cave.png"))

	b.SetActiveModule(1, "hub")
	ev := b.SetActiveModule(1, "cave")
	if ev == nil || len(ev.Assets) != 1 {
		t.Fatalf("Переход должен доставить только недостающее: %+v", ev)
	}
	if ev.Assets[0].Path != "cave.png" {
		t.Errorf("Не тот ассет: %s", ev.Assets[0].Path)
	}
}

func TestInvalidateRepushesToAffectedActors(t *testing.T) {
	b := NewBus()
	b.SetManifest("hub", manifest("a.png"))
	b.SetManifest("cave", manifest("c.png"))
	b.SetActiveModule(1, "hub")
	b.SetActiveModule(2, "cave")

	out := b.Invalidate("a.png")
	if len(out) != 1 {
		t.Fatalf("Затронут ровно один актор: %d", len(out))
	}
	ev, ok := out[1]
	if !ok || len(ev.Assets) != 1 || ev.Assets[0].Path != "a.png" {
		t.Errorf("Актор 1 не получил повторную доставку: %+v", ev)
	}

	// Повторная инвалидация после повторной доставки работает так же
	if out := b.Invalidate("a.png"); len(out) != 1 {
		t.Error("Повторная доставка не отметила ассет доставленным")
	}
}

func TestInvalidateSkipsActorWhoLeftModule(t *testing.T) {
	b := NewBus()
	b.SetManifest("hub", manifest("a.png"))
	b.SetManifest("cave", manifest("c.png"))
	b.SetActiveModule(1, "hub")
	b.SetActiveModule(1, "cave")

	// Ассет hub на руках, но активный модуль его не объявляет
	out := b.Invalidate("a.png")
	if len(out) != 0 {
		t.Errorf("Актор вне модуля получил доставку: %+v", out)
	}
	// При возврате в hub ассет доставится заново
	ev := b.SetActiveModule(1, "hub")
	if ev == nil || len(ev.Assets) != 1 {
		t.Errorf("Сброшенный ассет не доставлен при возврате: %+v", ev)
	}
}

func TestDropActorForgetsDelivered(t *testing.T) {
	b := NewBus()
	b.SetManifest("hub", manifest("a.png"))
	b.SetActiveModule(1, "hub")
	b.DropActor(1)

	ev := b.SetActiveModule(1, "hub")
	if ev == nil || len(ev.Assets) != 1 {
		t.Error("После сброса актора доставка должна начаться заново")
	}
}
