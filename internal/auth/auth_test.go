package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterJoinThreshold(t *testing.T) {
	now := time.Now()
	rec := &GuestRecord{TimesJoined: 7, LastTimeJoined: now.Add(-48 * time.Hour)}

	rec.RegisterJoin(now, 24*time.Hour)
	if rec.TimesJoined != 8 {
		t.Errorf("Визит спустя 48ч должен увеличить счётчик: %d", rec.TimesJoined)
	}

	// Повторный визит в пределах порога не считается
	rec.RegisterJoin(now.Add(time.Hour), 24*time.Hour)
	if rec.TimesJoined != 8 {
		t.Errorf("Визит в пределах 24ч не должен увеличить счётчик: %d", rec.TimesJoined)
	}
}

func TestRegisterJoinFirstVisit(t *testing.T) {
	rec := &GuestRecord{}
	rec.RegisterJoin(time.Now(), 24*time.Hour)
	if rec.TimesJoined != 1 {
		t.Errorf("Первый визит должен дать счётчик 1: %d", rec.TimesJoined)
	}
}

func TestAddSecretDeduplicates(t *testing.T) {
	rec := &GuestRecord{}
	now := time.Now()

	if !rec.AddSecret("cave", now) {
		t.Error("Новый секрет должен добавиться")
	}
	if rec.AddSecret("cave", now) {
		t.Error("Повторный секрет не должен добавиться")
	}
	if len(rec.Secrets) != 1 {
		t.Errorf("Секретов: %d", len(rec.Secrets))
	}
}

func TestMemoryRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Отсутствующая запись: ожидался ErrRecordNotFound, получено %v", err)
	}

	rec := &GuestRecord{ProviderUserID: "u1", Provider: "twitch", DisplayName: "Гость", TimesJoined: 3}
	if err := repo.Put(ctx, rec); err != nil {
		t.Fatalf("Сохранение не удалось: %v", err)
	}

	got, err := repo.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Чтение не удалось: %v", err)
	}
	if got.DisplayName != "Гость" || got.TimesJoined != 3 {
		t.Errorf("Запись исказилась: %+v", got)
	}

	// Копия, а не ссылка на внутреннее состояние
	got.TimesJoined = 100
	again, _ := repo.Get(ctx, "u1")
	if again.TimesJoined != 3 {
		t.Error("Get вернул ссылку на внутреннюю запись")
	}
}

type stubProvider struct {
	data *LoginData
	err  error
}

func (s *stubProvider) Exchange(context.Context, string) (*LoginData, error) {
	return s.data, s.err
}

func drainResults(t *testing.T, lm *LoginManager) LoginResult {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if results := lm.Results.Drain(); len(results) > 0 {
			return results[0]
		}
		select {
		case <-deadline:
			t.Fatal("Результат логина не пришёл")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoginSuccessPersistsJoin(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.Put(ctx, &GuestRecord{
		ProviderUserID: "u1",
		Provider:       "twitch",
		DisplayName:    "Old",
		TimesJoined:    7,
		LastTimeJoined: time.Now().Add(-48 * time.Hour),
	})

	lm := NewLoginManager(repo, 24*time.Hour, 0)
	lm.RegisterProvider("twitch", &stubProvider{data: &LoginData{
		Provider: "twitch", ProviderUserID: "u1", DisplayName: "New",
	}})

	lm.Submit(ctx, LoginRequest{Actor: 5, Provider: "twitch", Code: "C"})
	res := drainResults(t, lm)

	if res.Err != nil {
		t.Fatalf("Логин не удался: %v", res.Err)
	}
	if res.Record.TimesJoined != 8 {
		t.Errorf("times_joined после визита спустя 48ч: %d, ожидалось 8", res.Record.TimesJoined)
	}
	if res.Record.DisplayName != "New" {
		t.Error("Отображаемое имя не обновлено от провайдера")
	}

	stored, _ := repo.Get(ctx, "u1")
	if stored.TimesJoined != 8 {
		t.Error("Счётчик не долетел до хранилища")
	}
}

func TestLoginUnknownProvider(t *testing.T) {
	lm := NewLoginManager(NewMemoryRepository(), 24*time.Hour, 0)
	lm.Submit(context.Background(), LoginRequest{Actor: 5, Provider: "nope", Code: "C"})

	res := drainResults(t, lm)
	if !errors.Is(res.Err, ErrProviderError) {
		t.Errorf("Ожидался ErrProviderError, получено %v", res.Err)
	}
}

func TestLoginYoungAccountRejected(t *testing.T) {
	lm := NewLoginManager(NewMemoryRepository(), 24*time.Hour, 30*24*time.Hour)
	lm.RegisterProvider("twitch", &stubProvider{data: &LoginData{
		Provider: "twitch", ProviderUserID: "u2", DisplayName: "Fresh",
		CreatedAt: time.Now().Add(-time.Hour),
	}})

	lm.Submit(context.Background(), LoginRequest{Actor: 5, Provider: "twitch", Code: "C"})
	res := drainResults(t, lm)
	if !errors.Is(res.Err, ErrUserDidNotExistLongEnough) {
		t.Errorf("Ожидался ErrUserDidNotExistLongEnough, получено %v", res.Err)
	}
}

func TestAdminTicketRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("Хэширование не удалось: %v", err)
	}
	tickets := NewAdminTickets("signing-secret", hash)

	if _, err := tickets.Mint("wrong"); !errors.Is(err, ErrNotAuthorized) {
		t.Error("Неверный пароль должен вернуть ErrNotAuthorized")
	}

	ticket, err := tickets.Mint("hunter2")
	if err != nil {
		t.Fatalf("Выдача билета не удалась: %v", err)
	}
	if err := tickets.Verify(ticket); err != nil {
		t.Errorf("Свежий билет не прошёл проверку: %v", err)
	}

	other := NewAdminTickets("other-secret", hash)
	if err := other.Verify(ticket); !errors.Is(err, ErrNotAuthorized) {
		t.Error("Билет с чужой подписью прошёл проверку")
	}
}
