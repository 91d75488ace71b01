package auth

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/util"
)

// Типизированные ошибки логина. Все они доезжают до клиента как
// LoginFailed плюс тост, актор остаётся подключён и может повторить.
var (
	ErrUserDidNotExistLongEnough = errors.New("auth: account is too young")
	ErrProviderError             = errors.New("auth: identity provider error")
	ErrNotAuthorized             = errors.New("auth: not authorized")
	ErrCouldNotFind              = errors.New("auth: could not find user")
)

// LoginData — подтверждённая личность от провайдера
type LoginData struct {
	Provider       string
	ProviderUserID string
	DisplayName    string
	CreatedAt      time.Time
}

// ProviderClient обменивает OAuth-код на личность пользователя.
// Вызов блокирующий, выполняется в фоновой горутине.
type ProviderClient interface {
	Exchange(ctx context.Context, code string) (*LoginData, error)
}

// LoginRequest — заявка на логин от кондуктора
type LoginRequest struct {
	Actor    uint64
	Admin    bool
	Provider string
	Code     string
}

// LoginResult — итог фоновой проверки, забирается тиком кондуктора
type LoginResult struct {
	Actor  uint64
	Admin  bool
	Data   *LoginData
	Record *GuestRecord
	Err    error
}

// LoginManager выполняет блокирующие обращения к провайдерам в фоне
// и складывает результаты в почтовый ящик
type LoginManager struct {
	providers map[string]ProviderClient
	repo      GuestRepository

	Results *util.Mailbox[LoginResult]

	joinThreshold time.Duration
	minAccountAge time.Duration

	log *logging.Logger
}

// NewLoginManager создаёт менеджер логинов
func NewLoginManager(repo GuestRepository, joinThreshold, minAccountAge time.Duration) *LoginManager {
	return &LoginManager{
		providers:     make(map[string]ProviderClient),
		repo:          repo,
		Results:       util.NewMailbox[LoginResult](),
		joinThreshold: joinThreshold,
		minAccountAge: minAccountAge,
		log:           logging.GetAuthLogger(),
	}
}

// RegisterProvider подключает провайдера по имени
func (lm *LoginManager) RegisterProvider(name string, client ProviderClient) {
	lm.providers[name] = client
}

// Submit запускает фоновую проверку. Никогда не блокирует.
func (lm *LoginManager) Submit(ctx context.Context, req LoginRequest) {
	client, ok := lm.providers[req.Provider]
	if !ok {
		lm.Results.Push(LoginResult{Actor: req.Actor, Admin: req.Admin, Err: ErrProviderError})
		return
	}
	go func() {
		res := lm.resolve(ctx, client, req)
		lm.Results.Push(res)
	}()
}

func (lm *LoginManager) resolve(ctx context.Context, client ProviderClient, req LoginRequest) LoginResult {
	res := LoginResult{Actor: req.Actor, Admin: req.Admin}

	data, err := client.Exchange(ctx, req.Code)
	if err != nil {
		lm.log.Warn("Provider %s exchange failed: %v", req.Provider, err)
		res.Err = err
		if !errors.Is(err, ErrNotAuthorized) && !errors.Is(err, ErrCouldNotFind) &&
			!errors.Is(err, ErrUserDidNotExistLongEnough) {
			res.Err = ErrProviderError
		}
		return res
	}

	if lm.minAccountAge > 0 && !data.CreatedAt.IsZero() &&
		time.Since(data.CreatedAt) < lm.minAccountAge {
		res.Err = ErrUserDidNotExistLongEnough
		return res
	}
	res.Data = data

	if req.Admin {
		// Запись гостя для админов не ведётся
		return res
	}

	record, err := lm.repo.Get(ctx, data.ProviderUserID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		record = &GuestRecord{
			ProviderUserID: data.ProviderUserID,
			Provider:       data.Provider,
			DisplayName:    data.DisplayName,
		}
	case err != nil:
		lm.log.Error("Guest record load for %s failed: %v", data.ProviderUserID, err)
		res.Err = ErrCouldNotFind
		return res
	}

	record.DisplayName = data.DisplayName
	record.RegisterJoin(time.Now(), lm.joinThreshold)
	if err := lm.repo.Put(ctx, record); err != nil {
		lm.log.Error("Guest record save for %s failed: %v", data.ProviderUserID, err)
		res.Err = ErrCouldNotFind
		return res
	}

	res.Record = record
	return res
}
