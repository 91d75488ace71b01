package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

const twitchUsersURL = "https://api.twitch.tv/helix/users"

// TwitchClient обменивает OAuth-код Twitch на личность пользователя
type TwitchClient struct {
	oauth    oauth2.Config
	clientID string
	http     *http.Client
}

// NewTwitchClient создаёт клиента с данными приложения
func NewTwitchClient(clientID, clientSecret, redirectURL string) *TwitchClient {
	return &TwitchClient{
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     twitch.Endpoint,
		},
		clientID: clientID,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// twitchUsersResponse — ответ helix /users
type twitchUsersResponse struct {
	Data []struct {
		ID          string    `json:"id"`
		DisplayName string    `json:"display_name"`
		CreatedAt   time.Time `json:"created_at"`
	} `json:"data"`
}

// Exchange меняет код на токен и запрашивает профиль пользователя
func (t *TwitchClient) Exchange(ctx context.Context, code string) (*LoginData, error) {
	token, err := t.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrNotAuthorized, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, twitchUsersURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Client-Id", t.clientID)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: users request: %v", ErrProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrNotAuthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: users status %d", ErrProviderError, resp.StatusCode)
	}

	var body twitchUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode users: %v", ErrProviderError, err)
	}
	if len(body.Data) == 0 {
		return nil, ErrCouldNotFind
	}

	u := body.Data[0]
	return &LoginData{
		Provider:       "twitch",
		ProviderUserID: u.ID,
		DisplayName:    u.DisplayName,
		CreatedAt:      u.CreatedAt,
	}, nil
}
