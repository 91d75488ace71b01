package auth

import "time"

// FoundSecret — найденный гостем секрет с датой находки
type FoundSecret struct {
	Name string    `json:"name" bson:"name"`
	Date time.Time `json:"date" bson:"date"`
}

// GuestRecord — долговечная запись гостя, ключ — идентификатор
// пользователя у провайдера
type GuestRecord struct {
	ProviderUserID string        `json:"provider_user_id" bson:"_id"`
	Provider       string        `json:"provider" bson:"provider"`
	DisplayName    string        `json:"display_name" bson:"display_name"`
	TimesJoined    int           `json:"times_joined" bson:"times_joined"`
	LastTimeJoined time.Time     `json:"last_time_joined" bson:"last_time_joined"`
	Observer       bool          `json:"observer" bson:"observer"`
	Tester         bool          `json:"tester" bson:"tester"`
	Secrets        []FoundSecret `json:"secrets,omitempty" bson:"secrets,omitempty"`
}

// RegisterJoin отмечает визит: счётчик растёт, только если прошлый
// визит старше порога
func (r *GuestRecord) RegisterJoin(now time.Time, threshold time.Duration) {
	if r.LastTimeJoined.IsZero() || now.Sub(r.LastTimeJoined) > threshold {
		r.TimesJoined++
	}
	r.LastTimeJoined = now
}

// AddSecret дописывает секрет, если он ещё не найден
func (r *GuestRecord) AddSecret(name string, now time.Time) bool {
	for _, s := range r.Secrets {
		if s.Name == name {
			return false
		}
	}
	r.Secrets = append(r.Secrets, FoundSecret{Name: name, Date: now})
	return true
}
