package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Срок жизни админского билета
const adminTicketTTL = 12 * time.Hour

// AdminTickets выдаёт и проверяет JWT-билеты редактора. Пароль
// админа хранится в конфиге bcrypt-хэшем.
type AdminTickets struct {
	secret       []byte
	passwordHash []byte
}

// NewAdminTickets создаёт проверяющего с секретом подписи и хэшем пароля
func NewAdminTickets(secret, passwordHash string) *AdminTickets {
	return &AdminTickets{secret: []byte(secret), passwordHash: []byte(passwordHash)}
}

// Mint проверяет пароль и выдаёт подписанный билет
func (a *AdminTickets) Mint(password string) (string, error) {
	if len(a.passwordHash) == 0 {
		return "", ErrNotAuthorized
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", ErrNotAuthorized
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(adminTicketTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign admin ticket: %w", err)
	}
	return signed, nil
}

// Verify проверяет подпись и срок билета
func (a *AdminTickets) Verify(ticket string) error {
	token, err := jwt.ParseWithClaims(ticket, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrNotAuthorized
	}
	return nil
}

// HashPassword возвращает bcrypt-хэш для записи в конфиг
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
