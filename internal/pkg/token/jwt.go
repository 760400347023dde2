package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	typeSession = "session"
	typeReset   = "reset"
)

var (
	// ErrExpired is returned when the token was valid but its window has elapsed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers bad signatures, malformed tokens and wrong token types.
	ErrInvalid = errors.New("token invalid")
)

// Principal is the identity a session token carries.
type Principal struct {
	UserID uint
	Email  string
	Role   string
}

type claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
}

// Manager signs and verifies session and password-reset tokens with one HMAC secret.
type Manager struct {
	secret     []byte
	sessionTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

// NewManager 创建 HS256 令牌管理器，分别指定会话与重置令牌的有效期。
func NewManager(secret string, sessionTTL, resetTTL time.Duration) *Manager {
	if sessionTTL == 0 {
		sessionTTL = time.Hour
	}
	if resetTTL == 0 {
		resetTTL = 15 * time.Minute
	}
	return &Manager{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		resetTTL:   resetTTL,
		now:        time.Now,
	}
}

// IssueSession signs {userId, email, role}.
func (m *Manager) IssueSession(p Principal) (string, error) {
	return m.sign(claims{
		RegisteredClaims: m.registered(p.UserID, m.sessionTTL),
		Email:            p.Email,
		Role:             p.Role,
		TokenType:        typeSession,
	})
}

// ParseSession verifies a session token and returns its principal.
func (m *Manager) ParseSession(tokenString string) (Principal, error) {
	c, err := m.parse(tokenString, typeSession)
	if err != nil {
		return Principal{}, err
	}
	uid, err := subjectID(c.Subject)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID: uid,
		Email:  c.Email,
		Role:   strings.ToLower(strings.TrimSpace(c.Role)),
	}, nil
}

// IssueReset signs a single-purpose password reset token.
func (m *Manager) IssueReset(userID uint) (string, error) {
	return m.sign(claims{
		RegisteredClaims: m.registered(userID, m.resetTTL),
		TokenType:        typeReset,
	})
}

// ParseReset verifies a reset token and returns the user id.
func (m *Manager) ParseReset(tokenString string) (uint, error) {
	c, err := m.parse(tokenString, typeReset)
	if err != nil {
		return 0, err
	}
	return subjectID(c.Subject)
}

func (m *Manager) registered(userID uint, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *Manager) sign(c claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", c.TokenType, err)
	}
	return signed, nil
}

func (m *Manager) parse(tokenString, wantType string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid {
		return nil, ErrInvalid
	}
	if c.TokenType != wantType {
		return nil, fmt.Errorf("%w: token type mismatch %q", ErrInvalid, c.TokenType)
	}
	return c, nil
}

func subjectID(subject string) (uint, error) {
	if subject == "" {
		return 0, fmt.Errorf("%w: empty subject", ErrInvalid)
	}
	uid, err := strconv.ParseUint(subject, 10, 64)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalid, subject)
	}
	return uint(uid), nil
}
