package apihttp

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"alphadesk/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	defaultTokenTTL    = 12 * time.Hour
	defaultLoginBurst  = 5
	loginWindow        = 60 * time.Second
	limiterIdleEvictAt = 10 * time.Minute
)

// ErrRateLimited 表示登录过于频繁。
var ErrRateLimited = errors.New("too many login attempts")

type session struct {
	expires time.Time
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Authenticator 校验 bcrypt 口令并签发带过期时间的 bearer token。
type Authenticator struct {
	hash  []byte
	ttl   time.Duration
	burst int
	now   func() time.Time

	mu       sync.Mutex
	tokens   map[string]session
	limiters map[string]*ipLimiter
}

// NewAuthenticator 要求 passwordHash 是合法的 bcrypt 哈希。loginsPerWindow 为每 60 秒每 IP 允许的登录次数。
func NewAuthenticator(passwordHash string, ttl time.Duration, loginsPerWindow int) (*Authenticator, error) {
	hash := []byte(strings.TrimSpace(passwordHash))
	if _, err := bcrypt.Cost(hash); err != nil {
		return nil, errors.New("http.password_hash must be a bcrypt hash")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if loginsPerWindow <= 0 {
		loginsPerWindow = defaultLoginBurst
	}
	return &Authenticator{
		hash:     hash,
		ttl:      ttl,
		burst:    loginsPerWindow,
		now:      time.Now,
		tokens:   make(map[string]session),
		limiters: make(map[string]*ipLimiter),
	}, nil
}

// HashPassword 生成配置文件使用的 bcrypt 哈希。
func HashPassword(password string) (string, error) {
	raw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Login 校验口令；成功返回新 token 与过期时间。
func (a *Authenticator) Login(clientIP, password string) (string, time.Time, error) {
	if !a.allow(clientIP) {
		return "", time.Time{}, ErrRateLimited
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return "", time.Time{}, &types.AuthorizationError{Reason: "invalid password"}
	}
	token := uuid.NewString()
	expires := a.now().Add(a.ttl)
	a.mu.Lock()
	a.tokens[token] = session{expires: expires}
	a.mu.Unlock()
	return token, expires, nil
}

// Validate 检查 token 是否存在且未过期，过期 token 顺带清理。
func (a *Authenticator) Validate(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return &types.AuthorizationError{Reason: "missing bearer token"}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.tokens[token]
	if !ok {
		return &types.AuthorizationError{Reason: "unknown token"}
	}
	if !a.now().Before(s.expires) {
		delete(a.tokens, token)
		return &types.AuthorizationError{Reason: "token expired"}
	}
	return nil
}

// Revoke 注销 token；未知 token 同样视为成功。
func (a *Authenticator) Revoke(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}

func (a *Authenticator) allow(ip string) bool {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, l := range a.limiters {
		if now.Sub(l.lastSeen) > limiterIdleEvictAt {
			delete(a.limiters, k)
		}
	}
	l, ok := a.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rate.Every(loginWindow/time.Duration(a.burst)), a.burst)}
		a.limiters[ip] = l
	}
	l.lastSeen = now
	return l.lim.AllowN(now, 1)
}

// Middleware 拒绝没有有效 bearer token 的请求。
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Validate(bearerToken(c.GetHeader("Authorization"))); err != nil {
			abortError(c, http.StatusUnauthorized, err)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
