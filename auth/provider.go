// Package auth is the email/password identity provider of pantryd. Sessions
// are signed JWTs backed by a cache entry; sign-outs and expiries are
// announced on pub/sub so connected clients can drop their session.
package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kasuganosora/pantry/cache"
	"github.com/kasuganosora/pantry/config"
	mw "github.com/kasuganosora/pantry/middleware"
	"github.com/kasuganosora/pantry/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	bcryptCost     = 12
	minPasswordLen = 6

	// sessionIndex is the cache set of every issued token, walked by Sweep.
	sessionIndex = "sessions"

	// EventSignedOut is published on a token's channel when it stops being valid.
	EventSignedOut = "signed_out"
)

// Identity is the public view of a signed-in account.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Session is returned by Register and SignIn.
type Session struct {
	Token string `json:"token"`
	Identity
}

// Provider implements registration, sign-in and session lifecycle.
type Provider struct {
	db       *gorm.DB
	cache    cache.Cache
	pubsub   cache.PubSub
	sec      config.SecurityConfig
	validate *validator.Validate
	logger   *zap.Logger
}

// NewProvider creates a Provider.
func NewProvider(db *gorm.DB, c cache.Cache, ps cache.PubSub, sec config.SecurityConfig, logger *zap.Logger) *Provider {
	return &Provider{
		db:       db,
		cache:    c,
		pubsub:   ps,
		sec:      sec,
		validate: validator.New(),
		logger:   logger,
	}
}

// Channel is the pub/sub channel carrying events for token.
func Channel(token string) string {
	return "auth:" + token
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs it in.
func (p *Provider) Register(ctx context.Context, email, password, ip string) (*Session, error) {
	email = normalizeEmail(email)
	if err := p.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, errInvalidEmail
	}
	if len([]rune(password)) < minPasswordLen {
		return nil, errWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		p.logger.Error("hash password", zap.Error(err))
		return nil, errInternal
	}
	acc := model.Account{
		Email:        email,
		PasswordHash: string(hash),
		Status:       model.AccountActive,
	}
	if err := p.db.WithContext(ctx).Create(&acc).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, errEmailInUse
		}
		p.logger.Error("create account", zap.Error(err))
		return nil, errInternal
	}
	return p.startSession(ctx, &acc, ip)
}

// SignIn verifies credentials and opens a session.
func (p *Provider) SignIn(ctx context.Context, email, password, ip string) (*Session, error) {
	email = normalizeEmail(email)
	if err := p.validate.Var(email, "required,email"); err != nil {
		return nil, errInvalidEmail
	}

	var acc model.Account
	err := p.db.WithContext(ctx).Where("email = ?", email).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errInvalidCredential
	}
	if err != nil {
		p.logger.Error("load account", zap.Error(err))
		return nil, errInternal
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredential
	}
	if acc.Status == model.AccountDisabled {
		return nil, errUserDisabled
	}
	return p.startSession(ctx, &acc, ip)
}

func (p *Provider) startSession(ctx context.Context, acc *model.Account, ip string) (*Session, error) {
	token, err := mw.GenerateToken(acc.ID, acc.Email, p.sec.JWTSecret, p.sec.JWTTTLH)
	if err != nil {
		p.logger.Error("sign token", zap.Error(err))
		return nil, errInternal
	}

	uid := strconv.FormatInt(acc.ID, 10)
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.cache.Set(cctx, mw.SessionKey(token), uid, p.sec.JWTTTLH); err != nil {
		p.logger.Error("store session", zap.Error(err))
		return nil, errInternal
	}
	if err := p.cache.SAdd(cctx, sessionIndex, token); err != nil {
		// An unindexed session would never be swept or signed out by account.
		p.logger.Error("index session", zap.Error(err))
		if err := p.cache.Del(cctx, mw.SessionKey(token)); err != nil {
			p.logger.Warn("drop unindexed session", zap.Error(err))
		}
		return nil, errInternal
	}

	// Best effort.
	now := time.Now()
	_ = p.db.WithContext(ctx).Model(acc).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": ip,
	})

	return &Session{Token: token, Identity: Identity{UID: uid, Email: acc.Email}}, nil
}

// Verify returns the identity behind a live session token.
func (p *Provider) Verify(ctx context.Context, token string) (*Identity, error) {
	claims, err := mw.ParseToken(token, p.sec.JWTSecret)
	if err != nil {
		return nil, errInvalidCredential
	}
	uid := strconv.FormatInt(claims.AccountID, 10)
	stored, err := p.cache.Get(ctx, mw.SessionKey(token))
	if cache.IsNotFound(err) {
		return nil, errInvalidCredential
	}
	if err != nil {
		p.logger.Error("load session", zap.Error(err))
		return nil, errInternal
	}
	if stored != uid {
		return nil, errInvalidCredential
	}
	return &Identity{UID: uid, Email: claims.Email}, nil
}

// SignOut ends the session. Signing out an unknown token is not an error.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	if err := p.cache.Del(ctx, mw.SessionKey(token)); err != nil {
		return err
	}
	_ = p.cache.SRem(ctx, sessionIndex, token)
	return p.pubsub.Publish(ctx, Channel(token), EventSignedOut)
}

// SignOutAccount signs out every live session of an account and returns
// how many were ended.
func (p *Provider) SignOutAccount(ctx context.Context, accountID int64) (int, error) {
	tokens, err := p.cache.SMembers(ctx, sessionIndex)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, token := range tokens {
		claims, err := mw.ParseToken(token, p.sec.JWTSecret)
		if err != nil || claims.AccountID != accountID {
			continue
		}
		if err := p.SignOut(ctx, token); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Watch subscribes to the events of token until cancel is called.
func (p *Provider) Watch(ctx context.Context, token string) (<-chan *cache.Message, func(), error) {
	return p.pubsub.Subscribe(ctx, Channel(token))
}

// Sweep announces every indexed session whose cache entry has expired and
// drops it from the index. It returns how many sessions were swept.
func (p *Provider) Sweep(ctx context.Context) (int, error) {
	tokens, err := p.cache.SMembers(ctx, sessionIndex)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, token := range tokens {
		alive, err := p.cache.Exists(ctx, mw.SessionKey(token))
		if err != nil {
			return swept, err
		}
		if alive {
			continue
		}
		if err := p.pubsub.Publish(ctx, Channel(token), EventSignedOut); err != nil {
			p.logger.Warn("publish session expiry", zap.Error(err))
		}
		_ = p.cache.SRem(ctx, sessionIndex, token)
		swept++
	}
	if swept > 0 {
		p.logger.Info("expired sessions swept", zap.Int("count", swept))
	}
	return swept, nil
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
