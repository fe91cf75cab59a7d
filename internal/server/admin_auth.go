package server

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminCookieName = "folio_admin"
	adminActorKey   = "admin_actor"
	adminIssuer     = "folio"
	adminRealm      = `Basic realm="folio-admin"`
)

var ErrInvalidCredentials = errors.New("invalid_credentials")

// AdminAuth authenticates the single store operator, either per request with
// basic auth or through a signed session token issued at login.
type AdminAuth struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	clock        clock.Clock
}

func NewAdminAuth(cfg config.Config, clk clock.Clock, log *zap.Logger) (*AdminAuth, error) {
	secret := []byte(cfg.Admin.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Warn("ADMIN_JWT_SECRET not set; admin sessions will not survive a restart")
	}
	if cfg.Admin.PasswordHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH not set; admin area is disabled")
	}
	ttl := cfg.Admin.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &AdminAuth{
		username:     cfg.Admin.Username,
		passwordHash: []byte(cfg.Admin.PasswordHash),
		secret:       secret,
		ttl:          ttl,
		clock:        clk,
	}, nil
}

func (a *AdminAuth) CheckPassword(username, password string) bool {
	if len(a.passwordHash) == 0 || username == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
}

// Issue returns a signed session token for the operator.
func (a *AdminAuth) Issue(username, password string) (string, time.Time, error) {
	if !a.CheckPassword(username, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	now := a.clock.Now()
	expiresAt := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    adminIssuer,
		Subject:   a.username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (a *AdminAuth) Verify(raw string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminIssuer),
		jwt.WithSubject(a.username),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return ErrUnauthorized
	}
	return nil
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor, ok := s.authenticateAdmin(c); ok {
			c.Set(adminActorKey, actor)
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", adminRealm)
		AbortWithError(c, ErrUnauthorized)
	}
}

// authenticateAdmin returns the operator name when the request carries a
// valid bearer token, basic credentials or session cookie.
func (s *Server) authenticateAdmin(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	switch {
	case strings.HasPrefix(header, "Bearer "):
		return s.adminAuth.username, s.adminAuth.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))) == nil
	case strings.HasPrefix(header, "Basic "):
		username, password, ok := c.Request.BasicAuth()
		return username, ok && s.adminAuth.CheckPassword(username, password)
	}
	if token, err := c.Cookie(adminCookieName); err == nil && token != "" {
		return s.adminAuth.username, s.adminAuth.Verify(token) == nil
	}
	return "", false
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	token, expiresAt, err := s.adminAuth.Issue(strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		s.log.Warn("admin login failed", zap.String("client_ip", c.ClientIP()))
		AbortWithError(c, ErrUnauthorized)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(adminCookieName, token, int(expiresAt.Sub(s.clock.Now()).Seconds()), "/admin", "", s.cfg.IsProduction(), true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}
