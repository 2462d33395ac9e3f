package plugins

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// SessionDuration is the lifetime of a login token.
	SessionDuration = 24 * time.Hour
	TokenBytes      = 32
)

// Session represents a simple authenticated session for local use
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Auth is a single-user password login. A new login replaces the previous
// session.
type Auth struct {
	passwordHash []byte

	mu      sync.RWMutex
	session *Session
	now     func() time.Time
	random  io.Reader
}

func NewAuth(passwordHash string) *Auth {
	return &Auth{passwordHash: []byte(passwordHash), now: time.Now, random: rand.Reader}
}

// RegisterRoutes adds /login and /logout and protects /api.
func (a *Auth) RegisterRoutes(app *fiber.App) {
	app.Post("/login", a.HandleLogin)
	app.Post("/logout", a.HandleLogout)
	app.Use("/api", a.Middleware)
}

func (a *Auth) HandleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)); err != nil {
		slog.Warn("Failed login attempt", "ip", c.IP())
		return c.Status(401).JSON(fiber.Map{"error": "Invalid password"})
	}

	token, err := a.generateToken()
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create session"})
	}
	slog.Info("Successful login", "ip", c.IP())

	session := &Session{
		Token:     token,
		ExpiresAt: a.now().Add(SessionDuration),
	}
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	return c.JSON(fiber.Map{
		"success": true,
		"token":   session.Token,
		"expires": session.ExpiresAt.Unix(),
	})
}

func (a *Auth) HandleLogout(c *fiber.Ctx) error {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	slog.Info("User logged out", "ip", c.IP())
	return c.JSON(fiber.Map{"success": true})
}

// Middleware rejects requests without a valid token. The token is read
// from X-Auth-Token, or from ?token= for websocket clients.
func (a *Auth) Middleware(c *fiber.Ctx) error {
	token := c.Get("X-Auth-Token")
	if token == "" {
		token = c.Query("token")
	}

	if !a.ValidateToken(token) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return c.Next()
}

// ValidateToken reports whether token belongs to the live session.
func (a *Auth) ValidateToken(token string) bool {
	if token == "" {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.session == nil || a.session.Token != token {
		return false
	}
	return a.now().Before(a.session.ExpiresAt)
}

func (a *Auth) generateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := io.ReadFull(a.random, b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
