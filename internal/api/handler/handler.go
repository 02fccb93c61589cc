// Package handler is the HTTP surface of the development backend: a stand-in identity
// service, the per-feature chat endpoints and the websocket window stream.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"pasta/chat/internal/auth"
	"pasta/chat/internal/config"
	"pasta/chat/internal/models"
	"pasta/chat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MessageStore is what the chat endpoint and the stream need from the store.
type MessageStore interface {
	storage.Store
	storage.Watcher
}

// UserStore holds the dev identity accounts.
type UserStore interface {
	SaveUserIfNotExists(ctx context.Context, email, passwordHash string) (*models.User, bool, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// Handler holds the backend's collaborators.
type Handler struct {
	Messages  MessageStore
	Users     UserStore
	Tokens    *auth.TokenManager
	Refresh   *auth.TokenManager
	Features  []models.Feature
	Responder Responder
	// HistoryLimit is the window size of streams that do not ask for one, and the amount of
	// context handed to the Responder.
	HistoryLimit int
}

func NewHandler(messages MessageStore, users UserStore, tokens, refresh *auth.TokenManager, features []models.Feature, responder Responder) *Handler {
	return &Handler{
		Messages:     messages,
		Users:        users,
		Tokens:       tokens,
		Refresh:      refresh,
		Features:     features,
		Responder:    responder,
		HistoryLimit: config.DefaultHistoryLimit,
	}
}

// NewRouter builds the gin engine with every backend route.
func (h *Handler) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.Routes(r)
	return r
}

// Routes registers the backend routes on r.
func (h *Handler) Routes(r *gin.Engine) {
	// Messages are path segments and may contain an escaped "/".
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The identity routes keep the Google API shape ("accounts:signInWithPassword"), whose
	// colon gin would read as a parameter, so the action is matched by hand.
	r.POST("/identitytoolkit.googleapis.com/v1/*action", h.IdentityAction)
	r.POST("/securetoken.googleapis.com/v1/token", h.RefreshToken)

	r.GET("/ws/:collection", h.StreamMessages)
	r.GET("/:feature/:message", h.Chat)
}

func (h *Handler) feature(name string) (models.Feature, bool) {
	for _, f := range h.Features {
		if f.Name == name {
			return f, true
		}
	}
	return models.Feature{}, false
}

func (h *Handler) featureByCollection(collection string) (models.Feature, bool) {
	for _, f := range h.Features {
		if f.Collection == collection {
			return f, true
		}
	}
	return models.Feature{}, false
}

var errMissingBearer = errors.New("authorization token missing")

// bearerUID verifies the request's ID token and returns its user ID.
func (h *Handler) bearerUID(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return "", errMissingBearer
	}
	claims, err := h.Tokens.VerifyToken(strings.TrimSpace(authHeader[7:]))
	if err != nil {
		return "", err
	}
	return claims.UID(), nil
}

// authenticate aborts with 401 unless the request carries a valid ID token.
func (h *Handler) authenticate(c *gin.Context) (string, bool) {
	uid, err := h.bearerUID(c)
	if errors.Is(err, errMissingBearer) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return "", false
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return "", false
	}
	return uid, true
}
