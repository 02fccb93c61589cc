package config

import (
	"time"

	"pasta/chat/internal/models"
)

const (
	// Chat
	DefaultHistoryLimit   = 10
	DefaultRequestTimeout = 30 * time.Second

	// Identity
	DefaultRefreshMargin = 5 * time.Minute
	DefaultIdentityURL   = "http://localhost:8080/identitytoolkit.googleapis.com"
	DefaultTokenURL      = "http://localhost:8080/securetoken.googleapis.com"

	// Store
	DefaultStoreBackend = "remote"
	DefaultRemoteURL    = "ws://localhost:8080/ws"
	DefaultRedisAddr    = "localhost:6380"
	DefaultPostgresDSN  = "host=localhost user=user password=password dbname=pastadb port=5432 sslmode=disable"

	// Dev backend
	DefaultServerPort = "8080"
	DefaultTokenTTL   = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultLLMModel   = "gpt-4o-mini"
	DefaultLLMTimeout = 60 * time.Second

	// Logging
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// DefaultFeatures are the chatbot screens of the drawer, in drawer order.
var DefaultFeatures = []models.Feature{
	{
		Name:        "chat",
		Title:       "ChatBox",
		Collection:  "messages",
		Endpoint:    "http://localhost:8080/chat",
		Placeholder: "Ask me anything...",
	},
	{
		Name:        "financial",
		Title:       "Financial ChatBox",
		Collection:  "financialMessages",
		Endpoint:    "http://localhost:8080/financial",
		Placeholder: "Ask budgeting or saving questions...",
	},
	{
		Name:        "fitness",
		Title:       "Fitness ChatBox",
		Collection:  "fitnessMessages",
		Endpoint:    "http://localhost:8080/fitness",
		Placeholder: "Ask fitness or nutrition questions...",
	},
}
