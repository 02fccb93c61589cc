package handler

import (
	"net/http"
	"strings"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"
	"pasta/chat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Chat answers GET /:feature/:message. It stores the user turn, asks the Responder, and
// stores the model turn under a fresh episode ID. When only the second write fails the reply
// is still returned, with error_logging_rl in place of the episode.
func (h *Handler) Chat(c *gin.Context) {
	feature, ok := h.feature(c.Param("feature"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Unknown chatbot: " + c.Param("feature")})
		return
	}
	uid, ok := h.authenticate(c)
	if !ok {
		return
	}

	text := strings.TrimSpace(c.Param("message"))
	if text == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Message is empty"})
		return
	}

	ctx := c.Request.Context()
	log := logging.L().With("feature", feature.Name, "uid", uid)

	stored, err := h.Messages.RecentMessages(ctx, storage.Query{UserID: uid, Collection: feature.Collection, Limit: h.HistoryLimit})
	if err != nil {
		// context is optional
		log.Warnw("failed to load history", "error", err)
	}
	history := storage.ToTranscript(stored)

	userTurn := models.StoredMessage{Sender: models.RoleUser, Content: text}
	if err := h.Messages.SaveMessage(ctx, uid, feature.Collection, &userTurn); err != nil {
		log.Errorw("failed to store user turn", "error", err)
		chatTurns.WithLabelValues(feature.Name, outcomeStoreFailed).Inc()
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to store message"})
		return
	}

	reply, err := h.Responder.Reply(ctx, feature, history, text)
	if err != nil {
		log.Errorw("responder failed", "error", err)
		chatTurns.WithLabelValues(feature.Name, outcomeNoReply).Inc()
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "The bot could not answer right now"})
		return
	}

	episodeID := uuid.NewString()
	modelTurn := models.StoredMessage{Sender: models.RoleModel, Content: reply, RLEpisodeID: episodeID}
	if err := h.Messages.SaveMessage(ctx, uid, feature.Collection, &modelTurn); err != nil {
		log.Errorw("failed to store model turn", "error", err)
		chatTurns.WithLabelValues(feature.Name, outcomeNotLogged).Inc()
		c.JSON(http.StatusOK, gin.H{"response": reply, "error_logging_rl": err.Error()})
		return
	}

	chatTurns.WithLabelValues(feature.Name, outcomeOK).Inc()
	log.Infow("chat turn stored", "episode_id", episodeID, "message_id", modelTurn.ID)
	c.JSON(http.StatusOK, gin.H{
		"response":                   reply,
		"episode_id":                 episodeID,
		"model_message_firestore_id": modelTurn.ID,
	})
}
