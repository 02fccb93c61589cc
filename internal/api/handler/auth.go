package handler

import (
	"net/http"
	"strconv"
	"strings"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// Identity Toolkit error codes the client understands.
const (
	codeInvalidEmail    = "INVALID_EMAIL"
	codeMissingPassword = "MISSING_PASSWORD"
	codeInvalidPassword = "INVALID_PASSWORD"
	codeInvalidGrant    = "INVALID_GRANT_TYPE"
	codeTokenExpired    = "TOKEN_EXPIRED"
	codeUserNotFound    = "USER_NOT_FOUND"
	codeOperationFailed = "OPERATION_NOT_ALLOWED"
)

func identityError(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": status, "message": code}})
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// IdentityAction dispatches /identitytoolkit.googleapis.com/v1/<action>.
func (h *Handler) IdentityAction(c *gin.Context) {
	switch c.Param("action") {
	case "/accounts:signInWithPassword":
		h.SignInWithPassword(c)
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"code": http.StatusNotFound, "message": "NOT_FOUND"}})
	}
}

// SignInWithPassword checks email and password and mints a token pair. An unknown email
// is registered with the given password.
func (h *Handler) SignInWithPassword(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		identityError(c, http.StatusBadRequest, codeInvalidEmail)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		identityError(c, http.StatusBadRequest, codeInvalidEmail)
		return
	}
	if req.Password == "" {
		identityError(c, http.StatusBadRequest, codeMissingPassword)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logging.Error("failed to hash password", err)
		identityError(c, http.StatusInternalServerError, codeOperationFailed)
		return
	}

	user, created, err := h.Users.SaveUserIfNotExists(c.Request.Context(), email, string(hash))
	if err != nil {
		identityError(c, http.StatusInternalServerError, codeOperationFailed)
		return
	}
	if !created {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			logging.Infow("sign-in rejected", "uid", user.ID)
			identityError(c, http.StatusBadRequest, codeInvalidPassword)
			return
		}
	}

	idToken, refreshToken, err := h.mintPair(user)
	if err != nil {
		logging.Error("failed to mint tokens", err)
		identityError(c, http.StatusInternalServerError, codeOperationFailed)
		return
	}

	logging.Infow("signed in", "uid", user.ID, "created", created)
	c.JSON(http.StatusOK, gin.H{
		"kind":         "identitytoolkit#VerifyPasswordResponse",
		"localId":      user.ID,
		"email":        user.Email,
		"idToken":      idToken,
		"refreshToken": refreshToken,
		"expiresIn":    h.expiresIn(),
		"registered":   !created,
	})
}

// RefreshToken exchanges a refresh token for a new token pair
// (grant_type=refresh_token, form encoded).
func (h *Handler) RefreshToken(c *gin.Context) {
	if c.PostForm("grant_type") != "refresh_token" {
		identityError(c, http.StatusBadRequest, codeInvalidGrant)
		return
	}

	claims, err := h.Refresh.VerifyToken(c.PostForm("refresh_token"))
	if err != nil {
		identityError(c, http.StatusBadRequest, codeTokenExpired)
		return
	}
	user, err := h.Users.FindUserByID(c.Request.Context(), claims.UID())
	if err != nil {
		identityError(c, http.StatusBadRequest, codeUserNotFound)
		return
	}

	idToken, refreshToken, err := h.mintPair(user)
	if err != nil {
		logging.Error("failed to mint tokens", err)
		identityError(c, http.StatusInternalServerError, codeOperationFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id_token":      idToken,
		"refresh_token": refreshToken,
		"expires_in":    h.expiresIn(),
		"token_type":    "Bearer",
		"user_id":       user.ID,
	})
}

func (h *Handler) mintPair(user *models.User) (string, string, error) {
	idToken, err := h.Tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := h.Refresh.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}
	return idToken, refreshToken, nil
}

func (h *Handler) expiresIn() string {
	return strconv.Itoa(int(h.Tokens.TTL().Seconds()))
}
