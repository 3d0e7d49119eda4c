package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/accessmap/internal/auth"
	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/MarcoPoloResearchLab/accessmap/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const kindUserNotFound reports.ErrorKind = "user_not_found"

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type userPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"`
}

type authResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		abortWithError(c, http.StatusBadRequest, reports.KindValidationFailed, "server.auth_google.invalid_request")
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		abortWithError(c, http.StatusUnauthorized, reports.KindUnauthenticated, "server.auth_google.verification_failed")
		return
	}

	user, err := h.users.ResolveUser(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			abortWithError(c, http.StatusUnauthorized, reports.KindUnauthenticated, "server.auth_google.invalid_identity")
			return
		}
		h.logger.Error("failed to resolve user", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, reports.KindStoreUnavailable, "server.auth_google.user_resolution_failed")
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), auth.Principal{UserID: user.ID, Role: user.Role})
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, reports.KindStoreUnavailable, "server.auth_google.token_issue_failed")
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        newUserPayload(user),
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, err := h.users.Profile(c.Request.Context(), c.GetString(userIDContextKey))
	if errors.Is(err, users.ErrUserNotFound) {
		abortWithError(c, http.StatusNotFound, kindUserNotFound, "server.auth_me.user_not_found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, reports.KindStoreUnavailable, "server.auth_me.profile_failed")
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func newUserPayload(user users.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Role:        user.Role,
	}
}
