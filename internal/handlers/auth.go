package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/repositories"
)

const minPasswordLength = 8

var errAccountExists = errors.New("account already exists")

// AuthHandler implements the account and session endpoints.
type AuthHandler struct {
	Users    UserStore
	Sessions SessionManager
	NowFunc  func() time.Time
	// HashCost overrides bcrypt.DefaultCost.
	HashCost int
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authResponse struct {
	Tokens models.SessionTokens `json:"tokens"`
	User   sessionUser          `json:"user,omitzero"`
}

// Login handles POST /api/v1/auth/login.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creds, ok := h.readCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.Users.FindByEmail(ctx, creds.Email)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password))
	}
	if err != nil {
		logging.FromContext(ctx).Warn("sign-in rejected", "email", creds.Email, "error", err)
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	h.startSession(ctx, w, http.StatusOK, user)
}

// SignUp handles POST /api/v1/auth/signup and signs the new account in.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creds, ok := h.readCredentials(w, r)
	if !ok {
		return
	}
	if _, err := mail.ParseAddress(creds.Email); err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid email address"})
		return
	}
	if len(creds.Password) < minPasswordLength {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "password must be at least 8 characters"})
		return
	}

	user, err := h.createAccount(ctx, creds)
	switch {
	case errors.Is(err, errAccountExists):
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		logging.FromContext(ctx).Error("create account", "email", creds.Email, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "failed to create account"})
		return
	}

	h.startSession(ctx, w, http.StatusCreated, user)
}

// Refresh rotates a refresh token into a new session.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := readRefreshToken(w, r)
	if !ok {
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, token)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrRefreshTokenExpired) || errors.Is(err, auth.ErrSessionNotFound) {
			status = http.StatusUnauthorized
		}
		logging.FromContext(ctx).Warn("refresh rejected", "status", status, "error", err)
		respondJSON(ctx, w, status, errorResponse{Error: "unable to refresh session"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens})
}

// Logout revokes a refresh token. Unknown tokens are accepted so repeated
// sign-outs succeed.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := readRefreshToken(w, r)
	if !ok {
		return
	}
	if err := h.Sessions.Revoke(r.Context(), token); err != nil {
		logging.FromContext(r.Context()).Error("revoke session", "error", err)
		respondJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Error: "unable to sign out"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session reports who the access token belongs to.
func (h AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]sessionUser{"user": {ID: identity.UserID, Email: identity.Email}})
}

func (h AuthHandler) readCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var creds credentials
	if !decodeJSON(w, r, &creds) {
		return creds, false
	}
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if creds.Email == "" || creds.Password == "" {
		respondJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "email and password are required"})
		return creds, false
	}
	return creds, true
}

func (h AuthHandler) createAccount(ctx context.Context, creds credentials) (models.User, error) {
	if _, err := h.Users.FindByEmail(ctx, creds.Email); err == nil {
		return models.User{}, errAccountExists
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, err
	}

	cost := h.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(creds.Password), cost)
	if err != nil {
		return models.User{}, err
	}

	now := h.now()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     creds.Email,
		Password:  string(hashed),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.User{}, errAccountExists
		}
		return models.User{}, err
	}
	return user, nil
}

func (h AuthHandler) startSession(ctx context.Context, w http.ResponseWriter, status int, user models.User) {
	tokens, err := h.Sessions.Issue(ctx, user.ID, user.Email)
	if err != nil {
		logging.FromContext(ctx).Error("issue session", "userId", user.ID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "failed to create session"})
		return
	}
	respondJSON(ctx, w, status, authResponse{Tokens: tokens, User: sessionUser{ID: user.ID, Email: user.Email}})
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func readRefreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return "", false
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		respondJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "refresh token is required"})
		return "", false
	}
	return token, true
}

// decodeJSON reads the request body into dst and answers 400 when it is not
// valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logging.FromContext(r.Context()).Warn("invalid request body", "path", r.URL.Path, "error", err)
		respondJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	logger := logging.FromContext(ctx)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("encode response body", "status", status, "error", err)
		return
	}
	if status >= http.StatusBadRequest {
		logger.Debug("request answered with error", "status", status, "response", payload)
	}
}
