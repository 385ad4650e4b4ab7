package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/gundcab/shipsync/auth"
	"github.com/gundcab/shipsync/httpx"
	"github.com/gundcab/shipsync/internal/models"
	"github.com/gundcab/shipsync/validation"
)

type AuthHandler struct {
	DB *gorm.DB
}

func NewAuthHandler(db *gorm.DB) *AuthHandler { return &AuthHandler{DB: db} }

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	UserInfo    map[string]any `json:"user_info"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	var user models.User
	err := h.DB.WithContext(r.Context()).Where("username = ?", req.Username).First(&user).Error
	if err != nil || !auth.CheckPassword(user.HashedPassword, req.Password) || user.IsActive != "active" {
		httpx.JSONError(w, http.StatusUnauthorized, "incorrect_username_or_password", nil)
		return
	}
	token, err := auth.CreateToken(user.Username)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "token_create_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserInfo: map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates a new user account. Restricted to admins.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if actor.Role != "admin" {
		httpx.JSONError(w, http.StatusForbidden, "admin_privileges_required", nil)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.Role == "" {
		req.Role = "read"
	}
	v := validation.Violations{}
	validation.Required("username", req.Username, v)
	validation.MaxLen("username", req.Username, 50, v)
	validation.Required("email", req.Email, v)
	validation.Required("password", req.Password, v)
	validation.OneOf("role", req.Role, []string{"admin", "write", "read"}, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	var count int64
	if err := h.DB.Model(&models.User{}).Where("username = ?", req.Username).Count(&count).Error; err == nil && count > 0 {
		httpx.JSONError(w, http.StatusBadRequest, "username_already_registered", nil)
		return
	}
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "user_create_failed", nil)
		return
	}
	user := models.User{
		Username:       strings.TrimSpace(req.Username),
		Email:          strings.TrimSpace(req.Email),
		HashedPassword: hashed,
		Role:           req.Role,
	}
	if err := h.DB.WithContext(r.Context()).Create(&user).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "user_create_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "user created", "user_id": user.ID})
}
