package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"carrental.app/rentalctl/internal/account"
	"carrental.app/rentalctl/internal/platform/web"
)

const (
	msgNoActiveAccount = "No active account found with the given credentials"
	msgAccountLocked   = "Account locked due to too many failed login attempts."
	msgTokenInvalid    = "Token is invalid or expired"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/auth/login/", web.Handler(h.handleLogin))
	mux.Handle("POST /api/auth/token/refresh/", web.Handler(h.handleRefresh))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Access  string           `json:"access"`
	Refresh string           `json:"refresh"`
	User    account.UserView `json:"user"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) *web.Error {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &web.Error{Code: http.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	if req.Email == "" || req.Password == "" {
		fields := map[string][]string{}
		if req.Email == "" {
			fields["email"] = []string{"This field is required."}
		}
		if req.Password == "" {
			fields["password"] = []string{"This field is required."}
		}
		return &web.Error{Code: http.StatusBadRequest, Message: "Missing credentials", Fields: fields}
	}

	tokenPair, user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidCredentials):
			return &web.Error{Code: http.StatusUnauthorized, Message: msgNoActiveAccount, Kind: "no_active_account", Err: err}
		case errors.Is(err, account.ErrAccountLocked):
			return &web.Error{Code: http.StatusLocked, Message: msgAccountLocked, Kind: "account_locked", Err: err}
		}
		return &web.Error{Code: http.StatusInternalServerError, Message: "Failed to login", Err: err}
	}

	web.WriteJSON(w, http.StatusOK, loginResponse{
		Access:  tokenPair.AccessToken,
		Refresh: tokenPair.RefreshToken,
		User:    user.View(),
	})
	return nil
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) *web.Error {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &web.Error{Code: http.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	if req.Refresh == "" {
		return &web.Error{Code: http.StatusBadRequest, Message: "Missing refresh token", Fields: map[string][]string{
			"refresh": {"This field is required."},
		}}
	}

	access, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		return &web.Error{Code: http.StatusUnauthorized, Message: msgTokenInvalid, Kind: "token_not_valid", Err: err}
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"access": access})
	return nil
}
