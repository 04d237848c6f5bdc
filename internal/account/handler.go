package account

import (
	"encoding/json"
	"errors"
	"net/http"

	"carrental.app/rentalctl/internal/platform/web"
)

// Identify resolves the authenticated user id of a request.
type Identify func(r *http.Request) (int64, bool)

type Handler struct {
	service  *Service
	identify Identify
}

func NewHandler(service *Service, identify Identify) *Handler {
	return &Handler{service: service, identify: identify}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/auth/register/", web.Handler(h.handleRegister))
	mux.Handle("GET /api/auth/me/", web.Handler(h.handleMe))
	mux.Handle("PATCH /api/auth/me/", web.Handler(h.handleUpdateProfile))
	mux.Handle("PUT /api/auth/password/change/", web.Handler(h.handleChangePassword))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) *web.Error {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &web.Error{Code: http.StatusBadRequest, Message: "Invalid request body", Err: err}
	}

	user, err := h.service.Register(r.Context(), &req)
	if err != nil {
		return serviceError(err, "Failed to register")
	}
	web.WriteJSON(w, http.StatusCreated, user.View())
	return nil
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) *web.Error {
	id, werr := h.userID(r)
	if werr != nil {
		return werr
	}
	user, err := h.service.GetUserByID(r.Context(), id)
	if err != nil {
		return serviceError(err, "Failed to load user")
	}
	web.WriteJSON(w, http.StatusOK, user.View())
	return nil
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) *web.Error {
	id, werr := h.userID(r)
	if werr != nil {
		return werr
	}
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &web.Error{Code: http.StatusBadRequest, Message: "Invalid request body", Err: err}
	}

	user, err := h.service.UpdateProfile(r.Context(), id, &req)
	if err != nil {
		return serviceError(err, "Failed to update profile")
	}
	web.WriteJSON(w, http.StatusOK, user.View())
	return nil
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) *web.Error {
	id, werr := h.userID(r)
	if werr != nil {
		return werr
	}
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &web.Error{Code: http.StatusBadRequest, Message: "Invalid request body", Err: err}
	}

	if err := h.service.ChangePassword(r.Context(), id, &req); err != nil {
		return serviceError(err, "Failed to change password")
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"detail": "Password updated successfully."})
	return nil
}

func (h *Handler) userID(r *http.Request) (int64, *web.Error) {
	if h.identify != nil {
		if id, ok := h.identify(r); ok {
			return id, nil
		}
	}
	return 0, &web.Error{Code: http.StatusUnauthorized, Message: "Authentication credentials were not provided.", Kind: "not_authenticated"}
}

func serviceError(err error, message string) *web.Error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return &web.Error{Code: http.StatusBadRequest, Message: message, Fields: verr.Fields, Err: err}
	case errors.Is(err, ErrUserNotFound):
		return &web.Error{Code: http.StatusNotFound, Message: "User not found.", Err: err}
	default:
		return &web.Error{Code: http.StatusInternalServerError, Message: message, Err: err}
	}
}
