package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"unicode/utf8"

	"github.com/accountsvc/apiserver/internal/services"
	"github.com/accountsvc/apiserver/internal/store"
	"github.com/accountsvc/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 6
	maxPasswordLen = 100
	maxNameLen     = 50
)

// UserHandler provides HTTP handlers for user accounts.
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler constructs a handler with the provided service.
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers user routes on the given router. Administrative
// routes are wrapped with authMiddleware followed by an ADMIN role check.
func UserRouter(r chi.Router, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewUserHandler(userService)

	admin := func(next http.Handler) http.Handler {
		return authMiddleware(handler.requireRole(types.RoleAdmin)(next))
	}

	r.Post("/register", handler.Register)
	r.Get("/check-username/{username}", handler.CheckUsername)
	r.Get("/check-email/{email}", handler.CheckEmail)
	r.Get("/username/{username}", handler.GetByUsername)

	r.With(admin).Get("/", handler.ListUsers)
	r.With(admin).Get("/role/{role}", handler.ListByRole)
	r.With(admin).Get("/count/enabled", handler.CountEnabled)

	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", handler.GetByID)
		r.Put("/", handler.Update)
		r.With(admin).Delete("/", handler.Delete)
		r.With(admin).Patch("/toggle-status", handler.ToggleStatus)
	})
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UpdateRequest is the account update payload. Absent fields are left
// unchanged.
type UpdateRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	IsEnabled *bool   `json:"isEnabled"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := validateRegister(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.userService.Register(r.Context(), services.RegisterParams{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		// Uniqueness conflicts surface as 400, matching the original API.
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "username or email already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	views, err := h.userService.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *UserHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	view, err := h.userService.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := validateUpdate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.userService.Update(r.Context(), id, services.UpdateParams{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsEnabled: req.IsEnabled,
	})
	if err != nil {
		// The original API answers 400 for both conflicts and a missing
		// id on update.
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "update rejected")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.userService.ToggleStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to toggle user status")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *UserHandler) ListByRole(w http.ResponseWriter, r *http.Request) {
	role, err := types.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	views, err := h.userService.GetUsersByRole(r.Context(), role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *UserHandler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	exists, err := h.userService.UsernameExists(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check username")
		return
	}
	writeJSON(w, http.StatusOK, exists)
}

func (h *UserHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	exists, err := h.userService.EmailExists(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check email")
		return
	}
	writeJSON(w, http.StatusOK, exists)
}

func (h *UserHandler) CountEnabled(w http.ResponseWriter, r *http.Request) {
	count, err := h.userService.EnabledUsersCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count users")
		return
	}
	writeJSON(w, http.StatusOK, count)
}

// requireRole loads the authenticated caller and checks its role. It must
// run after the auth middleware has injected the subject.
func (h *UserHandler) requireRole(role types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userIDFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := h.userService.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to load user")
				return
			}

			if user.Role != role {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseUserID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}

func validateRegister(req RegisterRequest) error {
	if length := utf8.RuneCountInString(req.Username); length < minUsernameLen || length > maxUsernameLen {
		return errors.New("username must be between 3 and 50 characters")
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if length := utf8.RuneCountInString(req.Password); length < minPasswordLen || length > maxPasswordLen {
		return errors.New("password must be between 6 and 100 characters")
	}
	if utf8.RuneCountInString(req.FirstName) > maxNameLen {
		return errors.New("first name must not exceed 50 characters")
	}
	if utf8.RuneCountInString(req.LastName) > maxNameLen {
		return errors.New("last name must not exceed 50 characters")
	}
	return nil
}

func validateUpdate(req UpdateRequest) error {
	if req.Username != nil && *req.Username != "" {
		if length := utf8.RuneCountInString(*req.Username); length < minUsernameLen || length > maxUsernameLen {
			return errors.New("username must be between 3 and 50 characters")
		}
	}
	if req.Email != nil && *req.Email != "" {
		if err := validateEmail(*req.Email); err != nil {
			return err
		}
	}
	if req.FirstName != nil && utf8.RuneCountInString(*req.FirstName) > maxNameLen {
		return errors.New("first name must not exceed 50 characters")
	}
	if req.LastName != nil && utf8.RuneCountInString(*req.LastName) > maxNameLen {
		return errors.New("last name must not exceed 50 characters")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("email must be valid")
	}
	return nil
}
