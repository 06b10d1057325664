package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/internal/services"
	apperrors "github.com/tranqk/schoolhub/pkg/errors"
	"github.com/tranqk/schoolhub/pkg/response"
)

// UserHandler exposes the administrative user management endpoints.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type createUserRequest struct {
	Email    string   `json:"email" validate:"required,email"`
	FullName string   `json:"full_name" validate:"required,max=120"`
	Password string   `json:"password" validate:"required"`
	Phone    string   `json:"phone" validate:"max=32"`
	Roles    []string `json:"roles"`
	IsActive *bool    `json:"is_active"`
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	roles := make([]models.RoleName, 0, len(req.Roles))
	for _, role := range req.Roles {
		roles = append(roles, models.RoleName(strings.TrimSpace(role)))
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
		Phone:    req.Phone,
		Roles:    roles,
		IsActive: req.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, userPayload(user))
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	opts := services.ListUsersOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 50),
	}

	if active := strings.TrimSpace(c.Query("active")); active != "" {
		value := active == "true" || active == "1"
		opts.Filters.IsActive = &value
	}
	opts.Filters.Query = c.Query("q")
	opts.Filters.Role = models.RoleName(strings.TrimSpace(c.Query("role")))

	users, total, err := h.users.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := make([]gin.H, 0, len(users))
	for i := range users {
		payload = append(payload, userPayload(&users[i]))
	}

	perPage := opts.PageSize
	if perPage <= 0 {
		perPage = 50
	}
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))

	response.SuccessWithMeta(c, http.StatusOK, payload, &response.Meta{
		Page:       opts.Page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, userPayload(user))
}

// POST /api/users/:id/activate
func (h *UserHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// POST /api/users/:id/deactivate
func (h *UserHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *UserHandler) setActive(c *gin.Context, active bool) {
	if err := h.users.SetActive(requestContext(c), c.Param("id"), active); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "User updated", nil)
}

type assignRolesRequest struct {
	Roles []string `json:"roles" validate:"required"`
}

// PUT /api/users/:id/roles
func (h *UserHandler) AssignRoles(c *gin.Context) {
	var req assignRolesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	roles := make([]models.RoleName, 0, len(req.Roles))
	for _, role := range req.Roles {
		name := models.RoleName(strings.TrimSpace(role))
		if name == "" {
			continue
		}
		roles = append(roles, name)
	}
	if len(roles) == 0 {
		response.Error(c, apperrors.NewBadRequest("at least one role is required"))
		return
	}

	if err := h.users.AssignRoles(requestContext(c), c.Param("id"), roles); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Roles updated", nil)
}
