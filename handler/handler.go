// Package handler exposes the authority over HTTP.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/everstory/authcore/auth/service"
	"github.com/everstory/authcore/auth/session"
	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/ecode"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/net/resp"
)

type Handler struct {
	service *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// RegisterRoutes mounts the authority endpoints on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", h.Me)
		auth.GET("/verify", h.Verify)

		staff := auth.Group("/users", Authenticated(h.service), RequireRole(structs.RoleAdmin, structs.RoleModerator))
		staff.GET("/:id", h.GetUser)
	}
}

type signupBody struct {
	Name     string `json:"name" binding:"required,min=2,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,password"`
}

func (h *Handler) Signup(c *gin.Context) {
	var body signupBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.service.Signup(c.Request.Context(), body.Name, body.Email, body.Password); err != nil {
		if errors.Is(err, structs.ErrAlreadyRegistered) {
			resp.Fail(c.Writer, resp.BadRequest(ecode.AlreadyExist("email")))
			return
		}
		internalError(c, err)
		return
	}

	resp.WithStatusCode(c.Writer, http.StatusCreated, gin.H{
		"message": "Signup accepted, log in to activate your account",
	})
}

type loginBody struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	pair, err := h.service.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, structs.ErrInvalidCredentials) {
			unauthorized(c, "Invalid email or password")
			return
		}
		internalError(c, err)
		return
	}

	resp.Success(c.Writer, pair)
}

func (h *Handler) Logout(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		unauthorized(c, "Missing or malformed authorization header")
		return
	}

	outcome, err := h.service.Logout(c.Request.Context(), token)
	if err != nil {
		unauthorized(c, "Invalid token")
		return
	}

	message := "Logged out"
	if outcome == session.AlreadyLoggedOut {
		message = "Already logged out"
	}
	resp.Success(c.Writer, gin.H{"message": message})
}

func (h *Handler) Me(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		unauthorized(c, "Missing or malformed authorization header")
		return
	}

	ident, err := h.service.Verify(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, structs.ErrSubjectNotFound) {
			resp.Fail(c.Writer, resp.NotFound(ecode.NotExist("user")))
			return
		}
		unauthorized(c, "Invalid or expired token")
		return
	}

	resp.Success(c.Writer, ident)
}

// Verify always answers 200 with a verdict body so the gateway can tell an
// invalid token apart from an unreachable authority.
func (h *Handler) Verify(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		resp.Success(c.Writer, gin.H{"valid": false})
		return
	}

	ident, err := h.service.Verify(c.Request.Context(), token)
	if err != nil {
		resp.Success(c.Writer, gin.H{"valid": false})
		return
	}

	resp.Success(c.Writer, gin.H{"valid": true, "user": ident})
}

// GetUser returns any confirmed account by id. Staff only.
func (h *Handler) GetUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid user id %q", c.Param("id")))
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, structs.ErrSubjectNotFound) {
			resp.Fail(c.Writer, resp.NotFound(ecode.NotExist("user")))
			return
		}
		internalError(c, err)
		return
	}

	resp.Success(c.Writer, user)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func badRequest(c *gin.Context, err error) {
	resp.Fail(c.Writer, resp.BadRequest(ecode.Text(ecode.RequestErr), err.Error()))
}

func unauthorized(c *gin.Context, message string) {
	resp.Fail(c.Writer, resp.UnAuthorized(message))
}

func internalError(c *gin.Context, err error) {
	logger.Errorf(c.Request.Context(), "request failed: %v", err)
	resp.Fail(c.Writer, resp.InternalServer(ecode.Text(ecode.ServerErr)))
}
