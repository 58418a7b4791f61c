package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	msgBadCredentials = "invalid credentials"
	msgBadToken       = "invalid token"
)

// fieldMessages explains a failed length or format rule per request field.
var fieldMessages = map[string]string{
	"Username":    "username must be 3-30 characters",
	"Email":       "invalid email",
	"Password":    "password must be 8-72 characters",
	"NewPassword": "new password must be 8-72 characters",
}

type Handler struct {
	Repo   *Repo
	Tokens TokenService
	logger *zap.Logger
}

func NewHandler(repo *Repo, tokens TokenService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Repo: repo, Tokens: tokens, logger: logger.Named("auth")}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.register)
	rg.POST("/login", h.login)

	signedIn := rg.Group("", AuthMiddleware(h.Tokens, h.Repo))
	signedIn.POST("/change-password", h.changePassword)
	signedIn.POST("/logout", h.logout)
}

type registerReq struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordReq struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerReq
	if !bind(c, &req) {
		return
	}

	hash, ok := h.hash(c, req.Password)
	if !ok {
		return
	}
	u := User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(req.Username),
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
	}
	switch err := h.Repo.CreateUser(c.Request.Context(), u); {
	case errors.Is(err, ErrUserExists):
		fail(c, http.StatusConflict, "username or email already exists")
		return
	case err != nil:
		h.logger.Error("create user", zap.Error(err))
		fail(c, http.StatusInternalServerError, "create user failed")
		return
	}

	h.logger.Info("user registered", zap.String("user_id", u.ID))
	h.respondSession(c, http.StatusCreated, &u)
}

func (h *Handler) login(c *gin.Context) {
	var req loginReq
	if !bind(c, &req) {
		return
	}

	u, err := h.Repo.GetByEmail(c.Request.Context(), normalizeEmail(req.Email))
	if err != nil {
		h.logger.Error("lookup user", zap.Error(err))
	}
	if u == nil || !passwordMatches(u, req.Password) {
		fail(c, http.StatusUnauthorized, msgBadCredentials)
		return
	}
	h.respondSession(c, http.StatusOK, u)
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordReq
	if !bind(c, &req) {
		return
	}

	claims := MustGetClaims(c)
	u, err := h.Repo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil || u == nil {
		fail(c, http.StatusUnauthorized, msgBadToken)
		return
	}
	if !passwordMatches(u, req.OldPassword) {
		fail(c, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	hash, ok := h.hash(c, req.NewPassword)
	if !ok {
		return
	}
	if err := h.Repo.UpdatePassword(c.Request.Context(), u.ID, hash); err != nil {
		h.logger.Error("update password", zap.String("user_id", u.ID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "update password failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

// logout revokes every token issued so far by bumping the token version.
func (h *Handler) logout(c *gin.Context) {
	claims := MustGetClaims(c)
	if err := h.Repo.BumpTokenVersion(c.Request.Context(), claims.UserID); err != nil {
		h.logger.Error("logout", zap.String("user_id", claims.UserID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "logout failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (h *Handler) respondSession(c *gin.Context, status int, u *User) {
	token, exp, err := h.Tokens.Sign(u)
	if err != nil {
		h.logger.Error("sign token", zap.Error(err))
		fail(c, http.StatusInternalServerError, "token failed")
		return
	}
	c.JSON(status, gin.H{
		"user":       gin.H{"id": u.ID, "username": u.Username, "email": u.Email},
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) hash(c *gin.Context, password string) (string, bool) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		fail(c, http.StatusInternalServerError, "hash failed")
		return "", false
	}
	return string(b), true
}

func passwordMatches(u *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// bind decodes the JSON body into req and answers 400 with the first failed
// rule when it does not validate.
func bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		fail(c, http.StatusBadRequest, "invalid json")
		return false
	}
	fe := verrs[0]
	msg := fieldMessages[fe.Field()]
	if fe.Tag() == "required" || msg == "" {
		msg = strings.ReplaceAll(toSnake(fe.Field()), "_", " ") + " is required"
	}
	fail(c, http.StatusBadRequest, msg)
	return false
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
