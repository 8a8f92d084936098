package api

import (
	"errors"
	"net/http" // HTTP status codes
	"regexp"   // Regular expressions
	"strings"  // String manipulation

	"finance_tracker/internal/domain"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/gin-gonic/gin"   // Gin web framework
	"golang.org/x/crypto/bcrypt" // Password hashing
)

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries the issued token
type AuthResponse struct {
	Token string             `json:"token"`
	User  domain.UserSummary `json:"user"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func isValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// bcrypt ignores everything past 72 bytes
func isValidPassword(password string) bool {
	return len(password) >= 8 && len(password) <= 72
}

// RegisterHandler creates a user account
func RegisterHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, CodeValidation, "Invalid request")
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		name := strings.TrimSpace(req.FullName)
		if !isValidEmail(email) {
			abort(c, http.StatusBadRequest, CodeValidation, "A valid email is required")
			return
		}
		if name == "" {
			abort(c, http.StatusBadRequest, CodeValidation, "Full name is required")
			return
		}
		if !isValidPassword(req.Password) {
			abort(c, http.StatusBadRequest, CodeValidation, "Password must be 8-72 characters")
			return
		}
		ctx := c.Request.Context()
		if _, err := st.FindUserByEmail(ctx, email); err == nil {
			abort(c, http.StatusConflict, CodeUserExists, "User with this email already exists")
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			respondError(c, err)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(c, err)
			return
		}
		user := domain.User{Email: email, FullName: name, Password: string(hash), Role: domain.RoleUser}
		if err := st.CreateUser(ctx, &user); err != nil {
			// lost a race with a concurrent registration
			abort(c, http.StatusConflict, CodeUserExists, "User with this email already exists")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user": user.Summary()})
	}
}

// LoginHandler authenticates a user and returns a JWT token
func LoginHandler(st *store.Store, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, CodeValidation, "Invalid request")
			return
		}
		user, err := st.FindUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				respondError(c, err)
				return
			}
			abort(c, http.StatusUnauthorized, CodeInvalidLogin, "Invalid credentials")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			abort(c, http.StatusUnauthorized, CodeInvalidLogin, "Invalid credentials")
			return
		}
		token, err := utils.GenerateJWT(user.ID, user.FullName, jwtSecret)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, AuthResponse{Token: token, User: user.Summary()})
	}
}
