package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"stock_backend_api/middleware"
	"stock_backend_api/models"
)

// UserController handles account and watchlist requests
type UserController struct {
	db *gorm.DB
}

// NewUserController creates a new user controller
func NewUserController(db *gorm.DB) *UserController {
	return &UserController{db: db}
}

func (uc *UserController) ready(c *gin.Context) bool {
	if uc.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "User store not available"})
		return false
	}
	return true
}

// Register creates a new account
// POST /api/v1/auth/register
func (uc *UserController) Register(c *gin.Context) {
	if !uc.ready(c) {
		return
	}

	var request struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		FullName string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := strings.ToLower(strings.TrimSpace(request.Email))

	var existing models.User
	if err := uc.db.Where("email = ?", email).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	user := models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     request.FullName,
		Role:         models.RoleUser,
		IsActive:     true,
	}
	if err := uc.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": user})
}

// Login verifies credentials and issues an access token
// POST /api/v1/auth/login
func (uc *UserController) Login(c *gin.Context) {
	if !uc.ready(c) {
		return
	}

	var request struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := strings.ToLower(strings.TrimSpace(request.Email))
	ip := c.ClientIP()

	var user models.User
	if err := uc.db.Where("email = ? AND is_active = ?", email, true).First(&user).Error; err != nil {
		middleware.RecordLoginAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(request.Password)); err != nil {
		middleware.RecordLoginAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := middleware.IssueToken(user.ID, user.Email, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	now := time.Now()
	user.LastLoginAt = &now
	uc.db.Model(&user).Update("last_login_at", now)
	middleware.RecordLoginAttempt(ip, true)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": token, "user": user}})
}

// Me returns the authenticated user's profile
// GET /api/v1/users/me
func (uc *UserController) Me(c *gin.Context) {
	if !uc.ready(c) {
		return
	}

	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var user models.User
	if err := uc.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

// GetWatchlist returns the authenticated user's watchlist
// GET /api/v1/watchlist
func (uc *UserController) GetWatchlist(c *gin.Context) {
	if !uc.ready(c) {
		return
	}

	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var items []models.Watchlist
	if err := uc.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// AddToWatchlist adds a ticker to the authenticated user's watchlist
// POST /api/v1/watchlist
func (uc *UserController) AddToWatchlist(c *gin.Context) {
	if !uc.ready(c) {
		return
	}

	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var request struct {
		Ticker     string          `json:"ticker" binding:"required"`
		Notes      string          `json:"notes"`
		AlertPrice decimal.Decimal `json:"alert_price"`
		AlertType  string          `json:"alert_type"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(request.Ticker))
	if request.AlertType != "" {
		valid := false
		for _, t := range models.ValidWatchlistAlertTypes() {
			if request.AlertType == t {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert type"})
			return
		}
	}

	var existing models.Watchlist
	if err := uc.db.Where("user_id = ? AND ticker = ?", userID, ticker).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Ticker already in watchlist"})
		return
	}

	item := models.Watchlist{
		UserID:     userID,
		Ticker:     ticker,
		Notes:      request.Notes,
		AlertPrice: request.AlertPrice,
		AlertType:  request.AlertType,
	}
	if err := uc.db.Create(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add to watchlist"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": item})
}

// RemoveFromWatchlist removes a watchlist entry
// DELETE /api/v1/watchlist/:id
func (uc *UserController) RemoveFromWatchlist(c *gin.Context) {
	if !uc.ready(c) {
		return
	}

	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	result := uc.db.Where("id = ? AND user_id = ?", c.Param("id"), userID).Delete(&models.Watchlist{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove from watchlist"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Watchlist entry not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Removed from watchlist"})
}
