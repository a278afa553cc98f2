package handlers

import (
	"errors"
	"net/http"

	"restaurant-review-app/config"
	"restaurant-review-app/middleware"
	"restaurant-review-app/models"
	"restaurant-review-app/ratings"
	"restaurant-review-app/sessions"

	"github.com/gin-gonic/gin"
)

type TokenRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Token exchanges credentials for a bearer token carrying the same identity a
// browser session would.
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := authenticate(req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidCredentials.Error()})
		return
	}
	if err != nil {
		logError(c, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	token, err := middleware.GenerateToken(
		sessions.Identity{AccountID: user.ID, Username: user.Username}, h.jwtSecret,
	)
	if err != nil {
		logError(c, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  gin.H{"id": user.ID, "username": user.Username, "email": user.Email},
	})
}

// APIListRestaurants returns the owner's collection as JSON.
func APIListRestaurants(c *gin.Context) {
	var list []models.Restaurant
	err := config.DB.Preload("Ratings").
		Where("owner_id = ?", middleware.NormalizeID(c.Param("userId"))).
		Order("created_at DESC").Find(&list).Error
	if err != nil {
		logError(c, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restaurants": list})
}

type APIReviewRequest struct {
	Stars   string `json:"stars" binding:"required"`
	Comment string `json:"comment"`
}

// APISubmitReview is the JSON counterpart of SubmitReview. Stars arrive as a
// string and pass through the same coercion as form input.
func APISubmitReview(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req APIReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stars, err := ratings.ParseStars(req.Stars)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	restaurant, err := upsertRating(c.Param("userId"), c.Param("restaurantId"), user.AccountID, stars, req.Comment)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "restaurant not found"})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": ErrConflict.Error()})
	case err != nil:
		logError(c, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rating failed"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"average_rating": restaurant.AverageRating,
			"rating_count":   len(restaurant.Ratings),
		})
	}
}
