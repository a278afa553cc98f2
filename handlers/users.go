package handlers

import (
	"errors"
	"net/http"

	"restaurant-review-app/config"
	"restaurant-review-app/middleware"
	"restaurant-review-app/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Home renders the landing page.
func Home(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	c.HTML(http.StatusOK, "index.html", gin.H{"user": user})
}

// ListUsers renders the community directory.
func ListUsers(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var users []models.User
	if err := config.DB.Order("username ASC").Find(&users).Error; err != nil {
		renderServerError(c, err)
		return
	}
	c.HTML(http.StatusOK, "users-index.html", gin.H{
		"user":  user,
		"users": users,
	})
}

// ShowUser renders a member's public profile with their restaurant collection.
// Signed-in visitors can rate the restaurants from here.
func ShowUser(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var profile models.User
	err := config.DB.Preload("Restaurants.Ratings").
		Where("id = ?", middleware.NormalizeID(c.Param("userId"))).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.HTML(http.StatusNotFound, "error.html", gin.H{
			"user":  user,
			"error": "That member does not exist.",
		})
		return
	}
	if err != nil {
		renderServerError(c, err)
		return
	}
	c.HTML(http.StatusOK, "user-show.html", gin.H{
		"user":    user,
		"profile": profile,
		"error":   c.Query("error"),
	})
}
