package handlers

import (
	"errors"
	"net/http"
	"time"

	"restaurant-review-app/config"
	"restaurant-review-app/middleware"
	"restaurant-review-app/models"
	"restaurant-review-app/ratings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type RestaurantForm struct {
	Name     string `form:"name" binding:"required"`
	Cuisine  string `form:"cuisine" binding:"required"`
	Location string `form:"location"`
	ImageURL string `form:"image_url"`
	Stars    string `form:"stars"`
	Review   string `form:"review"`
}

// ListRestaurants shows the owner's collection.
func ListRestaurants(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var list []models.Restaurant
	if err := config.DB.Preload("Ratings").Where("owner_id = ?", user.AccountID).
		Order("created_at DESC").Find(&list).Error; err != nil {
		renderServerError(c, err)
		return
	}
	c.HTML(http.StatusOK, "restaurants-index.html", gin.H{
		"user":        user,
		"restaurants": list,
	})
}

// NewRestaurantPage renders the create form.
func NewRestaurantPage(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	c.HTML(http.StatusOK, "restaurant-new.html", gin.H{"user": user})
}

// CreateRestaurant adds a restaurant to the owner's collection. The form's
// stars and review text become the owner's own rating entry, applied through
// the aggregator like any later review.
func CreateRestaurant(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var form RestaurantForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "restaurant-new.html", gin.H{
			"user":  user,
			"error": "Name and cuisine are required.",
		})
		return
	}

	stars, err := ratings.ParseStars(form.Stars)
	if err != nil {
		c.HTML(http.StatusBadRequest, "restaurant-new.html", gin.H{
			"user":  user,
			"error": err.Error(),
		})
		return
	}

	restaurant := models.Restaurant{
		OwnerID:  user.AccountID,
		Name:     form.Name,
		Cuisine:  form.Cuisine,
		Location: form.Location,
		ImageURL: form.ImageURL,
	}
	if err := ratings.Apply(&restaurant, user.AccountID, stars, form.Review, time.Now().UTC()); err != nil {
		c.HTML(http.StatusBadRequest, "restaurant-new.html", gin.H{"user": user, "error": err.Error()})
		return
	}

	if err := config.DB.Create(&restaurant).Error; err != nil {
		renderServerError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/users/"+user.AccountID+"/restaurants")
}

// ShowRestaurant renders one restaurant with its ratings.
func ShowRestaurant(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	restaurant, err := ownedRestaurant(c.Param("userId"), c.Param("restaurantId"))
	if errors.Is(err, ErrNotFound) {
		renderNotFound(c)
		return
	}
	if err != nil {
		renderServerError(c, err)
		return
	}
	c.HTML(http.StatusOK, "restaurant-show.html", gin.H{
		"user":       user,
		"restaurant": restaurant,
	})
}

// EditRestaurantPage renders the edit form.
func EditRestaurantPage(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	restaurant, err := ownedRestaurant(c.Param("userId"), c.Param("restaurantId"))
	if errors.Is(err, ErrNotFound) {
		renderNotFound(c)
		return
	}
	if err != nil {
		renderServerError(c, err)
		return
	}
	c.HTML(http.StatusOK, "restaurant-edit.html", gin.H{
		"user":       user,
		"restaurant": restaurant,
	})
}

type UpdateRestaurantForm struct {
	Name     string `form:"name" binding:"required"`
	Cuisine  string `form:"cuisine" binding:"required"`
	Location string `form:"location"`
	ImageURL string `form:"image_url"`
}

// UpdateRestaurant edits name, cuisine, location and image. Ratings and the
// derived average are only touched through the rating routes.
func UpdateRestaurant(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	restaurant, err := ownedRestaurant(c.Param("userId"), c.Param("restaurantId"))
	if errors.Is(err, ErrNotFound) {
		renderNotFound(c)
		return
	}
	if err != nil {
		renderServerError(c, err)
		return
	}

	var form UpdateRestaurantForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "restaurant-edit.html", gin.H{
			"user":       user,
			"restaurant": restaurant,
			"error":      "Name and cuisine are required.",
		})
		return
	}

	err = config.DB.Model(&restaurant).Updates(map[string]interface{}{
		"name":      form.Name,
		"cuisine":   form.Cuisine,
		"location":  form.Location,
		"image_url": form.ImageURL,
	}).Error
	if err != nil {
		renderServerError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/users/"+user.AccountID+"/restaurants/"+restaurant.ID)
}

// DeleteRestaurant removes a restaurant and its ratings.
func DeleteRestaurant(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	restaurant, err := ownedRestaurant(c.Param("userId"), c.Param("restaurantId"))
	if errors.Is(err, ErrNotFound) {
		renderNotFound(c)
		return
	}
	if err != nil {
		renderServerError(c, err)
		return
	}

	err = config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("restaurant_id = ?", restaurant.ID).Delete(&models.Rating{}).Error; err != nil {
			return err
		}
		return tx.Delete(&restaurant).Error
	})
	if err != nil {
		renderServerError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/users/"+user.AccountID+"/restaurants")
}

// ownedRestaurant fetches a restaurant scoped to its owner. The ownership
// guard has already run; the owner_id filter keeps the lookup from ever
// crossing collections. Both IDs are normalized the same way the guard
// normalizes them, so a case-shifted but authorized URL still resolves.
func ownedRestaurant(ownerID, restaurantID string) (models.Restaurant, error) {
	var restaurant models.Restaurant
	err := config.DB.Preload("Ratings").
		Where("id = ? AND owner_id = ?",
			middleware.NormalizeID(restaurantID), middleware.NormalizeID(ownerID)).
		First(&restaurant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Restaurant{}, ErrNotFound
	}
	if err != nil {
		return models.Restaurant{}, err
	}
	return restaurant, nil
}

func renderNotFound(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	c.HTML(http.StatusNotFound, "error.html", gin.H{
		"user":  user,
		"error": "That restaurant does not exist.",
	})
}

func renderServerError(c *gin.Context, err error) {
	logError(c, err)
	user, _ := middleware.CurrentUser(c)
	c.HTML(http.StatusInternalServerError, "error.html", gin.H{
		"user":  user,
		"error": "Something went wrong. Please try again.",
	})
}
