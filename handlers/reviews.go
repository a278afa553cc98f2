package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"restaurant-review-app/config"
	"restaurant-review-app/middleware"
	"restaurant-review-app/models"
	"restaurant-review-app/ratings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReviewForm struct {
	Stars   string `form:"stars" binding:"required"`
	Comment string `form:"comment"`
}

// SubmitReview records the caller's rating of a restaurant in someone's
// collection. Any signed-in user may rate; the rater is always the session
// identity, never a form field.
func SubmitReview(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	ownerID := middleware.NormalizeID(c.Param("userId"))
	restaurantID := middleware.NormalizeID(c.Param("restaurantId"))

	var form ReviewForm
	if err := c.ShouldBind(&form); err != nil {
		redirectWithError(c, ownerID, "A star rating is required.")
		return
	}
	stars, err := ratings.ParseStars(form.Stars)
	if err != nil {
		redirectWithError(c, ownerID, err.Error())
		return
	}

	_, err = upsertRating(ownerID, restaurantID, user.AccountID, stars, form.Comment)
	switch {
	case errors.Is(err, ErrNotFound):
		renderNotFound(c)
	case errors.Is(err, ErrConflict):
		redirectWithError(c, ownerID, "Someone updated this restaurant at the same time. Please try again.")
	case err != nil:
		renderServerError(c, err)
	default:
		c.Redirect(http.StatusSeeOther, "/users/"+ownerID)
	}
}

// upsertRating runs the read-modify-write for one rating submission. The
// restaurant row is written back guarded by its version; a lost race is
// retried once from a fresh read before surfacing ErrConflict. The average is
// recomputed from the full rating list on every attempt, so it can never
// drift from the entries it was derived from.
func upsertRating(ownerID, restaurantID, raterID string, stars int, comment string) (models.Restaurant, error) {
	ownerID = middleware.NormalizeID(ownerID)
	restaurantID = middleware.NormalizeID(restaurantID)
	for attempt := 0; attempt < 2; attempt++ {
		var restaurant models.Restaurant
		err := config.DB.Preload("Ratings").
			Where("id = ? AND owner_id = ?", restaurantID, ownerID).
			First(&restaurant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Restaurant{}, ErrNotFound
		}
		if err != nil {
			return models.Restaurant{}, err
		}

		if err := ratings.Apply(&restaurant, raterID, stars, comment, time.Now().UTC()); err != nil {
			return models.Restaurant{}, err
		}

		err = config.DB.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Restaurant{}).
				Where("id = ? AND version = ?", restaurant.ID, restaurant.Version).
				Updates(map[string]interface{}{
					"average_rating": restaurant.AverageRating,
					"version":        restaurant.Version + 1,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			return writeRaterEntry(tx, restaurant, raterID)
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return models.Restaurant{}, err
		}
		restaurant.Version++
		return restaurant, nil
	}
	return models.Restaurant{}, ErrConflict
}

// writeRaterEntry persists the single entry Apply touched. A loaded entry is
// updated by primary key; a fresh one is inserted with an upsert on
// (restaurant_id, rater_id) so a racing first-time rater cannot create a
// duplicate row.
func writeRaterEntry(tx *gorm.DB, restaurant models.Restaurant, raterID string) error {
	var entry models.Rating
	for _, r := range restaurant.Ratings {
		if r.RaterID == raterID {
			entry = r
			break
		}
	}

	if entry.ID != "" {
		return tx.Model(&models.Rating{}).Where("id = ?", entry.ID).
			Updates(map[string]interface{}{
				"stars":      entry.Stars,
				"comment":    entry.Comment,
				"updated_at": entry.UpdatedAt,
			}).Error
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "restaurant_id"}, {Name: "rater_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stars", "comment", "updated_at"}),
	}).Create(&entry).Error
}

func redirectWithError(c *gin.Context, ownerID, msg string) {
	c.Redirect(http.StatusSeeOther, "/users/"+ownerID+"?error="+url.QueryEscape(msg))
}
