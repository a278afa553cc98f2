package ratings

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"restaurant-review-app/models"
)

var (
	// ErrInvalidRating means the submitted stars value is not an integer in [1,5].
	ErrInvalidRating = errors.New("rating must be a whole number between 1 and 5")
)

const (
	MinStars = 1
	MaxStars = 5
)

// ParseStars coerces raw form input into a star value. All rating input passes
// through here; nothing downstream accepts an unvalidated string.
func ParseStars(raw string) (int, error) {
	stars, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidRating
	}
	if stars < MinStars || stars > MaxStars {
		return 0, ErrInvalidRating
	}
	return stars, nil
}

// Apply upserts raterID's rating on r and recomputes the average. A rater who
// has already rated gets their entry overwritten in place; a new rater is
// appended. Only the in-memory restaurant is mutated; persisting it is the
// caller's job.
func Apply(r *models.Restaurant, raterID string, stars int, comment string, now time.Time) error {
	if stars < MinStars || stars > MaxStars {
		return ErrInvalidRating
	}
	comment = strings.TrimSpace(comment)

	updated := false
	for i := range r.Ratings {
		if r.Ratings[i].RaterID == raterID {
			r.Ratings[i].Stars = stars
			r.Ratings[i].Comment = comment
			r.Ratings[i].UpdatedAt = now
			updated = true
			break
		}
	}
	if !updated {
		r.Ratings = append(r.Ratings, models.Rating{
			RestaurantID: r.ID,
			RaterID:      raterID,
			Stars:        stars,
			Comment:      comment,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	r.AverageRating = Average(r.Ratings)
	return nil
}

// Average returns the mean star value rounded to one decimal place, or 0 for
// an empty list. Always derived from the full list, never adjusted
// incrementally.
func Average(ratings []models.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Stars
	}
	mean := float64(sum) / float64(len(ratings))
	return math.Round(mean*10) / 10
}
