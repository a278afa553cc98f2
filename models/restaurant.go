package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Restaurant struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	OwnerID       string    `json:"owner_id" gorm:"size:36;index;not null"`
	Owner         User      `json:"-" gorm:"foreignKey:OwnerID"`
	Name          string    `json:"name" gorm:"not null"`
	Cuisine       string    `json:"cuisine"`
	Location      string    `json:"location"`
	ImageURL      string    `json:"image_url"`
	AverageRating float64   `json:"average_rating" gorm:"default:0"`
	Version       int       `json:"-" gorm:"default:0"`
	Ratings       []Rating  `json:"ratings,omitempty" gorm:"foreignKey:RestaurantID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (r *Restaurant) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Rating is one account's star score for one restaurant. The rater is
// referenced by ID, never embedded; a restaurant holds at most one rating
// per rater (unique index on restaurant_id + rater_id).
type Rating struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	RestaurantID string    `json:"restaurant_id" gorm:"size:36;uniqueIndex:idx_restaurant_rater;not null"`
	RaterID      string    `json:"rater_id" gorm:"size:36;uniqueIndex:idx_restaurant_rater;not null"`
	Stars        int       `json:"stars" gorm:"not null"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *Rating) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
