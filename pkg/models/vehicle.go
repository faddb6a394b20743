package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Vehicle is a car registered by a user.
type Vehicle struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	UserID    uuid.UUID `db:"user_id"    json:"userId"`
	Year      int       `db:"year"       json:"year"`
	Make      string    `db:"make"       json:"make"`
	Model     string    `db:"model"      json:"model"`
	Trim      *string   `db:"trim_level" json:"trim,omitempty"`
	VIN       *string   `db:"vin"        json:"vin,omitempty"`
	Mileage   *int      `db:"mileage"    json:"mileage,omitempty"`
	Nickname  *string   `db:"nickname"   json:"nickname,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// DisplayName renders "year make model" with the trim appended when known.
func (v *Vehicle) DisplayName() string {
	name := fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	if v.Trim != nil && *v.Trim != "" {
		name += " " + *v.Trim
	}
	return name
}
