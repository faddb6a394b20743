package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a CarHelper account. The password hash never leaves the server.
type User struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Email        string    `db:"email"         json:"email"`
	Name         string    `db:"name"          json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	SkillLevel   string    `db:"skill_level"   json:"skillLevel"`
	Locale       string    `db:"locale"        json:"locale"`
	Units        string    `db:"units"         json:"units"`
	Role         string    `db:"role"          json:"role"`
	CreatedAt    time.Time `db:"created_at"    json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updatedAt"`
}

// ProfileUpdate holds the user-editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name       *string `json:"name"`
	SkillLevel *string `json:"skillLevel"`
	Locale     *string `json:"locale"`
	Units      *string `json:"units"`
}

// Session backs the opaque "session" cookie. Raw tokens are shown once at sign-in;
// only the bcrypt hash is stored.
type Session struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	UserID      uuid.UUID `db:"user_id"      json:"userId"`
	TokenHash   string    `db:"token_hash"   json:"-"`
	TokenPrefix string    `db:"token_prefix" json:"-"`
	ExpiresAt   time.Time `db:"expires_at"   json:"expiresAt"`
	CreatedAt   time.Time `db:"created_at"   json:"createdAt"`
}
