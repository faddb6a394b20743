package store

import (
	"context"
	"errors"
	"time"

	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
// Lookups of user-owned rows take the owner's id and report ErrNotFound for
// rows that exist but belong to someone else.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.User, error)

	CreateSession(ctx context.Context, sess *models.Session) error
	GetSessionsByPrefix(ctx context.Context, prefix string, now time.Time) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicle(ctx context.Context, id, userID uuid.UUID) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, userID uuid.UUID) ([]*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, v *models.Vehicle) error
	DeleteVehicle(ctx context.Context, id, userID uuid.UUID) error

	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)

	CreateDiagnosis(ctx context.Context, d *models.DiagnosisRecord) error
	ListDiagnoses(ctx context.Context, userID uuid.UUID, limit int) ([]*models.DiagnosisSummary, error)

	IncrementUsage(ctx context.Context, userID uuid.UUID, day time.Time, diagnoses, tokens int) error
	SumUsage(ctx context.Context, userID uuid.UUID, from, to time.Time) (models.UsageTotals, error)
}

// UsageDay truncates t to its UTC calendar day, the key of a usage row.
func UsageDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
