package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container and opens a migrated store on it.
func setupTestDB(t *testing.T) *store.PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("carhelper_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, closeFn, err := store.Open(ctx, config.DatabaseConfig{URL: connStr}, migrationsDir())
	require.NoError(t, err)
	t.Cleanup(closeFn)

	version, dirty, err := store.MigrationVersion(connStr, migrationsDir())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(4), version)

	return st
}

// eachStore runs fn against the in-memory store and, unless -short is set,
// against a migrated Postgres container.
func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemoryStore())
	})
	t.Run("postgres", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping integration test")
		}
		fn(t, setupTestDB(t))
	})
}

func newUser(t *testing.T, s store.Store, email string) *models.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Test Driver",
		PasswordHash: "$2a$10$hash",
		SkillLevel:   models.SkillBeginner,
		Locale:       "en",
		Units:        "imperial",
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func newVehicle(t *testing.T, s store.Store, userID uuid.UUID, vin *string) *models.Vehicle {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	trim := "EX"
	mileage := 85000
	v := &models.Vehicle{
		ID:        uuid.New(),
		UserID:    userID,
		Year:      2018,
		Make:      "Honda",
		Model:     "Civic",
		Trim:      &trim,
		VIN:       vin,
		Mileage:   &mileage,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateVehicle(context.Background(), v))
	return v
}

func newConversation(t *testing.T, s store.Store, userID uuid.UUID, vehicleID *uuid.UUID) *models.Conversation {
	t.Helper()
	c := &models.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		VehicleID: vehicleID,
		Title:     "Car won't start",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

// --- Users ---

func TestUser_CreateAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		u := newUser(t, s, "Driver@Example.com")

		byID, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "driver@example.com", byID.Email)
		assert.Equal(t, "$2a$10$hash", byID.PasswordHash)

		byEmail, err := s.GetUserByEmail(ctx, "DRIVER@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})
}

func TestUser_DuplicateEmail(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		newUser(t, s, "dup@example.com")
		err := s.CreateUser(context.Background(), &models.User{
			ID: uuid.New(), Email: "dup@example.com", PasswordHash: "x",
			SkillLevel: "beginner", Locale: "en", Units: "imperial", Role: "user",
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})
}

func TestUser_NotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		_, err := s.GetUserByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetUserByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestUser_UpdateProfilePartial(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		u := newUser(t, s, "profile@example.com")
		skill := models.SkillPro

		updated, err := s.UpdateUserProfile(context.Background(), u.ID, models.ProfileUpdate{SkillLevel: &skill})
		require.NoError(t, err)
		assert.Equal(t, models.SkillPro, updated.SkillLevel)
		assert.Equal(t, "Test Driver", updated.Name)
		assert.Equal(t, "imperial", updated.Units)
	})
}

// --- Sessions ---

func TestSession_LookupSkipsExpired(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		u := newUser(t, s, "session@example.com")
		now := time.Now().UTC()

		live := &models.Session{ID: uuid.New(), UserID: u.ID, TokenHash: "h1", TokenPrefix: "chs_abcdefgh",
			ExpiresAt: now.Add(time.Hour), CreatedAt: now}
		expired := &models.Session{ID: uuid.New(), UserID: u.ID, TokenHash: "h2", TokenPrefix: "chs_abcdefgh",
			ExpiresAt: now.Add(-time.Hour), CreatedAt: now}
		require.NoError(t, s.CreateSession(ctx, live))
		require.NoError(t, s.CreateSession(ctx, expired))

		sessions, err := s.GetSessionsByPrefix(ctx, "chs_abcdefgh", now)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, live.ID, sessions[0].ID)

		require.NoError(t, s.DeleteSession(ctx, live.ID))
		sessions, err = s.GetSessionsByPrefix(ctx, "chs_abcdefgh", now)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})
}

// --- Vehicles ---

func TestVehicle_OwnerScoped(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		owner := newUser(t, s, "owner@example.com")
		other := newUser(t, s, "other@example.com")
		v := newVehicle(t, s, owner.ID, nil)

		got, err := s.GetVehicle(ctx, v.ID, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, "2018 Honda Civic EX", got.DisplayName())
		require.NotNil(t, got.Mileage)
		assert.Equal(t, 85000, *got.Mileage)

		_, err = s.GetVehicle(ctx, v.ID, other.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		assert.ErrorIs(t, s.DeleteVehicle(ctx, v.ID, other.ID), store.ErrNotFound)

		list, err := s.ListVehicles(ctx, other.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestVehicle_DuplicateVIN(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		u := newUser(t, s, "vin@example.com")
		vin := "1HGCM82633A004352"
		newVehicle(t, s, u.ID, &vin)

		now := time.Now().UTC()
		err := s.CreateVehicle(context.Background(), &models.Vehicle{
			ID: uuid.New(), UserID: u.ID, Year: 2020, Make: "Toyota", Model: "Camry",
			VIN: &vin, CreatedAt: now, UpdatedAt: now,
		})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})
}

func TestVehicle_UpdateAndDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		u := newUser(t, s, "update@example.com")
		v := newVehicle(t, s, u.ID, nil)

		v.Model = "Accord"
		v.UpdatedAt = time.Now().UTC()
		require.NoError(t, s.UpdateVehicle(ctx, v))

		got, err := s.GetVehicle(ctx, v.ID, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Accord", got.Model)

		require.NoError(t, s.DeleteVehicle(ctx, v.ID, u.ID))
		_, err = s.GetVehicle(ctx, v.ID, u.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

// --- Conversations ---

func TestConversation_AppendAndList(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		u := newUser(t, s, "conv@example.com")
		c := newConversation(t, s, u.ID, nil)

		base := time.Now().UTC()
		user := &models.Message{ID: uuid.New(), ConversationID: c.ID, Role: models.RoleUser,
			Content: models.MessageContent{Text: "Engine misfire", OBDCode: "P0300"}, CreatedAt: base}
		assistant := &models.Message{ID: uuid.New(), ConversationID: c.ID, Role: models.RoleAssistant,
			Content: models.MessageContent{Text: "Check plugs", Diagnosis: &models.Diagnosis{Summary: "Check plugs", Severity: "medium"}},
			CreatedAt: base.Add(time.Millisecond)}
		require.NoError(t, s.AppendMessage(ctx, user))
		require.NoError(t, s.AppendMessage(ctx, assistant))

		msgs, err := s.ListMessages(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "P0300", msgs[0].Content.OBDCode)
		require.NotNil(t, msgs[1].Content.Diagnosis)
		assert.Equal(t, "medium", msgs[1].Content.Diagnosis.Severity)
	})
}

func TestConversation_ForeignOwner(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		owner := newUser(t, s, "a@example.com")
		other := newUser(t, s, "b@example.com")
		c := newConversation(t, s, owner.ID, nil)

		_, err := s.GetConversation(context.Background(), c.ID, other.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

// --- Diagnoses ---

func TestDiagnosis_ListNewestFirstWithVehicleName(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		u := newUser(t, s, "hist@example.com")
		v := newVehicle(t, s, u.ID, nil)
		withVehicle := newConversation(t, s, u.ID, &v.ID)
		noVehicle := newConversation(t, s, u.ID, nil)
		code := "P0171"

		base := time.Now().UTC().Truncate(time.Microsecond)
		older := &models.DiagnosisRecord{ID: uuid.New(), ConversationID: withVehicle.ID, Summary: "lean",
			Severity: "medium", Confidence: 70, OBDCode: &code,
			Data:      models.Diagnosis{Summary: "lean", DIYSteps: []models.DIYStep{{Step: "Inspect intake"}}},
			CreatedAt: base}
		newer := &models.DiagnosisRecord{ID: uuid.New(), ConversationID: noVehicle.ID, Summary: "noise",
			Severity: "low", Confidence: 50, Data: models.Diagnosis{Summary: "noise"}, CreatedAt: base.Add(time.Second)}
		require.NoError(t, s.CreateDiagnosis(ctx, older))
		require.NoError(t, s.CreateDiagnosis(ctx, newer))

		list, err := s.ListDiagnoses(ctx, u.ID, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, "Unknown Vehicle", list[0].VehicleName)
		assert.False(t, list[0].HasRepairGuide)
		assert.Equal(t, "2018 Honda Civic", list[1].VehicleName)
		assert.True(t, list[1].HasRepairGuide)
		require.NotNil(t, list[1].OBDCode)
		assert.Equal(t, "P0171", *list[1].OBDCode)

		limited, err := s.ListDiagnoses(ctx, u.ID, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		other := newUser(t, s, "nohist@example.com")
		none, err := s.ListDiagnoses(ctx, other.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

// --- Usage ---

func TestUsage_MergeIncrement(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		u := newUser(t, s, "usage@example.com")
		day := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

		require.NoError(t, s.IncrementUsage(ctx, u.ID, day, 1, 400))
		require.NoError(t, s.IncrementUsage(ctx, u.ID, day.Add(5*time.Hour), 1, 600))
		require.NoError(t, s.IncrementUsage(ctx, u.ID, day.AddDate(0, 0, 1), 1, 100))

		today, err := s.SumUsage(ctx, u.ID, day, day)
		require.NoError(t, err)
		assert.Equal(t, models.UsageTotals{Diagnoses: 2, TokensUsed: 1000}, today)

		month, err := s.SumUsage(ctx, u.ID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), day.AddDate(0, 0, 10))
		require.NoError(t, err)
		assert.Equal(t, models.UsageTotals{Diagnoses: 3, TokensUsed: 1100}, month)
	})
}

func TestUsageDay(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	got := store.UsageDay(time.Date(2026, 3, 14, 20, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestPing(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestRollbackMigrations_RejectsNonPositive(t *testing.T) {
	err := store.RollbackMigrations("postgres://unused", migrationsDir(), 0)
	assert.Error(t, err)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := store.Connect(context.Background(), config.DatabaseConfig{URL: "postgres://host:notaport/db"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database URL")

	_, _, err = store.Open(context.Background(), config.DatabaseConfig{URL: "postgres://host:notaport/db"}, migrationsDir())
	assert.Error(t, err)
}
