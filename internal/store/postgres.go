package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const unknownVehicleName = "Unknown Vehicle"

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, email, name, password_hash, skill_level, locale, units, role, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.SkillLevel, &u.Locale,
		&u.Units, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.SkillLevel, u.Locale, u.Units,
		u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET
		   name = COALESCE($2, name),
		   skill_level = COALESCE($3, skill_level),
		   locale = COALESCE($4, locale),
		   units = COALESCE($5, units),
		   updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, upd.Name, upd.SkillLevel, upd.Locale, upd.Units))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

// --- Sessions ---

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, token_prefix, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.TokenPrefix, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSessionsByPrefix(ctx context.Context, prefix string, now time.Time) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, token_hash, token_prefix, expires_at, created_at
		 FROM sessions WHERE token_prefix = $1 AND expires_at > $2`, prefix, now)
	if err != nil {
		return nil, fmt.Errorf("get sessions by prefix: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.TokenPrefix,
			&sess.ExpiresAt, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// --- Vehicles ---

const vehicleColumns = `id, user_id, year, make, model, trim_level, vin, mileage, nickname, created_at, updated_at`

func scanVehicle(row pgx.Row) (*models.Vehicle, error) {
	var v models.Vehicle
	err := row.Scan(&v.ID, &v.UserID, &v.Year, &v.Make, &v.Model, &v.Trim, &v.VIN, &v.Mileage,
		&v.Nickname, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vehicles (`+vehicleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.UserID, v.Year, v.Make, v.Model, v.Trim, v.VIN, v.Mileage, v.Nickname,
		v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create vehicle: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVehicle(ctx context.Context, id, userID uuid.UUID) (*models.Vehicle, error) {
	v, err := scanVehicle(s.pool.QueryRow(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVehicles(ctx context.Context, userID uuid.UUID) ([]*models.Vehicle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := []*models.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *PostgresStore) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicles SET year = $3, make = $4, model = $5, trim_level = $6, vin = $7,
		   mileage = $8, nickname = $9, updated_at = $10
		 WHERE id = $1 AND user_id = $2`,
		v.ID, v.UserID, v.Year, v.Make, v.Model, v.Trim, v.VIN, v.Mileage, v.Nickname, v.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update vehicle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteVehicle(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM vehicles WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete vehicle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Conversations ---

func (s *PostgresStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, vehicle_id, title, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UserID, c.VehicleID, c.Title, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, vehicle_id, title, created_at FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.VehicleID, &c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// --- Diagnoses ---

func (s *PostgresStore) CreateDiagnosis(ctx context.Context, d *models.DiagnosisRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO diagnoses (id, conversation_id, summary, severity, confidence, obd_code, json_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.ConversationID, d.Summary, d.Severity, d.Confidence, d.OBDCode, d.Data, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create diagnosis: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDiagnoses(ctx context.Context, userID uuid.UUID, limit int) ([]*models.DiagnosisSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.conversation_id, d.summary, d.severity, d.confidence, d.obd_code,
		        jsonb_array_length(COALESCE(d.json_data->'diySteps', '[]'::jsonb)) > 0,
		        d.created_at, v.year, v.make, v.model
		 FROM diagnoses d
		 JOIN conversations c ON c.id = d.conversation_id
		 LEFT JOIN vehicles v ON v.id = c.vehicle_id
		 WHERE c.user_id = $1
		 ORDER BY d.created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list diagnoses: %w", err)
	}
	defer rows.Close()

	out := []*models.DiagnosisSummary{}
	for rows.Next() {
		var (
			d           models.DiagnosisSummary
			year          *int
			vMake, vModel *string
		)
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Summary, &d.Severity, &d.Confidence,
			&d.OBDCode, &d.HasRepairGuide, &d.CreatedAt, &year, &vMake, &vModel); err != nil {
			return nil, fmt.Errorf("scan diagnosis: %w", err)
		}
		d.VehicleName = unknownVehicleName
		if year != nil && vMake != nil && vModel != nil {
			d.VehicleName = fmt.Sprintf("%d %s %s", *year, *vMake, *vModel)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// --- Usage ---

func (s *PostgresStore) IncrementUsage(ctx context.Context, userID uuid.UUID, day time.Time, diagnoses, tokens int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counters (user_id, date, diagnoses_count, tokens_used)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, date) DO UPDATE SET
		   diagnoses_count = usage_counters.diagnoses_count + EXCLUDED.diagnoses_count,
		   tokens_used = usage_counters.tokens_used + EXCLUDED.tokens_used`,
		userID, UsageDay(day), diagnoses, tokens)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) SumUsage(ctx context.Context, userID uuid.UUID, from, to time.Time) (models.UsageTotals, error) {
	var t models.UsageTotals
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(diagnoses_count), 0)::bigint, COALESCE(SUM(tokens_used), 0)::bigint
		 FROM usage_counters WHERE user_id = $1 AND date >= $2 AND date <= $3`,
		userID, UsageDay(from), UsageDay(to),
	).Scan(&t.Diagnoses, &t.TokensUsed)
	if err != nil {
		return models.UsageTotals{}, fmt.Errorf("sum usage: %w", err)
	}
	return t, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
