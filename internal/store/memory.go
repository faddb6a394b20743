package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

type usageKey struct {
	userID uuid.UUID
	day    time.Time
}

// MemoryStore is an in-memory implementation of Store, used in development
// when no DATABASE_URL is configured and in tests. Values are copied in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]models.User
	sessions      map[uuid.UUID]models.Session
	vehicles      map[uuid.UUID]models.Vehicle
	conversations map[uuid.UUID]models.Conversation
	messages      map[uuid.UUID][]models.Message
	diagnoses     []models.DiagnosisRecord
	usage         map[usageKey]models.UsageCounter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]models.User),
		sessions:      make(map[uuid.UUID]models.Session),
		vehicles:      make(map[uuid.UUID]models.Vehicle),
		conversations: make(map[uuid.UUID]models.Conversation),
		messages:      make(map[uuid.UUID][]models.Message),
		usage:         make(map[usageKey]models.UsageCounter),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Users ---

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	for _, existing := range m.users {
		if existing.Email == email || existing.ID == u.ID {
			return ErrDuplicateKey
		}
	}
	cp := *u
	cp.Email = email
	m.users[u.ID] = cp
	return nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateUserProfile(_ context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.SkillLevel != nil {
		u.SkillLevel = *upd.SkillLevel
	}
	if upd.Locale != nil {
		u.Locale = *upd.Locale
	}
	if upd.Units != nil {
		u.Units = *upd.Units
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return &u, nil
}

// --- Sessions ---

func (m *MemoryStore) CreateSession(_ context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[sess.UserID]; !ok {
		return fmt.Errorf("create session: unknown user %s", sess.UserID)
	}
	m.sessions[sess.ID] = *sess
	return nil
}

func (m *MemoryStore) GetSessionsByPrefix(_ context.Context, prefix string, now time.Time) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, sess := range m.sessions {
		if sess.TokenPrefix == prefix && sess.ExpiresAt.After(now) {
			cp := sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// --- Vehicles ---

func (m *MemoryStore) vinTaken(vin *string, except uuid.UUID) bool {
	if vin == nil {
		return false
	}
	for id, v := range m.vehicles {
		if id != except && v.VIN != nil && *v.VIN == *vin {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vehicles[v.ID]; ok || m.vinTaken(v.VIN, v.ID) {
		return ErrDuplicateKey
	}
	m.vehicles[v.ID] = *v
	return nil
}

func (m *MemoryStore) GetVehicle(_ context.Context, id, userID uuid.UUID) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vehicles[id]
	if !ok || v.UserID != userID {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemoryStore) ListVehicles(_ context.Context, userID uuid.UUID) ([]*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*models.Vehicle{}
	for _, v := range m.vehicles {
		if v.UserID == userID {
			cp := v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdateVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.vehicles[v.ID]
	if !ok || existing.UserID != v.UserID {
		return ErrNotFound
	}
	if m.vinTaken(v.VIN, v.ID) {
		return ErrDuplicateKey
	}
	cp := *v
	cp.CreatedAt = existing.CreatedAt
	m.vehicles[v.ID] = cp
	return nil
}

func (m *MemoryStore) DeleteVehicle(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vehicles[id]
	if !ok || v.UserID != userID {
		return ErrNotFound
	}
	delete(m.vehicles, id)
	for cid, c := range m.conversations {
		if c.VehicleID != nil && *c.VehicleID == id {
			c.VehicleID = nil
			m.conversations[cid] = c
		}
	}
	return nil
}

// --- Conversations ---

func (m *MemoryStore) CreateConversation(_ context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[c.ID]; ok {
		return ErrDuplicateKey
	}
	m.conversations[c.ID] = *c
	m.messages[c.ID] = []models.Message{}
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	out := make([]*models.Message, 0, len(msgs))
	for i := range msgs {
		cp := msgs[i]
		out = append(out, &cp)
	}
	return out, nil
}

// --- Diagnoses ---

func (m *MemoryStore) CreateDiagnosis(_ context.Context, d *models.DiagnosisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[d.ConversationID]; !ok {
		return ErrNotFound
	}
	m.diagnoses = append(m.diagnoses, *d)
	return nil
}

func (m *MemoryStore) ListDiagnoses(_ context.Context, userID uuid.UUID, limit int) ([]*models.DiagnosisSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*models.DiagnosisSummary{}
	for i := len(m.diagnoses) - 1; i >= 0; i-- {
		d := m.diagnoses[i]
		c, ok := m.conversations[d.ConversationID]
		if !ok || c.UserID != userID {
			continue
		}
		name := unknownVehicleName
		if c.VehicleID != nil {
			if v, ok := m.vehicles[*c.VehicleID]; ok {
				name = fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
			}
		}
		out = append(out, &models.DiagnosisSummary{
			ID:             d.ID,
			ConversationID: d.ConversationID,
			Summary:        d.Summary,
			Severity:       d.Severity,
			Confidence:     d.Confidence,
			VehicleName:    name,
			OBDCode:        d.OBDCode,
			HasRepairGuide: len(d.Data.DIYSteps) > 0,
			CreatedAt:      d.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Usage ---

func (m *MemoryStore) IncrementUsage(_ context.Context, userID uuid.UUID, day time.Time, diagnoses, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := usageKey{userID: userID, day: UsageDay(day)}
	c := m.usage[k]
	c.UserID = userID
	c.Date = k.day
	c.DiagnosesCount += diagnoses
	c.TokensUsed += tokens
	m.usage[k] = c
	return nil
}

func (m *MemoryStore) SumUsage(_ context.Context, userID uuid.UUID, from, to time.Time) (models.UsageTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, to = UsageDay(from), UsageDay(to)
	var t models.UsageTotals
	for k, c := range m.usage {
		if k.userID != userID || k.day.Before(from) || k.day.After(to) {
			continue
		}
		t.Diagnoses += c.DiagnosesCount
		t.TokensUsed += c.TokensUsed
	}
	return t, nil
}

var _ Store = (*MemoryStore)(nil)
