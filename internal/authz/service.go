package authz

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/internal/metrics"
	"github.com/642studio/Veridis/internal/vault"
	"github.com/642studio/Veridis/pkg/schema"
)

const (
	// DefaultInviteTTL is used when no TTL is configured.
	DefaultInviteTTL = 12 * time.Hour

	codePrefix      = "DEV-"
	maxCodeAttempts = 5
)

// Service owns the authorization document. Every mutation runs under mu as
// load, clone, mutate, persist, publish; the live document is only replaced
// after the write succeeded.
type Service struct {
	mu        sync.Mutex
	persister *Persistence
	doc       *Document
	loaded    bool

	// privileged is fixed at construction and never written afterwards.
	privileged map[string]struct{}

	defaultTTL time.Duration
	now        func() time.Time
	random     io.Reader
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom sets the randomness source for invite codes.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a service backed by p. privilegedIDs always resolve to
// god regardless of what the store says. The store is read lazily on first
// use, or eagerly by calling Load.
func NewService(p *Persistence, privilegedIDs []string, opts ...Option) *Service {
	s := &Service{
		persister:  p,
		doc:        NewDocument(),
		privileged: make(map[string]struct{}, len(privilegedIDs)),
		defaultTTL: DefaultInviteTTL,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, id := range privilegedIDs {
		if id = strings.TrimSpace(id); id != "" {
			s.privileged[id] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTTL returns the TTL applied to invite codes when the caller gives none.
func (s *Service) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Load reads the store once. A missing or undecodable file is replaced by an
// empty store that is written immediately. Later calls are no-ops.
func (s *Service) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Service) loadLocked() error {
	if s.loaded {
		return nil
	}

	doc, err := s.persister.Read()
	switch {
	case err == nil:
		s.doc = doc
		s.loaded = true
		s.log.Info().
			Str("path", s.persister.Path).
			Int("users", len(doc.Users)).
			Int("invite_codes", len(doc.InviteCodes)).
			Msg("authorization store loaded")
		return nil
	case isMissing(err):
		s.log.Info().Str("path", s.persister.Path).Msg("authorization store not found, creating")
	case errors.Is(err, ErrCorruptStore):
		dst, qerr := s.persister.Quarantine(s.now())
		if qerr != nil {
			return persistenceError("quarantine corrupt authorization store", qerr)
		}
		s.log.Warn().Err(err).Str("moved_to", dst).Msg("authorization store unreadable, starting empty")
	default:
		return persistenceError("read authorization store", err)
	}

	empty := NewDocument()
	if err := s.commitLocked(empty); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// commitLocked persists next and publishes it. It MUST be called while holding s.mu.
func (s *Service) commitLocked(next *Document) error {
	start := time.Now()
	err := s.persister.Save(next)
	s.metrics.Persisted(time.Since(start), err)
	if err != nil {
		s.log.Error().Err(err).Str("path", s.persister.Path).Msg("authorization store write failed")
		return persistenceError("write authorization store", err)
	}
	s.doc = next
	return nil
}

// IsPrivileged reports whether externalID is on the configured allowlist.
func (s *Service) IsPrivileged(externalID string) bool {
	_, ok := s.privileged[strings.TrimSpace(externalID)]
	return ok
}

// RoleOf resolves the effective role of externalID: allowlisted ids are god,
// then the stored role, then lite.
func (s *Service) RoleOf(externalID string) schema.Role {
	id := strings.TrimSpace(externalID)
	if s.IsPrivileged(id) {
		return schema.RoleGod
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		s.log.Warn().Err(err).Msg("role lookup without a loaded store")
		return schema.RoleLite
	}
	return s.storedRoleLocked(id)
}

func (s *Service) storedRoleLocked(id string) schema.Role {
	if u, ok := s.doc.Users[id]; ok {
		if r, ok := ParseRole(string(u.Role)); ok {
			return r
		}
	}
	return schema.RoleLite
}

// User returns the stored record of externalID.
func (s *Service) User(externalID string) (schema.UserRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return schema.UserRecord{}, false, err
	}
	u, ok := s.doc.Users[strings.TrimSpace(externalID)]
	return u, ok, nil
}

// InviteCode returns the stored invite code record.
func (s *Service) InviteCode(code string) (schema.InviteCode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return schema.InviteCode{}, false, err
	}
	ic, ok := s.doc.InviteCodes[normalizeCode(code)]
	return ic, ok, nil
}

// Onboard creates or refreshes the record of externalID. Blank name or origin
// keep the stored values. Allowlisted ids are recorded as god, known users
// keep their role and new users start as lite.
func (s *Service) Onboard(externalID, name, origin string) (schema.UserRecord, error) {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return schema.UserRecord{}, ErrMissingExternalID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return schema.UserRecord{}, err
	}

	now := s.now().UTC()
	existing, known := s.doc.Users[id]

	role := schema.RoleLite
	switch {
	case s.IsPrivileged(id):
		role = schema.RoleGod
	case known:
		role = s.storedRoleLocked(id)
	}

	rec := schema.UserRecord{
		ExternalID: id,
		Name:       keepIfBlank(name, existing.Name),
		Origin:     keepIfBlank(origin, existing.Origin),
		Role:       role,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if known {
		rec.CreatedAt = existing.CreatedAt
	}

	next := s.doc.Clone()
	next.Users[id] = rec
	if err := s.commitLocked(next); err != nil {
		return schema.UserRecord{}, err
	}

	s.metrics.Onboarded()
	s.log.Info().Str("external_id", id).Str("role", string(role)).Bool("new", !known).Msg("user onboarded")
	return rec, nil
}

// CreateInviteCode issues a dev invite code valid for ttl. Only god may call it.
// A ttl of zero or less yields a code that is already expired.
func (s *Service) CreateInviteCode(creatorExternalID string, ttl time.Duration) (schema.InviteCode, error) {
	creator := strings.TrimSpace(creatorExternalID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return schema.InviteCode{}, err
	}

	if !s.IsPrivileged(creator) && s.storedRoleLocked(creator) != schema.RoleGod {
		s.log.Warn().Str("external_id", creator).Msg("invite code creation forbidden")
		return schema.InviteCode{}, ErrForbidden
	}

	code, err := s.uniqueCodeLocked()
	if err != nil {
		return schema.InviteCode{}, err
	}

	now := s.now().UTC()
	rec := schema.InviteCode{
		Code:                code,
		RoleGrant:           schema.RoleDev,
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
		CreatedByExternalID: creator,
	}

	next := s.doc.Clone()
	next.InviteCodes[code] = rec
	if err := s.commitLocked(next); err != nil {
		return schema.InviteCode{}, err
	}

	s.metrics.InviteCreated()
	s.log.Info().Str("created_by", creator).Time("expires_at", rec.ExpiresAt).Msg("invite code created")
	return rec, nil
}

// uniqueCodeLocked draws up to maxCodeAttempts candidates and never returns
// a code that is already stored.
func (s *Service) uniqueCodeLocked() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		suffix, err := vault.GenerateCode(s.random)
		if err != nil {
			return "", &Error{Code: CodeGenerationExhausted, Message: "random source failed", Err: err}
		}
		code := codePrefix + suffix
		if _, taken := s.doc.InviteCodes[code]; !taken {
			return code, nil
		}
		s.log.Debug().Int("attempt", attempt+1).Msg("invite code collision")
	}
	return "", ErrCodeGenExhausted
}

// RedeemInviteCode marks code as used by externalID and sets the user's role
// to the granted role, or god for allowlisted ids. The code update and the
// user update are written together.
func (s *Service) RedeemInviteCode(externalID, code string) (schema.UserRecord, error) {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return schema.UserRecord{}, ErrMissingExternalID
	}
	code = normalizeCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return schema.UserRecord{}, err
	}

	now := s.now().UTC()
	rec, ok := s.doc.InviteCodes[code]
	switch {
	case !ok:
		return schema.UserRecord{}, s.redeemFailed(id, ErrInvalidCode)
	case rec.Used():
		return schema.UserRecord{}, s.redeemFailed(id, ErrCodeAlreadyUsed)
	case rec.ExpiredAt(now):
		return schema.UserRecord{}, s.redeemFailed(id, ErrCodeExpired)
	}

	grant, ok := ParseRole(string(rec.RoleGrant))
	if !ok || grant == schema.RoleGod {
		grant = schema.RoleDev
	}

	existing, known := s.doc.Users[id]
	role := grant
	if s.IsPrivileged(id) {
		role = schema.RoleGod
	}

	user := schema.UserRecord{
		ExternalID: id,
		Name:       existing.Name,
		Origin:     existing.Origin,
		Role:       role,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if known {
		user.CreatedAt = existing.CreatedAt
	}

	usedAt := now
	rec.UsedAt = &usedAt
	rec.UsedByExternalID = id

	next := s.doc.Clone()
	next.InviteCodes[code] = rec
	next.Users[id] = user
	if err := s.commitLocked(next); err != nil {
		return schema.UserRecord{}, err
	}

	s.metrics.Redeemed("ok")
	s.log.Info().Str("external_id", id).Str("role", string(role)).Msg("invite code redeemed")
	return user, nil
}

func (s *Service) redeemFailed(id string, err *Error) error {
	s.metrics.Redeemed(string(err.Code))
	s.log.Info().Str("external_id", id).Str("reason", string(err.Code)).Msg("invite code rejected")
	return err
}

// CheckAction resolves the role of externalID and consults the static
// capability table.
func (s *Service) CheckAction(externalID, action string) schema.Decision {
	role := s.RoleOf(externalID)
	allowed := Allows(role, strings.TrimSpace(action))
	s.metrics.PermissionChecked(role, allowed)
	return schema.Decision{Allowed: allowed, Role: role}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func keepIfBlank(v, existing string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return existing
}
