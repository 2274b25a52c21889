package authz

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/642studio/Veridis/internal/metrics"
	"github.com/642studio/Veridis/pkg/schema"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// zeroReader always yields zero bytes, so every generated code is the same.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

var codePattern = regexp.MustCompile(`^DEV-[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{8}$`)

type ServiceSuite struct {
	suite.Suite
	path    string
	clock   *fakeClock
	metrics *metrics.Metrics
	svc     *Service
}

func (s *ServiceSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "data", "authz.json")
	s.clock = &fakeClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.svc = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{WithClock(s.clock.Now), WithMetrics(s.metrics)}
	return NewService(NewPersistence(s.path), []string{"g1", " root "}, append(base, opts...)...)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) TestLoadCreatesMissingStore() {
	require.NoError(s.T(), s.svc.Load())

	raw, err := os.ReadFile(s.path)
	require.NoError(s.T(), err)
	assert.JSONEq(s.T(), `{"users":{},"inviteCodes":{}}`, string(raw))

	// Idempotent: a second load does not re-read a file that changed underneath.
	require.NoError(s.T(), os.WriteFile(s.path, []byte("garbage"), 0o600))
	require.NoError(s.T(), s.svc.Load())
}

func (s *ServiceSuite) TestLoadQuarantinesCorruptStore() {
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(s.path), 0o755))
	require.NoError(s.T(), os.WriteFile(s.path, []byte("{not json"), 0o600))

	require.NoError(s.T(), s.svc.Load())

	raw, err := os.ReadFile(s.path)
	require.NoError(s.T(), err)
	assert.JSONEq(s.T(), `{"users":{},"inviteCodes":{}}`, string(raw))

	matches, err := filepath.Glob(s.path + ".corrupt-*")
	require.NoError(s.T(), err)
	assert.Len(s.T(), matches, 1)
}

func (s *ServiceSuite) TestRoleOf() {
	assert.Equal(s.T(), schema.RoleLite, s.svc.RoleOf("nobody"))
	assert.Equal(s.T(), schema.RoleGod, s.svc.RoleOf("g1"))
	assert.Equal(s.T(), schema.RoleGod, s.svc.RoleOf("root"), "allowlist entries are trimmed")
	assert.Equal(s.T(), schema.RoleGod, s.svc.RoleOf(" g1 "))
}

func (s *ServiceSuite) TestAllowlistOverridesStaleStoredRole() {
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(s.path), 0o755))
	doc := NewDocument()
	doc.Users["g1"] = schema.UserRecord{ExternalID: "g1", Role: schema.RoleLite}
	doc.Users["weird"] = schema.UserRecord{ExternalID: "weird", Role: "admin"}
	require.NoError(s.T(), NewPersistence(s.path).Save(doc))

	assert.Equal(s.T(), schema.RoleGod, s.svc.RoleOf("g1"))
	assert.Equal(s.T(), schema.RoleLite, s.svc.RoleOf("weird"), "unknown stored roles degrade to lite")
}

func (s *ServiceSuite) TestOnboardNewUser() {
	u, err := s.svc.Onboard(" u1 ", " Ana ", "telegram")
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "u1", u.ExternalID)
	assert.Equal(s.T(), "Ana", u.Name)
	assert.Equal(s.T(), "telegram", u.Origin)
	assert.Equal(s.T(), schema.RoleLite, u.Role)
	assert.Equal(s.T(), s.clock.Now(), u.CreatedAt)
	assert.Equal(s.T(), s.clock.Now(), u.UpdatedAt)
	assert.Equal(s.T(), 1.0, testutil.ToFloat64(s.metrics.UsersOnboarded))
}

func (s *ServiceSuite) TestOnboardPartialUpdate() {
	first, err := s.svc.Onboard("u1", "Ana", "telegram")
	require.NoError(s.T(), err)

	s.clock.Advance(time.Hour)
	second, err := s.svc.Onboard("u1", "  ", "web")
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "Ana", second.Name, "blank name keeps the stored one")
	assert.Equal(s.T(), "web", second.Origin)
	assert.Equal(s.T(), first.CreatedAt, second.CreatedAt)
	assert.Equal(s.T(), first.UpdatedAt.Add(time.Hour), second.UpdatedAt)
}

func (s *ServiceSuite) TestOnboardPrivilegedIsGod() {
	u, err := s.svc.Onboard("g1", "", "")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleGod, u.Role)
}

func (s *ServiceSuite) TestOnboardRejectsBlankID() {
	_, err := s.svc.Onboard("   ", "x", "y")
	assert.ErrorIs(s.T(), err, ErrMissingExternalID)
}

func (s *ServiceSuite) TestCreateInviteForbiddenForLiteAndDev() {
	_, err := s.svc.CreateInviteCode("u1", time.Hour)
	assert.ErrorIs(s.T(), err, ErrForbidden)

	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)
	_, err = s.svc.RedeemInviteCode("dev1", code.Code)
	require.NoError(s.T(), err)

	_, err = s.svc.CreateInviteCode("dev1", time.Hour)
	assert.ErrorIs(s.T(), err, ErrForbidden)
}

func (s *ServiceSuite) TestCreateInviteByAllowlistedGodWithoutOnboarding() {
	code, err := s.svc.CreateInviteCode("g1", 2*time.Hour)
	require.NoError(s.T(), err)

	assert.Regexp(s.T(), codePattern, code.Code)
	assert.Equal(s.T(), schema.RoleDev, code.RoleGrant)
	assert.Equal(s.T(), "g1", code.CreatedByExternalID)
	assert.Equal(s.T(), s.clock.Now(), code.CreatedAt)
	assert.Equal(s.T(), s.clock.Now().Add(2*time.Hour), code.ExpiresAt)
	assert.Nil(s.T(), code.UsedAt)

	stored, ok, err := s.svc.InviteCode(code.Code)
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	assert.Equal(s.T(), code, stored)
}

func (s *ServiceSuite) TestCreateInviteByStoredGod() {
	_, err := s.svc.Onboard("g1", "", "")
	require.NoError(s.T(), err)

	// A fresh service without the allowlist still sees the stored god role.
	other := NewService(NewPersistence(s.path), nil, WithClock(s.clock.Now))
	_, err = other.CreateInviteCode("g1", time.Hour)
	assert.NoError(s.T(), err)
}

func (s *ServiceSuite) TestRedeemOnce() {
	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)

	u, err := s.svc.RedeemInviteCode("u1", code.Code)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleDev, u.Role)

	stored, _, err := s.svc.InviteCode(code.Code)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), stored.UsedAt)
	assert.Equal(s.T(), s.clock.Now(), *stored.UsedAt)
	assert.Equal(s.T(), "u1", stored.UsedByExternalID)

	_, err = s.svc.RedeemInviteCode("u2", code.Code)
	assert.ErrorIs(s.T(), err, ErrCodeAlreadyUsed)
	assert.Equal(s.T(), schema.RoleLite, s.svc.RoleOf("u2"))

	assert.Equal(s.T(), 1.0, testutil.ToFloat64(s.metrics.InviteRedeems.WithLabelValues("ok")))
	assert.Equal(s.T(), 1.0, testutil.ToFloat64(s.metrics.InviteRedeems.WithLabelValues(string(CodeAlreadyUsed))))
}

func (s *ServiceSuite) TestRedeemNormalizesCode() {
	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)

	_, err = s.svc.RedeemInviteCode("u1", fmt.Sprintf("  %s ", strings.ToLower(code.Code)))
	assert.NoError(s.T(), err)
}

func (s *ServiceSuite) TestRedeemUnknownCode() {
	_, err := s.svc.RedeemInviteCode("u1", "DEV-NOPE2345")
	assert.ErrorIs(s.T(), err, ErrInvalidCode)
	assert.NotErrorIs(s.T(), err, ErrCodeExpired)
}

func (s *ServiceSuite) TestRedeemZeroTTLIsExpired() {
	code, err := s.svc.CreateInviteCode("g1", 0)
	require.NoError(s.T(), err)

	_, err = s.svc.RedeemInviteCode("u1", code.Code)
	assert.ErrorIs(s.T(), err, ErrCodeExpired)

	stored, _, err := s.svc.InviteCode(code.Code)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), stored.UsedAt, "a rejected code stays unredeemed")
}

func (s *ServiceSuite) TestRedeemExpiryBoundary() {
	early, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)
	late, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)

	s.clock.Advance(time.Hour - time.Nanosecond)
	_, err = s.svc.RedeemInviteCode("u1", early.Code)
	assert.NoError(s.T(), err, "one nanosecond before expiry is still valid")

	s.clock.Advance(time.Nanosecond)
	_, err = s.svc.RedeemInviteCode("u2", late.Code)
	assert.ErrorIs(s.T(), err, ErrCodeExpired, "the expiry instant itself is expired")
}

func (s *ServiceSuite) TestRedeemByPrivilegedStaysGod() {
	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)

	u, err := s.svc.RedeemInviteCode("root", code.Code)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleGod, u.Role)
}

func (s *ServiceSuite) TestRedeemByFormerGodGrantsDev() {
	_, err := s.svc.Onboard("g1", "", "")
	require.NoError(s.T(), err)

	// g1 is no longer allowlisted; its stored god role does not survive a redemption.
	other := NewService(NewPersistence(s.path), []string{"root"}, WithClock(s.clock.Now))
	code, err := other.CreateInviteCode("root", time.Hour)
	require.NoError(s.T(), err)

	u, err := other.RedeemInviteCode("g1", code.Code)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleDev, u.Role)
	assert.Equal(s.T(), schema.RoleDev, other.RoleOf("g1"))
}

func (s *ServiceSuite) TestRedeemPreservesProfile() {
	onboarded, err := s.svc.Onboard("u1", "Ana", "telegram")
	require.NoError(s.T(), err)
	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)

	s.clock.Advance(time.Minute)
	u, err := s.svc.RedeemInviteCode("u1", code.Code)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "Ana", u.Name)
	assert.Equal(s.T(), "telegram", u.Origin)
	assert.Equal(s.T(), onboarded.CreatedAt, u.CreatedAt)
	assert.Equal(s.T(), s.clock.Now(), u.UpdatedAt)
}

func (s *ServiceSuite) TestScenarioOnboardInviteRedeemReonboard() {
	u, err := s.svc.Onboard("u1", "", "")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleLite, u.Role)

	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)
	assert.Regexp(s.T(), codePattern, code.Code)

	u, err = s.svc.RedeemInviteCode("u1", code.Code)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleDev, u.Role)

	stored, _, err := s.svc.InviteCode(code.Code)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "u1", stored.UsedByExternalID)

	u, err = s.svc.Onboard("u1", "Ana", "")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleDev, u.Role, "re-onboarding keeps the elevated role")
}

func (s *ServiceSuite) TestReloadReproducesStore() {
	_, err := s.svc.Onboard("u1", "Ana", "telegram")
	require.NoError(s.T(), err)
	used, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)
	open, err := s.svc.CreateInviteCode("g1", 3*time.Hour)
	require.NoError(s.T(), err)
	_, err = s.svc.RedeemInviteCode("u1", used.Code)
	require.NoError(s.T(), err)

	reloaded := s.newService()
	require.NoError(s.T(), reloaded.Load())

	s.svc.mu.Lock()
	want := s.svc.doc.Clone()
	s.svc.mu.Unlock()
	reloaded.mu.Lock()
	got := reloaded.doc.Clone()
	reloaded.mu.Unlock()

	assert.Equal(s.T(), want, got)
	assert.Equal(s.T(), "u1", got.InviteCodes[used.Code].UsedByExternalID)
	assert.NotNil(s.T(), got.InviteCodes[used.Code].UsedAt)
	assert.Nil(s.T(), got.InviteCodes[open.Code].UsedAt)
	assert.Equal(s.T(), schema.RoleDev, reloaded.RoleOf("u1"))
}

func (s *ServiceSuite) TestPersistenceFailureLeavesStateUnchanged() {
	require.NoError(s.T(), s.svc.Load())
	// A directory in place of the temporary file makes every write fail.
	require.NoError(s.T(), os.Mkdir(s.path+".tmp", 0o755))

	_, err := s.svc.Onboard("u1", "Ana", "")
	assert.ErrorIs(s.T(), err, ErrPersistenceFailure)
	_, ok, err := s.svc.User("u1")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)

	_, err = s.svc.CreateInviteCode("g1", time.Hour)
	assert.ErrorIs(s.T(), err, ErrPersistenceFailure)
	assert.Equal(s.T(), 2.0, testutil.ToFloat64(s.metrics.PersistFailures))

	require.NoError(s.T(), os.Remove(s.path+".tmp"))
	_, err = s.svc.Onboard("u1", "Ana", "")
	assert.NoError(s.T(), err)
}

func (s *ServiceSuite) TestRedeemPersistenceFailureKeepsCodeRedeemable() {
	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)
	require.NoError(s.T(), os.Mkdir(s.path+".tmp", 0o755))

	_, err = s.svc.RedeemInviteCode("u1", code.Code)
	assert.ErrorIs(s.T(), err, ErrPersistenceFailure)
	assert.Equal(s.T(), schema.RoleLite, s.svc.RoleOf("u1"))

	require.NoError(s.T(), os.Remove(s.path+".tmp"))
	u, err := s.svc.RedeemInviteCode("u1", code.Code)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), schema.RoleDev, u.Role)
}

func (s *ServiceSuite) TestCodeGenerationExhausted() {
	svc := s.newService(WithRandom(zeroReader{}))

	first, err := svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "DEV-AAAAAAAA", first.Code)

	_, err = svc.CreateInviteCode("g1", time.Hour)
	assert.ErrorIs(s.T(), err, ErrCodeGenExhausted)

	stored, ok, err := svc.InviteCode(first.Code)
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	assert.Equal(s.T(), first, stored, "an existing code is never overwritten")
}

func (s *ServiceSuite) TestConcurrentMutationsAreNotLost() {
	const n = 20
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := s.svc.Onboard(fmt.Sprintf("u%d", i), "user", "")
			assert.NoError(s.T(), err)
		}(i)
		go func() {
			defer wg.Done()
			c, err := s.svc.CreateInviteCode("g1", time.Hour)
			assert.NoError(s.T(), err)
			codes <- c.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		assert.False(s.T(), seen[c], "duplicate code %s", c)
		seen[c] = true
	}

	reloaded := s.newService()
	require.NoError(s.T(), reloaded.Load())
	assert.Len(s.T(), reloaded.doc.Users, n)
	assert.Len(s.T(), reloaded.doc.InviteCodes, n)
}

func (s *ServiceSuite) TestCheckAction() {
	code, err := s.svc.CreateInviteCode("g1", time.Hour)
	require.NoError(s.T(), err)
	_, err = s.svc.RedeemInviteCode("dev1", code.Code)
	require.NoError(s.T(), err)

	cases := []struct {
		id, action string
		allowed    bool
		role       schema.Role
	}{
		{"lite1", "video.pipeline.run", false, schema.RoleLite},
		{"dev1", "video.pipeline.run", true, schema.RoleDev},
		{"g1", "video.pipeline.run", true, schema.RoleGod},
		{"lite1", "chat.qa.public", true, schema.RoleLite},
		{"dev1", "chat.qa.public", true, schema.RoleDev},
		{"g1", "chat.qa.public", true, schema.RoleGod},
		{"dev1", "system.shutdown", false, schema.RoleDev},
		{"g1", "system.shutdown", true, schema.RoleGod},
		{"dev1", " n8n.workflows.list ", true, schema.RoleDev},
	}
	for _, c := range cases {
		d := s.svc.CheckAction(c.id, c.action)
		assert.Equal(s.T(), c.allowed, d.Allowed, "%s %s", c.id, c.action)
		assert.Equal(s.T(), c.role, d.Role, "%s %s", c.id, c.action)
	}
}

func TestPolicyHierarchy(t *testing.T) {
	for _, a := range Actions(schema.RoleLite) {
		assert.True(t, Allows(schema.RoleDev, a), "dev must allow lite action %s", a)
		assert.True(t, Allows(schema.RoleGod, a))
	}
	for _, a := range Actions(schema.RoleDev) {
		assert.True(t, Allows(schema.RoleGod, a), "god must allow dev action %s", a)
	}
	assert.Greater(t, len(Actions(schema.RoleDev)), len(Actions(schema.RoleLite)))
	assert.Nil(t, Actions(schema.RoleGod))
	assert.False(t, Allows("", "chat.qa.public"))
}

func TestErrorsMatchByCode(t *testing.T) {
	wrapped := fmt.Errorf("redeem: %w", ErrCodeExpired)
	assert.ErrorIs(t, wrapped, ErrCodeExpired)
	assert.NotErrorIs(t, wrapped, ErrInvalidCode)

	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeExpired, code)
	assert.Equal(t, ErrCodeExpired, FromCode(code))
	assert.Nil(t, FromCode("nope"))

	assert.ErrorIs(t, persistenceError("write", os.ErrPermission), ErrPersistenceFailure)
	assert.ErrorIs(t, persistenceError("write", os.ErrPermission), os.ErrPermission)
	assert.Equal(t, "code_expired: invite code has expired", ErrCodeExpired.Error())
}
