// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/commonsforum/commons/internal/auth"
)

// testingT is satisfied by *testing.T and GinkgoT so the helpers serve both
// the unit tests and the scenario suite.
type testingT interface {
	require.TestingT
	Helper()
}

// memStore backs every fake repository. fakeTx snapshots it on begin and
// restores the snapshot when the transaction body fails.
type memStore struct {
	mu       sync.Mutex
	users    map[ulid.ULID]auth.User
	sessions map[auth.SessionID]auth.Session
	tokens   map[ulid.ULID]auth.EphemeralToken
	invites  map[ulid.ULID]auth.InviteCode
	subs     map[ulid.ULID]auth.Subcommunity
	members  map[[2]ulid.ULID]time.Time

	// failures maps an operation name such as "sessions.Rotate" to the
	// error it returns.
	failures map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[ulid.ULID]auth.User{},
		sessions: map[auth.SessionID]auth.Session{},
		tokens:   map[ulid.ULID]auth.EphemeralToken{},
		invites:  map[ulid.ULID]auth.InviteCode{},
		subs:     map[ulid.ULID]auth.Subcommunity{},
		members:  map[[2]ulid.ULID]time.Time{},
		failures: map[string]error{},
	}
}

func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// injected must be called with mu held.
func (s *memStore) injected(op string) error {
	return s.failures[op]
}

type memSnapshot struct {
	users    map[ulid.ULID]auth.User
	sessions map[auth.SessionID]auth.Session
	tokens   map[ulid.ULID]auth.EphemeralToken
	invites  map[ulid.ULID]auth.InviteCode
	members  map[[2]ulid.ULID]time.Time
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		users:    maps.Clone(s.users),
		sessions: maps.Clone(s.sessions),
		tokens:   maps.Clone(s.tokens),
		invites:  maps.Clone(s.invites),
		members:  maps.Clone(s.members),
	}
	for id, inv := range snap.invites {
		if inv.UsesRemaining != nil {
			n := *inv.UsesRemaining
			inv.UsesRemaining = &n
			snap.invites[id] = inv
		}
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.sessions = snap.sessions
	s.tokens = snap.tokens
	s.invites = snap.invites
	s.members = snap.members
}

// user returns a copy of the stored user for assertions.
func (s *memStore) user(t testingT, email string) auth.User {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u
		}
	}
	require.Failf(t, "missing user", "no user with email %q", email)
	return auth.User{}
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) sessionsFor(userID ulid.ULID) []auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) tokensFor(kind auth.TokenKind, userID ulid.ULID) []auth.EphemeralToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.EphemeralToken
	for _, tok := range s.tokens {
		if tok.Kind == kind && tok.UserID == userID {
			out = append(out, tok)
		}
	}
	return out
}

func (s *memStore) isMember(userID, subID ulid.ULID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[[2]ulid.ULID{userID, subID}]
	return ok
}

func (s *memStore) invite(id ulid.ULID) auth.InviteCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invites[id]
}

func (s *memStore) addSubcommunity(name string) auth.Subcommunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := auth.Subcommunity{ID: ulid.Make(), Name: name, Slug: name}
	s.subs[sub.ID] = sub
	return sub
}

func (s *memStore) addInvite(inv auth.InviteCode) auth.InviteCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID.Compare(ulid.ULID{}) == 0 {
		inv.ID = ulid.Make()
	}
	s.invites[inv.ID] = inv
	return inv
}

func (s *memStore) putUser(u auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// fakeUsers implements auth.UserRepository.
type fakeUsers struct{ *memStore }

func (f fakeUsers) Create(_ context.Context, user *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("users.Create"); err != nil {
		return err
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return auth.ErrDuplicate
		}
	}
	f.users[user.ID] = *user
	return nil
}

func (f fakeUsers) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("users.GetByEmail"); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f fakeUsers) Update(_ context.Context, user *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("users.Update"); err != nil {
		return err
	}
	if _, ok := f.users[user.ID]; !ok {
		return auth.ErrNotFound
	}
	f.users[user.ID] = *user
	return nil
}

func (f fakeUsers) modify(op string, id ulid.ULID, fn func(u *auth.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected(op); err != nil {
		return err
	}
	u, ok := f.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(&u)
	f.users[id] = u
	return nil
}

func (f fakeUsers) UpdatePassword(_ context.Context, id ulid.ULID, hash string, at time.Time) error {
	return f.modify("users.UpdatePassword", id, func(u *auth.User) {
		u.PasswordHash = hash
		u.UpdatedAt = at
	})
}

func (f fakeUsers) MarkVerified(_ context.Context, id ulid.ULID, at time.Time) error {
	return f.modify("users.MarkVerified", id, func(u *auth.User) {
		u.EmailVerifiedAt = &at
		u.UpdatedAt = at
	})
}

func (f fakeUsers) SetStatus(_ context.Context, id ulid.ULID, status auth.Status, at time.Time) error {
	return f.modify("users.SetStatus", id, func(u *auth.User) {
		u.Status = status
		u.UpdatedAt = at
	})
}

// fakeSessions implements auth.SessionRepository.
type fakeSessions struct{ *memStore }

func (f fakeSessions) Create(_ context.Context, session *auth.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("sessions.Create"); err != nil {
		return err
	}
	f.sessions[session.ID] = *session
	return nil
}

func (f fakeSessions) GetByID(_ context.Context, id auth.SessionID) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &s, nil
}

func (f fakeSessions) Rotate(_ context.Context, id auth.SessionID, expectedHash string, p auth.RotateParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("sessions.Rotate"); err != nil {
		return err
	}
	s, ok := f.sessions[id]
	if !ok || s.TokenHash != expectedHash || s.RevokedAt != nil {
		return auth.ErrNotFound
	}
	s.TokenHash = p.TokenHash
	s.UserAgent = p.Meta.UserAgent
	s.IPAddress = p.Meta.IPAddress
	s.ExpiresAt = p.ExpiresAt
	s.UpdatedAt = p.At
	f.sessions[id] = s
	return nil
}

func (f fakeSessions) Revoke(_ context.Context, id auth.SessionID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	s.UpdatedAt = at
	f.sessions[id] = s
	return nil
}

func (f fakeSessions) RevokeAllForUser(_ context.Context, userID ulid.ULID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("sessions.RevokeAllForUser"); err != nil {
		return 0, err
	}
	var n int64
	for id, s := range f.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &at
			s.UpdatedAt = at
			f.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (f fakeSessions) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("sessions.DeleteExpired"); err != nil {
		return 0, err
	}
	var n int64
	for id, s := range f.sessions {
		if s.ExpiresAt.Before(before) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

// fakeTokens implements auth.EphemeralTokenRepository.
type fakeTokens struct{ *memStore }

func (f fakeTokens) Create(_ context.Context, token *auth.EphemeralToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("tokens.Create"); err != nil {
		return err
	}
	f.tokens[token.ID] = *token
	return nil
}

func (f fakeTokens) DeleteForUser(_ context.Context, kind auth.TokenKind, userID ulid.ULID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, tok := range f.tokens {
		if tok.Kind == kind && tok.UserID == userID {
			delete(f.tokens, id)
		}
	}
	return nil
}

func (f fakeTokens) find(match func(auth.EphemeralToken) bool, now time.Time) (*auth.EphemeralToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *auth.EphemeralToken
	for _, tok := range f.tokens {
		if !match(tok) || !tok.ActiveAt(now) {
			continue
		}
		if best == nil || tok.CreatedAt.After(best.CreatedAt) {
			found := tok
			best = &found
		}
	}
	if best == nil {
		return nil, auth.ErrNotFound
	}
	return best, nil
}

func (f fakeTokens) FindActiveForUser(_ context.Context, kind auth.TokenKind, userID ulid.ULID, now time.Time) (*auth.EphemeralToken, error) {
	return f.find(func(t auth.EphemeralToken) bool { return t.Kind == kind && t.UserID == userID }, now)
}

func (f fakeTokens) FindActiveByValue(_ context.Context, kind auth.TokenKind, value string, now time.Time) (*auth.EphemeralToken, error) {
	return f.find(func(t auth.EphemeralToken) bool { return t.Kind == kind && t.Value == value }, now)
}

func (f fakeTokens) MarkUsed(_ context.Context, id ulid.ULID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok || tok.UsedAt != nil {
		return auth.ErrNotFound
	}
	tok.UsedAt = &at
	f.tokens[id] = tok
	return nil
}

func (f fakeTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, tok := range f.tokens {
		if tok.UsedAt == nil && tok.ExpiresAt.Before(before) {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

// fakeInvites implements auth.InviteRepository.
type fakeInvites struct{ *memStore }

func (f fakeInvites) GetByCode(_ context.Context, code string) (*auth.InviteCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invites {
		if inv.Code == code {
			return copyInvite(inv), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f fakeInvites) GetByCodeForUpdate(ctx context.Context, code string) (*auth.InviteCode, error) {
	return f.GetByCode(ctx, code)
}

func (f fakeInvites) DecrementUses(_ context.Context, id ulid.ULID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invites[id]
	if !ok || inv.UsesRemaining == nil || *inv.UsesRemaining <= 0 {
		return auth.ErrNotFound
	}
	n := *inv.UsesRemaining - 1
	inv.UsesRemaining = &n
	f.invites[id] = inv
	return nil
}

func (f fakeInvites) AddMembership(_ context.Context, userID, subID ulid.ULID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]ulid.ULID{userID, subID}
	if _, ok := f.members[key]; ok {
		return false, nil
	}
	f.members[key] = at
	return true, nil
}

func (f fakeInvites) Create(_ context.Context, invite *auth.InviteCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invites {
		if inv.Code == invite.Code {
			return auth.ErrDuplicate
		}
	}
	f.invites[invite.ID] = *copyInvite(*invite)
	return nil
}

func (f fakeInvites) GetSubcommunity(_ context.Context, id ulid.ULID) (*auth.Subcommunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &sub, nil
}

func copyInvite(inv auth.InviteCode) *auth.InviteCode {
	if inv.UsesRemaining != nil {
		n := *inv.UsesRemaining
		inv.UsesRemaining = &n
	}
	return &inv
}

type fakeTxKey struct{}

// fakeTx serializes transactions and rolls the store back on error.
type fakeTx struct {
	store *memStore
	mu    sync.Mutex

	commits int
}

func (f *fakeTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.store.snapshot()
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		f.store.restore(snap)
		return err
	}
	f.commits++
	return nil
}

// fakeMailer records the last code and token mailed to each address.
type fakeMailer struct {
	mu     sync.Mutex
	codes  map[string][]string
	resets map[string][]string
	err    error
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{codes: map[string][]string{}, resets: map[string][]string{}}
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.codes[email] = append(m.codes[email], code)
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.resets[email] = append(m.resets[email], token)
	return nil
}

func (m *fakeMailer) lastCode(t testingT, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sent := m.codes[email]
	require.NotEmpty(t, sent, "no verification email sent to %s", email)
	return sent[len(sent)-1]
}

func (m *fakeMailer) lastReset(t testingT, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sent := m.resets[email]
	require.NotEmpty(t, sent, "no reset email sent to %s", email)
	return sent[len(sent)-1]
}

func (m *fakeMailer) count(email string) (codes, resets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes[email]), len(m.resets[email])
}

func (m *fakeMailer) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// fakeEvents records "event:outcome" pairs.
type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *fakeEvents) RecordAuthEvent(event, outcome string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event+":"+outcome)
}

func (e *fakeEvents) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// fakeClock is a settable clock.
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

// harness wires a Service to in-memory collaborators.
type harness struct {
	svc    *auth.Service
	store  *memStore
	tx     *fakeTx
	mail   *fakeMailer
	events *fakeEvents
	clock  *fakeClock
	hasher auth.PasswordHasher
	logs   *bytes.Buffer
}

const (
	testPassword = "correct horse battery"
	accessTTL    = 15 * time.Minute
	refreshTTL   = 7 * 24 * time.Hour
)

func testTokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Issuer:        "commons-test",
		AccessSecret:  "access-secret-for-tests-0123456789",
		AccessTTL:     accessTTL,
		RefreshSecret: "refresh-secret-for-tests-9876543210",
		RefreshTTL:    refreshTTL,
	}
}

// newHarness builds a Service with the RequireCode policy unless one is given.
func newHarness(t testingT, policy ...auth.VerificationPolicy) *harness {
	t.Helper()

	store := newMemStore()
	h := &harness{
		store:  store,
		tx:     &fakeTx{store: store},
		mail:   newFakeMailer(),
		events: &fakeEvents{},
		clock:  &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		hasher: auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1}),
		logs:   &bytes.Buffer{},
	}

	cfg := auth.Config{Tokens: testTokenConfig()}
	if len(policy) > 0 {
		cfg.Policy = policy[0]
	}

	svc, err := auth.NewService(auth.Dependencies{
		Users:      fakeUsers{store},
		Sessions:   fakeSessions{store},
		Tokens:     fakeTokens{store},
		Invites:    fakeInvites{store},
		Transactor: h.tx,
		Hasher:     h.hasher,
		Mailer:     h.mail,
		Events:     h.events,
		Clock:      h.clock.Now,
	}, cfg, slog.New(slog.NewTextHandler(h.logs, nil)))
	require.NoError(t, err)
	h.svc = svc
	return h
}

// register runs a plain registration and returns the mailed code.
func (h *harness) register(t testingT, email string) string {
	t.Helper()
	_, err := h.svc.Register(context.Background(), auth.RegisterInput{
		Email:       email,
		DisplayName: "Test User",
		Password:    testPassword,
	})
	require.NoError(t, err)
	return h.mail.lastCode(t, auth.NormalizeEmail(email))
}

// verifiedUser registers and verifies an account.
func (h *harness) verifiedUser(t testingT, email string) auth.User {
	t.Helper()
	code := h.register(t, email)
	_, err := h.svc.VerifyEmail(context.Background(), email, code)
	require.NoError(t, err)
	return h.store.user(t, auth.NormalizeEmail(email))
}

// admin creates a verified ADMIN account.
func (h *harness) admin(t testingT, email string) auth.User {
	t.Helper()
	u := h.verifiedUser(t, email)
	u.Role = auth.RoleAdmin
	h.store.putUser(u)
	return u
}

// login logs in with the test password.
func (h *harness) login(t testingT, email string) *auth.AuthResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), email, testPassword, auth.ClientMeta{UserAgent: "test"})
	require.NoError(t, err)
	return res
}
