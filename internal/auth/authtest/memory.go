// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package authtest provides an in-memory implementation of the auth
// repositories and Transactor for tests.
//
// Transactions are serialized and roll back by restoring a snapshot taken at
// begin. Writes made outside a transaction while another transaction is in
// flight are lost if that transaction rolls back; tests that need strict
// isolation should route all writes through InTransaction.
package authtest

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hoanhao/authservice/internal/auth"
)

type txKey struct{}

type state struct {
	users     map[ulid.ULID]auth.User
	emails    map[ulid.ULID]auth.UserEmail
	phones    map[ulid.ULID]auth.UserPhoneNumber
	roles     map[ulid.ULID]auth.Role
	userRoles map[ulid.ULID]map[ulid.ULID]time.Time
	sessions  map[ulid.ULID]auth.Session
	resets    map[ulid.ULID]auth.PasswordResetToken
	attempts  []auth.LoginAttempt
}

func (s *state) clone() *state {
	userRoles := make(map[ulid.ULID]map[ulid.ULID]time.Time, len(s.userRoles))
	for k, v := range s.userRoles {
		userRoles[k] = maps.Clone(v)
	}
	return &state{
		users:     maps.Clone(s.users),
		emails:    maps.Clone(s.emails),
		phones:    maps.Clone(s.phones),
		roles:     maps.Clone(s.roles),
		userRoles: userRoles,
		sessions:  maps.Clone(s.sessions),
		resets:    maps.Clone(s.resets),
		attempts:  append([]auth.LoginAttempt(nil), s.attempts...),
	}
}

// Store is an in-memory database implementing every auth repository.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *state

	failures map[string]error
	txCount  int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		data: &state{
			users:     make(map[ulid.ULID]auth.User),
			emails:    make(map[ulid.ULID]auth.UserEmail),
			phones:    make(map[ulid.ULID]auth.UserPhoneNumber),
			roles:     make(map[ulid.ULID]auth.Role),
			userRoles: make(map[ulid.ULID]map[ulid.ULID]time.Time),
			sessions:  make(map[ulid.ULID]auth.Session),
			resets:    make(map[ulid.ULID]auth.PasswordResetToken),
		},
		failures: make(map[string]error),
	}
}

// Fail makes the named operation (e.g. "sessions.Create") return err until
// Fail is called again with a nil error.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// InTransaction runs fn serialized against other transactions and restores
// the prior state if fn fails. Nested calls join the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if err := s.failures["tx.Begin"]; err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.data.clone()
	s.txCount++
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Transactions returns how many top-level transactions have begun.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// Users returns the user repository view of the store.
func (s *Store) Users() auth.UserRepository { return (*userRepo)(s) }

// Contacts returns the contact repository view of the store.
func (s *Store) Contacts() auth.ContactRepository { return (*contactRepo)(s) }

// Roles returns the role repository view of the store.
func (s *Store) Roles() auth.RoleRepository { return (*roleRepo)(s) }

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() auth.SessionRepository { return (*sessionRepo)(s) }

// Resets returns the password reset repository view of the store.
func (s *Store) Resets() auth.PasswordResetRepository { return (*resetRepo)(s) }

// Attempts returns the login attempt repository view of the store.
func (s *Store) Attempts() auth.LoginAttemptRepository { return (*attemptRepo)(s) }

// SeedRole inserts a role and returns it.
func (s *Store) SeedRole(name string) auth.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	role := auth.Role{ID: ulid.Make(), Name: name, CreatedAt: time.Now()}
	s.data.roles[role.ID] = role
	return role
}

// UserCount returns the number of stored users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.users)
}

// EmailsFor returns the emails owned by a user.
func (s *Store) EmailsFor(userID ulid.ULID) []auth.UserEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.UserEmail
	for _, e := range s.data.emails {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// PhonesFor returns the phone numbers owned by a user.
func (s *Store) PhonesFor(userID ulid.ULID) []auth.UserPhoneNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.UserPhoneNumber
	for _, p := range s.data.phones {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

// SessionsFor returns every session owned by a user, oldest first.
func (s *Store) SessionsFor(userID ulid.ULID) []auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Session
	for _, sess := range s.data.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.sessions)
}

// PutSession stores a session as-is.
func (s *Store) PutSession(sess auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sessions[sess.ID] = sess
}

// ResetsFor returns the reset tokens owned by a user.
func (s *Store) ResetsFor(userID ulid.ULID) []auth.PasswordResetToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PasswordResetToken
	for _, r := range s.data.resets {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// LoginAttempts returns the recorded login attempts in insertion order.
func (s *Store) LoginAttempts() []auth.LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.LoginAttempt(nil), s.data.attempts...)
}

type userRepo Store

func (r *userRepo) Create(_ context.Context, user *auth.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["users.Create"]; err != nil {
		return err
	}
	if user.Username != nil {
		for _, u := range s.data.users {
			if u.Username != nil && *u.Username == *user.Username {
				return oops.Code("USER_DUPLICATE").With("username", *user.Username).Wrap(auth.ErrDuplicate)
			}
		}
	}
	s.data.users[user.ID] = *user
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["users.GetByID"]; err != nil {
		return nil, err
	}
	u, ok := s.data.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &u, nil
}

func (r *userRepo) GetByIdentifier(_ context.Context, identifier string) (*auth.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["users.GetByIdentifier"]; err != nil {
		return nil, err
	}

	for _, u := range s.data.users {
		if u.Username != nil && *u.Username == identifier {
			return &u, nil
		}
	}

	var candidates []ulid.ULID
	for _, e := range s.data.emails {
		if e.Email == identifier {
			candidates = append(candidates, e.UserID)
		}
	}
	for _, p := range s.data.phones {
		if p.PhoneNumber == identifier || p.CountryCode+p.PhoneNumber == identifier {
			candidates = append(candidates, p.UserID)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Compare(candidates[j]) < 0 })
	for _, id := range candidates {
		if u, ok := s.data.users[id]; ok {
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *userRepo) UsernameExists(_ context.Context, username string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["users.UsernameExists"]; err != nil {
		return false, err
	}
	for _, u := range s.data.users {
		if u.Username != nil && *u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *userRepo) update(op string, id ulid.ULID, fn func(u *auth.User)) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[op]; err != nil {
		return err
	}
	u, ok := s.data.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	fn(&u)
	s.data.users[id] = u
	return nil
}

func (r *userRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	return r.update("users.UpdatePassword", id, func(u *auth.User) {
		u.PasswordHash = passwordHash
		u.UpdatedAt = at
	})
}

func (r *userRepo) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.update("users.UpdateLastLogin", id, func(u *auth.User) {
		u.LastLoginAt = &at
	})
}

func (r *userRepo) SetActive(_ context.Context, id ulid.ULID, active bool, at time.Time) error {
	return r.update("users.SetActive", id, func(u *auth.User) {
		u.Active = active
		u.UpdatedAt = at
	})
}

func (r *userRepo) Delete(_ context.Context, id ulid.ULID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["users.Delete"]; err != nil {
		return err
	}
	if _, ok := s.data.users[id]; !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(s.data.users, id)
	delete(s.data.userRoles, id)
	maps.DeleteFunc(s.data.emails, func(_ ulid.ULID, e auth.UserEmail) bool { return e.UserID == id })
	maps.DeleteFunc(s.data.phones, func(_ ulid.ULID, p auth.UserPhoneNumber) bool { return p.UserID == id })
	maps.DeleteFunc(s.data.sessions, func(_ ulid.ULID, sess auth.Session) bool { return sess.UserID == id })
	maps.DeleteFunc(s.data.resets, func(_ ulid.ULID, r auth.PasswordResetToken) bool { return r.UserID == id })
	for i := range s.data.attempts {
		if a := s.data.attempts[i].UserID; a != nil && *a == id {
			s.data.attempts[i].UserID = nil
		}
	}
	return nil
}

type contactRepo Store

func (r *contactRepo) CreateEmail(_ context.Context, email *auth.UserEmail) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["contacts.CreateEmail"]; err != nil {
		return err
	}
	for _, e := range s.data.emails {
		if e.UserID == email.UserID && e.Email == email.Email {
			return oops.Code("EMAIL_DUPLICATE").Wrap(auth.ErrDuplicate)
		}
	}
	s.data.emails[email.ID] = *email
	return nil
}

func (r *contactRepo) PrimaryEmail(_ context.Context, userID ulid.ULID) (*auth.UserEmail, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["contacts.PrimaryEmail"]; err != nil {
		return nil, err
	}
	var best *auth.UserEmail
	for _, e := range s.data.emails {
		if e.UserID != userID {
			continue
		}
		if best == nil ||
			(e.Primary && !best.Primary) ||
			(e.Primary == best.Primary && e.ID.Compare(best.ID) < 0) {
			candidate := e
			best = &candidate
		}
	}
	if best == nil {
		return nil, oops.Code("EMAIL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return best, nil
}

func (r *contactRepo) CreatePhone(_ context.Context, phone *auth.UserPhoneNumber) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["contacts.CreatePhone"]; err != nil {
		return err
	}
	for _, p := range s.data.phones {
		if p.CountryCode == phone.CountryCode && p.PhoneNumber == phone.PhoneNumber {
			return oops.Code("PHONE_DUPLICATE").Wrap(auth.ErrDuplicate)
		}
	}
	s.data.phones[phone.ID] = *phone
	return nil
}

func (r *contactRepo) PhoneExists(_ context.Context, countryCode, phoneNumber string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["contacts.PhoneExists"]; err != nil {
		return false, err
	}
	for _, p := range s.data.phones {
		if p.CountryCode == countryCode && p.PhoneNumber == phoneNumber {
			return true, nil
		}
	}
	return false, nil
}

type roleRepo Store

func (r *roleRepo) GetByName(_ context.Context, name string) (*auth.Role, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["roles.GetByName"]; err != nil {
		return nil, err
	}
	for _, role := range s.data.roles {
		if role.Name == name {
			return &role, nil
		}
	}
	return nil, oops.Code("ROLE_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
}

func (r *roleRepo) Create(_ context.Context, role *auth.Role) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["roles.Create"]; err != nil {
		return err
	}
	for _, existing := range s.data.roles {
		if existing.Name == role.Name {
			return oops.Code("ROLE_DUPLICATE").With("name", role.Name).Wrap(auth.ErrDuplicate)
		}
	}
	s.data.roles[role.ID] = *role
	return nil
}

func (r *roleRepo) Assign(_ context.Context, userID, roleID ulid.ULID, at time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["roles.Assign"]; err != nil {
		return err
	}
	if _, ok := s.data.users[userID]; !ok {
		return oops.Code("USER_NOT_FOUND").With("id", userID.String()).Wrap(auth.ErrNotFound)
	}
	if _, ok := s.data.roles[roleID]; !ok {
		return oops.Code("ROLE_NOT_FOUND").With("id", roleID.String()).Wrap(auth.ErrNotFound)
	}
	if s.data.userRoles[userID] == nil {
		s.data.userRoles[userID] = make(map[ulid.ULID]time.Time)
	}
	s.data.userRoles[userID][roleID] = at
	return nil
}

func (r *roleRepo) NamesForUser(_ context.Context, userID ulid.ULID) ([]string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["roles.NamesForUser"]; err != nil {
		return nil, err
	}
	var names []string
	for roleID := range s.data.userRoles[userID] {
		names = append(names, s.data.roles[roleID].Name)
	}
	sort.Strings(names)
	return names, nil
}

type sessionRepo Store

func (r *sessionRepo) Create(_ context.Context, session *auth.Session) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["sessions.Create"]; err != nil {
		return err
	}
	for _, existing := range s.data.sessions {
		if existing.RefreshTokenHash == session.RefreshTokenHash {
			return oops.Code("SESSION_DUPLICATE").Wrap(auth.ErrDuplicate)
		}
	}
	if _, ok := s.data.users[session.UserID]; !ok {
		return oops.Code("SESSION_CREATE_FAILED").With("user_id", session.UserID.String()).Errorf("foreign key violation")
	}
	s.data.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepo) GetByRefreshTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["sessions.GetByRefreshTokenHash"]; err != nil {
		return nil, err
	}
	for _, sess := range s.data.sessions {
		if sess.RefreshTokenHash == tokenHash {
			return &sess, nil
		}
	}
	return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *sessionRepo) Revoke(_ context.Context, id ulid.ULID, at time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["sessions.Revoke"]; err != nil {
		return false, err
	}
	sess, ok := s.data.sessions[id]
	if !ok {
		return false, oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if sess.RevokedAt != nil {
		return false, nil
	}
	sess.RevokedAt = &at
	s.data.sessions[id] = sess
	return true, nil
}

func (r *sessionRepo) RevokeAllForUser(_ context.Context, userID ulid.ULID, at time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["sessions.RevokeAllForUser"]; err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range s.data.sessions {
		if sess.UserID == userID && sess.IsActiveAt(at) {
			sess.RevokedAt = &at
			s.data.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) ListActiveForUser(_ context.Context, userID ulid.ULID, now time.Time) ([]*auth.Session, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["sessions.ListActiveForUser"]; err != nil {
		return nil, err
	}
	var out []*auth.Session
	for _, sess := range s.data.sessions {
		if sess.UserID == userID && sess.IsActiveAt(now) {
			candidate := sess
			out = append(out, &candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *sessionRepo) PurgeInactiveBefore(_ context.Context, threshold time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["sessions.PurgeInactiveBefore"]; err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range s.data.sessions {
		if (sess.RevokedAt != nil && sess.RevokedAt.Before(threshold)) || sess.ExpiresAt.Before(threshold) {
			delete(s.data.sessions, id)
			n++
		}
	}
	return n, nil
}

type resetRepo Store

func (r *resetRepo) Create(_ context.Context, reset *auth.PasswordResetToken) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["resets.Create"]; err != nil {
		return err
	}
	for _, existing := range s.data.resets {
		if existing.TokenHash == reset.TokenHash {
			return oops.Code("RESET_DUPLICATE").Wrap(auth.ErrDuplicate)
		}
	}
	s.data.resets[reset.ID] = *reset
	return nil
}

func (r *resetRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.PasswordResetToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["resets.GetByTokenHash"]; err != nil {
		return nil, err
	}
	for _, reset := range s.data.resets {
		if reset.TokenHash == tokenHash {
			return &reset, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *resetRepo) MarkUsed(_ context.Context, id ulid.ULID, at time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["resets.MarkUsed"]; err != nil {
		return false, err
	}
	reset, ok := s.data.resets[id]
	if !ok {
		return false, oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if reset.UsedAt != nil {
		return false, nil
	}
	reset.UsedAt = &at
	s.data.resets[id] = reset
	return true, nil
}

type attemptRepo Store

func (r *attemptRepo) Record(_ context.Context, attempt *auth.LoginAttempt) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["attempts.Record"]; err != nil {
		return err
	}
	s.data.attempts = append(s.data.attempts, *attempt)
	return nil
}

// Compile-time interface checks.
var (
	_ auth.Transactor              = (*Store)(nil)
	_ auth.UserRepository          = (*userRepo)(nil)
	_ auth.ContactRepository       = (*contactRepo)(nil)
	_ auth.RoleRepository          = (*roleRepo)(nil)
	_ auth.SessionRepository       = (*sessionRepo)(nil)
	_ auth.PasswordResetRepository = (*resetRepo)(nil)
	_ auth.LoginAttemptRepository  = (*attemptRepo)(nil)
)
