package core

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
)

// UserProfile is the public projection of a user.
type UserProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// RegisterInput is the registration request body.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrInvalidCredentials is the single failure for any unsuccessful login.
var ErrInvalidCredentials = Unauthorized("Invalid credentials")

// UserService implements registration, login and profile changes.
type UserService struct {
	users  UserRepository
	hasher *PasswordHasher
	log    *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(users UserRepository, hasher *PasswordHasher, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{users: users, hasher: hasher, log: logger}
}

// Register stores a new user with a hashed password and returns its profile.
func (s *UserService) Register(ctx context.Context, q Querier, in RegisterInput) (UserProfile, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return UserProfile{}, Validation("username, email and password are required")
	}
	// Only a bare address is stored; "Name <addr>" forms would let one
	// mailbox register twice.
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return UserProfile{}, Validation("invalid email")
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, ErrPasswordTooLong) {
		return UserProfile{}, Validation("password is too long")
	}
	if err != nil {
		return UserProfile{}, Internal("failed to hash password", err)
	}

	s.log.DebugContext(ctx, "adding new user", "email", in.Email)
	id, err := s.users.Create(ctx, q, in.Username, in.Email, hash)
	if err != nil {
		return UserProfile{}, err
	}
	return s.Profile(ctx, q, id)
}

// Login checks email and password. Unknown email and wrong password fail
// identically.
func (s *UserService) Login(ctx context.Context, q Querier, email, password string) (UserProfile, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return UserProfile{}, ErrInvalidCredentials
	}

	u, err := s.users.FindByEmail(ctx, q, email)
	if IsKind(err, KindNotFound) {
		s.hasher.Verify(password, s.dummyDigest())
		return UserProfile{}, ErrInvalidCredentials
	}
	if err != nil {
		return UserProfile{}, err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return UserProfile{}, ErrInvalidCredentials
	}
	return toProfile(u), nil
}

// Profile loads the user by id.
func (s *UserService) Profile(ctx context.Context, q Querier, id int64) (UserProfile, error) {
	u, err := s.users.FindByID(ctx, q, id)
	if err != nil {
		return UserProfile{}, err
	}
	return toProfile(u), nil
}

// ChangeUsername renames the user and returns the updated profile.
func (s *UserService) ChangeUsername(ctx context.Context, q Querier, id int64, username string) (UserProfile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return UserProfile{}, Validation("username is required")
	}
	s.log.DebugContext(ctx, "changing username", "user_id", id)
	u, err := s.users.UpdateUsername(ctx, q, id, username)
	if err != nil {
		return UserProfile{}, err
	}
	return toProfile(u), nil
}

// dummyDigest is compared against for unknown emails so both login
// failures cost one bcrypt comparison.
func (s *UserService) dummyDigest() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

func toProfile(u *UserRecord) UserProfile {
	return UserProfile{ID: u.ID, Username: u.Username, Email: u.Email}
}
