package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/roles"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

// RoleGranter is the part of the assignment ledger used at sign-up.
type RoleGranter interface {
	AssignRoles(ctx context.Context, userID int64, roleIDs []int64, actor shared.Actor, remark string) ([]roles.Assignment, error)
	ActiveRoleNames(ctx context.Context, userID int64) ([]string, error)
}

// RoleCatalog resolves role names to roles.
type RoleCatalog interface {
	FindByName(ctx context.Context, name string) (roles.Role, error)
}

// Sessions issues and revokes login sessions.
type Sessions interface {
	Create(ctx context.Context, userID int64, email, ip, ua string) (*shared.Session, error)
	Destroy(ctx context.Context, sess *shared.Session) error
	DestroyAll(ctx context.Context, userID int64) error
}

// Service wraps registration and authentication business rules.
type Service struct {
	users    users.Store
	catalog  RoleCatalog
	ledger   RoleGranter
	sessions Sessions
	tx       db.Transactor
	audit    audit.Recorder
	clock    shared.Clock
	cost     int
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(store users.Store, catalog RoleCatalog, ledger RoleGranter, sessions Sessions, tx db.Transactor, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    store,
		catalog:  catalog,
		ledger:   ledger,
		sessions: sessions,
		tx:       tx,
		audit:    recorder,
		clock:    shared.SystemClock,
		cost:     bcrypt.DefaultCost,
		logger:   logger,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock shared.Clock) *Service {
	s.clock = clock
	return s
}

// WithHashCost overrides the bcrypt cost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// Register creates a user and grants the requested roles in one transaction.
func (s *Service) Register(ctx context.Context, input RegisterInput, actor shared.Actor) (users.User, error) {
	if err := shared.Validate(input); err != nil {
		return users.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return users.User{}, fmt.Errorf("auth: hash password: %w", err)
	}
	roleNames := input.Roles
	if len(roleNames) == 0 {
		roleNames = []string{shared.RoleUser}
	}

	var user users.User
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		email := strings.ToLower(strings.TrimSpace(input.Email))
		if taken, err := s.users.ExistsByEmail(ctx, email); err != nil {
			return err
		} else if taken {
			return users.ErrEmailTaken.Withf("email %s is already registered", email)
		}
		if taken, err := s.users.ExistsByUsername(ctx, input.Username); err != nil {
			return err
		} else if taken {
			return users.ErrUsernameTaken.Withf("username %s is already taken", input.Username)
		}

		roleIDs := make([]int64, 0, len(roleNames))
		for _, name := range roleNames {
			role, err := s.catalog.FindByName(ctx, roles.NormalizeName(name))
			if err != nil {
				return err
			}
			roleIDs = append(roleIDs, role.ID)
		}

		now := s.clock.Now()
		user = users.User{
			FirstName:    strings.TrimSpace(input.FirstName),
			LastName:     strings.TrimSpace(input.LastName),
			Email:        email,
			Username:     input.Username,
			PhoneNumber:  input.PhoneNumber,
			PasswordHash: string(hash),
			Enabled:      true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Create(ctx, &user); err != nil {
			return err
		}
		if _, err := s.ledger.AssignRoles(ctx, user.ID, roleIDs, actor, RegistrationRemark); err != nil {
			return err
		}
		s.audit.Log(ctx, audit.Entry{
			UserID:      audit.ActorUserID(actor, user.ID),
			Action:      audit.ActionUserRegistration,
			Module:      audit.ModuleAuth,
			Description: fmt.Sprintf("User %s registered by %s", user.Username, actor),
		})
		return nil
	})
	if err != nil {
		return users.User{}, err
	}
	s.logger.Info("user registered", slog.Int64("user_id", user.ID), slog.String("username", user.Username))
	return user, nil
}

// Login checks credentials, applies the lockout policy and opens a session.
// Failed attempts are committed even though the call fails.
func (s *Service) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	if err := shared.Validate(input); err != nil {
		return LoginResult{}, err
	}
	meta := shared.RequestMetaFromContext(ctx)
	var (
		user    users.User
		outcome error
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.lookup(ctx, input.Identifier)
		if errors.Is(err, users.ErrUserNotFound) {
			// keep the response time of unknown accounts close to known ones
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(input.Password))
			outcome = shared.ErrInvalidCredentials
			return nil
		}
		if err != nil {
			return err
		}
		now := s.clock.Now()
		lifted := user.LiftExpiredLock(now)
		switch {
		case user.IsLocked(now):
			outcome = ErrAccountLocked.Withf("account is locked until %s", user.LockedUntil.Format("15:04 MST"))
		case !user.Enabled:
			outcome = ErrAccountDisabled
		case bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)) != nil:
			if user.RecordFailedLogin(now) {
				s.logger.Warn("account locked after failed logins", slog.Int64("user_id", user.ID), slog.Int("attempts", user.FailedLoginAttempts))
			}
			outcome = shared.ErrInvalidCredentials
			user.UpdatedAt = now
			return s.users.Save(ctx, &user)
		default:
			user.RecordSuccessfulLogin(now, meta.IPAddress)
			user.UpdatedAt = now
			if err := s.users.Save(ctx, &user); err != nil {
				return err
			}
			s.audit.Log(ctx, audit.Entry{
				UserID:      user.ID,
				Action:      audit.ActionUserLogin,
				Module:      audit.ModuleAuth,
				Description: fmt.Sprintf("User %s logged in", user.Username),
			})
			return nil
		}
		if lifted {
			user.UpdatedAt = now
			return s.users.Save(ctx, &user)
		}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	if outcome != nil {
		return LoginResult{}, outcome
	}

	sess, err := s.sessions.Create(ctx, user.ID, user.Email, meta.IPAddress, meta.UserAgent)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: create session: %w", err)
	}
	names, err := s.ledger.ActiveRoleNames(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Roles: names, Session: sess, Token: sess.ID}, nil
}

// Logout ends sess.
func (s *Service) Logout(ctx context.Context, sess *shared.Session) error {
	if sess == nil {
		return nil
	}
	if err := s.sessions.Destroy(ctx, sess); err != nil {
		return fmt.Errorf("auth: destroy session: %w", err)
	}
	return nil
}

// ChangePassword replaces the password of the acting user and ends every
// session of that user.
func (s *Service) ChangePassword(ctx context.Context, input ChangePasswordInput, actor shared.Actor) error {
	if err := shared.Validate(input); err != nil {
		return err
	}
	if actor.IsSystem() {
		return shared.ErrUnauthenticated
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByID(ctx, actor.UserID)
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.CurrentPassword)) != nil {
			return ErrWrongPassword
		}
		user.PasswordHash = string(hash)
		user.UpdatedAt = s.clock.Now()
		if err := s.users.Save(ctx, &user); err != nil {
			return err
		}
		s.audit.Log(ctx, audit.Entry{
			UserID:      user.ID,
			Action:      audit.ActionPasswordChanged,
			Module:      audit.ModuleAuth,
			Description: fmt.Sprintf("User %s changed their password", user.Username),
		})
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.sessions.DestroyAll(ctx, actor.UserID); err != nil {
		s.logger.Warn("revoke sessions after password change", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (users.User, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return s.users.FindByEmail(ctx, strings.ToLower(identifier))
	}
	return s.users.FindByUsername(ctx, identifier)
}

// dummyHash is compared against when the account does not exist.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z8rGZ6nq4u7Sx1fV2OQ2m1e.")
