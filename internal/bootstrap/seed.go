// Package bootstrap loads the roles and accounts a fresh installation needs.
package bootstrap

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/commonwealth-builders/treasury/internal/auth"
	"github.com/commonwealth-builders/treasury/internal/roles"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the YAML document describing installation data.
type Seed struct {
	Roles []RoleSeed `yaml:"roles"`
	Users []UserSeed `yaml:"users"`
}

// RoleSeed describes a custom role. System roles are always created.
type RoleSeed struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName"`
	Description string `yaml:"description"`
}

// UserSeed describes an account created when its email is unknown.
type UserSeed struct {
	Email       string   `yaml:"email"`
	FirstName   string   `yaml:"firstName"`
	LastName    string   `yaml:"lastName"`
	Username    string   `yaml:"username"`
	PhoneNumber string   `yaml:"phoneNumber"`
	Password    string   `yaml:"password"`
	Roles       []string `yaml:"roles"`
}

// Load reads a seed file. An empty path returns the embedded default.
func Load(path string) (Seed, error) {
	data := defaultSeed
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return Seed{}, fmt.Errorf("bootstrap: read seed: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes a seed document, rejecting unknown keys.
func Parse(data []byte) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("bootstrap: parse seed: %w", err)
	}
	return seed, nil
}

// RoleCatalog is the subset of roles.Service the seeder uses.
type RoleCatalog interface {
	FindByName(ctx context.Context, name string) (roles.Role, error)
	CreateRole(ctx context.Context, input roles.CreateRoleInput, actor shared.Actor) (roles.Role, error)
}

// Registrar creates accounts with their initial roles.
type Registrar interface {
	Register(ctx context.Context, input auth.RegisterInput, actor shared.Actor) (users.User, error)
}

// Directory answers whether an email is already registered.
type Directory interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// Result counts what a run changed.
type Result struct {
	RolesCreated int      `json:"rolesCreated"`
	UsersCreated int      `json:"usersCreated"`
	Skipped      []string `json:"skipped"`
}

// Seeder applies a Seed idempotently. Everything it creates is attributed to
// the SYSTEM actor.
type Seeder struct {
	roles     RoleCatalog
	registrar Registrar
	directory Directory
	logger    *slog.Logger
}

// NewSeeder builds a Seeder.
func NewSeeder(catalog RoleCatalog, registrar Registrar, directory Directory, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{roles: catalog, registrar: registrar, directory: directory, logger: logger}
}

// Run creates the system roles, then the custom roles and users of seed that
// do not exist yet.
func (s *Seeder) Run(ctx context.Context, seed Seed) (Result, error) {
	var res Result
	defs := roles.SystemRoleDefinitions()
	inputs := make([]roles.CreateRoleInput, 0, len(defs)+len(seed.Roles))
	for _, def := range defs {
		inputs = append(inputs, roles.CreateRoleInput{Name: def.Name, DisplayName: def.DisplayName, Description: def.Description, IsSystem: true})
	}
	for _, r := range seed.Roles {
		inputs = append(inputs, roles.CreateRoleInput{Name: r.Name, DisplayName: r.DisplayName, Description: r.Description})
	}
	for _, input := range inputs {
		created, err := s.ensureRole(ctx, input)
		if err != nil {
			return res, err
		}
		if created {
			res.RolesCreated++
		} else {
			res.Skipped = append(res.Skipped, "role:"+roles.NormalizeName(input.Name))
		}
	}

	for _, u := range seed.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		exists, err := s.directory.ExistsByEmail(ctx, email)
		if err != nil {
			return res, fmt.Errorf("bootstrap: lookup %s: %w", email, err)
		}
		if exists {
			res.Skipped = append(res.Skipped, "user:"+email)
			continue
		}
		user, err := s.registrar.Register(ctx, auth.RegisterInput{
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			Email:       email,
			Username:    u.Username,
			PhoneNumber: u.PhoneNumber,
			Password:    u.Password,
			Roles:       u.Roles,
		}, shared.SystemActor)
		if err != nil {
			return res, fmt.Errorf("bootstrap: create %s: %w", email, err)
		}
		res.UsersCreated++
		s.logger.WarnContext(ctx, "seeded account with temporary password, change it immediately",
			slog.Int64("user_id", user.ID),
			slog.String("email", user.Email),
			slog.String("username", user.Username))
	}
	return res, nil
}

func (s *Seeder) ensureRole(ctx context.Context, input roles.CreateRoleInput) (bool, error) {
	_, err := s.roles.FindByName(ctx, roles.NormalizeName(input.Name))
	switch {
	case err == nil:
		return false, nil
	case shared.KindOf(err) != shared.KindNotFound:
		return false, fmt.Errorf("bootstrap: lookup role %s: %w", input.Name, err)
	}
	role, err := s.roles.CreateRole(ctx, input, shared.SystemActor)
	if errors.Is(err, roles.ErrRoleExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bootstrap: create role %s: %w", input.Name, err)
	}
	s.logger.InfoContext(ctx, "role initialized", slog.String("role", role.Name), slog.Bool("system", role.IsSystemRole))
	return true, nil
}
