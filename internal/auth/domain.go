package auth

import (
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

// RegistrationRemark is stored on ledger rows granted at sign-up.
const RegistrationRemark = "Assigned roles during user creation"

// RegisterInput is the sign-up payload. Roles defaults to USER.
type RegisterInput struct {
	FirstName   string   `json:"firstName" validate:"required,max=50"`
	LastName    string   `json:"lastName" validate:"required,max=50"`
	Email       string   `json:"email" validate:"required,email,max=100"`
	Username    string   `json:"username" validate:"required,min=3,max=50,alphanum"`
	PhoneNumber string   `json:"phoneNumber" validate:"omitempty,phone"`
	Password    string   `json:"password" validate:"required,min=8,max=72,containsany=ABCDEFGHIJKLMNOPQRSTUVWXYZ,containsany=abcdefghijklmnopqrstuvwxyz,containsany=0123456789"`
	Roles       []string `json:"roles" validate:"omitempty,dive,required"`
}

// LoginInput accepts either the email or the username as identifier.
type LoginInput struct {
	Identifier string `json:"identifier" validate:"required,max=100"`
	Password   string `json:"password" validate:"required,max=72"`
}

// ChangePasswordInput is the payload for ChangePassword.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72,containsany=ABCDEFGHIJKLMNOPQRSTUVWXYZ,containsany=abcdefghijklmnopqrstuvwxyz,containsany=0123456789,nefield=CurrentPassword"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User    users.User      `json:"user"`
	Roles   []string        `json:"roles"`
	Session *shared.Session `json:"-"`
	Token   string          `json:"token"`
}

var (
	ErrAccountLocked   = shared.NewError(shared.KindUnauthorized, "ACCOUNT_LOCKED", "account is temporarily locked")
	ErrAccountDisabled = shared.NewError(shared.KindUnauthorized, "ACCOUNT_DISABLED", "account is disabled")
	ErrWrongPassword   = shared.NewError(shared.KindValidationFailure, "WRONG_PASSWORD", "current password is incorrect")
)
