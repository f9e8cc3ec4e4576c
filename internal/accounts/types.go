package accounts

import (
	"context"
	"time"
)

// Account is one WhatsApp Business account bound to an owner (tenant).
type Account struct {
	ID                       int64     `json:"id" yaml:"-"`
	Name                     string    `json:"name" yaml:"name"`
	BusinessAccountID        string    `json:"meta_business_account_id" yaml:"meta_business_account_id"`
	PhoneNumberID            string    `json:"phone_number_id" yaml:"phone_number_id"`
	PhoneNumber              string    `json:"phone_number" yaml:"phone_number"`
	PhoneNumbers             []string  `json:"phone_numbers" yaml:"phone_numbers"`
	AccessToken              string    `json:"-" yaml:"system_user_access_token"`
	WebhookVerificationToken string    `json:"-" yaml:"webhook_verification_token"`
	OwnerID                  string    `json:"owner_id" yaml:"owner_id"`
	TokenExpiresAt           time.Time `json:"token_expires_at,omitempty" yaml:"token_expires_at,omitempty"`
	CreatedAt                time.Time `json:"created_at" yaml:"-"`
	UpdatedAt                time.Time `json:"updated_at" yaml:"-"`
}

// HasExpiry reports whether the access token carries a known expiry.
func (a Account) HasExpiry() bool {
	return !a.TokenExpiresAt.IsZero()
}

// HasNumber reports whether number is the primary or an additional phone
// number of the account. Numbers compare digits only.
func (a Account) HasNumber(number string) bool {
	n := NormalizePhone(number)
	if n == "" {
		return false
	}
	if NormalizePhone(a.PhoneNumber) == n {
		return true
	}
	for _, p := range a.PhoneNumbers {
		if NormalizePhone(p) == n {
			return true
		}
	}
	return false
}

// CreateRequest is the input for creating or seeding an account.
type CreateRequest struct {
	Name                     string    `json:"name" yaml:"name" validate:"max=255"`
	BusinessAccountID        string    `json:"meta_business_account_id" yaml:"meta_business_account_id" validate:"required,max=255"`
	PhoneNumberID            string    `json:"phone_number_id" yaml:"phone_number_id" validate:"required,max=255"`
	PhoneNumber              string    `json:"phone_number" yaml:"phone_number" validate:"required,max=50"`
	PhoneNumbers             []string  `json:"phone_numbers" yaml:"phone_numbers" validate:"dive,max=50"`
	AccessToken              string    `json:"system_user_access_token" yaml:"system_user_access_token" validate:"required,max=500"`
	WebhookVerificationToken string    `json:"webhook_verification_token" yaml:"webhook_verification_token" validate:"required,max=500"`
	OwnerID                  string    `json:"owner_id" yaml:"owner_id" validate:"required,max=255"`
	TokenExpiresAt           time.Time `json:"token_expires_at,omitempty" yaml:"token_expires_at,omitempty"`
}

// UpdateRequest carries optional field changes. Nil fields are left untouched.
type UpdateRequest struct {
	Name                     *string    `json:"name,omitempty" validate:"omitempty,max=255"`
	PhoneNumberID            *string    `json:"phone_number_id,omitempty" validate:"omitempty,max=255"`
	PhoneNumber              *string    `json:"phone_number,omitempty" validate:"omitempty,max=50"`
	PhoneNumbers             []string   `json:"phone_numbers,omitempty" validate:"omitempty,dive,max=50"`
	AccessToken              *string    `json:"system_user_access_token,omitempty" validate:"omitempty,max=500"`
	WebhookVerificationToken *string    `json:"webhook_verification_token,omitempty" validate:"omitempty,max=500"`
	OwnerID                  *string    `json:"owner_id,omitempty" validate:"omitempty,max=255"`
	TokenExpiresAt           *time.Time `json:"token_expires_at,omitempty"`
}

// Directory is the read side used by owner resolution. Implementations return
// ErrAccountNotFound when no record matches.
type Directory interface {
	GetByBusinessAccountID(ctx context.Context, businessAccountID string) (Account, error)
	GetByPhoneNumber(ctx context.Context, phoneNumber string) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Account, error)
}

// Repository adds the write side used by the management commands.
type Repository interface {
	Directory
	List(ctx context.Context) ([]Account, error)
	Create(ctx context.Context, a Account) (Account, error)
	Update(ctx context.Context, a Account) (Account, error)
	Delete(ctx context.Context, id int64) error
	UpsertByBusinessAccountID(ctx context.Context, a Account) (Account, error)
}
