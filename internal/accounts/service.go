package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ResolveOptions controls the development fallback of ResolveAccount.
type ResolveOptions struct {
	// Development enables the lookup of DefaultBusinessAccountID when neither
	// the business account id nor the phone number matched.
	Development              bool
	DefaultBusinessAccountID string
}

// Service provides account resolution and management.
type Service struct {
	repo     Repository
	opts     ResolveOptions
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates an account service.
func NewService(log *slog.Logger, repo Repository, opts ResolveOptions) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		opts:     opts,
		validate: validator.New(),
		logger:   log.With(slog.String("service", "accounts")),
	}
}

// ResolveAccount maps the business-account id and display phone number of an
// inbound event to an account. A phone-number match takes precedence over a
// business-account match. Lookup failures other than not-found abort.
func (s *Service) ResolveAccount(ctx context.Context, phoneNumber, businessAccountID string) (Account, error) {
	var (
		resolved Account
		found    bool
	)

	if businessAccountID = strings.TrimSpace(businessAccountID); businessAccountID != "" {
		acc, err := s.repo.GetByBusinessAccountID(ctx, businessAccountID)
		switch {
		case err == nil:
			resolved, found = acc, true
		case !errors.Is(err, ErrAccountNotFound):
			return Account{}, fmt.Errorf("lookup business account %s: %w", businessAccountID, err)
		}
	}

	if phoneNumber = strings.TrimSpace(phoneNumber); phoneNumber != "" {
		acc, err := s.repo.GetByPhoneNumber(ctx, phoneNumber)
		switch {
		case err == nil:
			resolved, found = acc, true
		case !errors.Is(err, ErrAccountNotFound):
			return Account{}, fmt.Errorf("lookup phone number %s: %w", phoneNumber, err)
		}
	}

	if !found && s.opts.Development && s.opts.DefaultBusinessAccountID != "" {
		acc, err := s.repo.GetByBusinessAccountID(ctx, s.opts.DefaultBusinessAccountID)
		switch {
		case err == nil:
			s.logger.Info("using default meta account",
				slog.String("business_account_id", s.opts.DefaultBusinessAccountID))
			resolved, found = acc, true
		case !errors.Is(err, ErrAccountNotFound):
			return Account{}, fmt.Errorf("lookup default business account: %w", err)
		}
	}

	if !found {
		s.logger.Warn("no meta account resolved",
			slog.String("phone_number", phoneNumber),
			slog.String("business_account_id", businessAccountID),
		)
		return Account{}, ErrAccountNotFound
	}
	return resolved, nil
}

// PrimaryForOwner returns the first account registered to ownerID.
func (s *Service) PrimaryForOwner(ctx context.Context, ownerID string) (Account, error) {
	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return Account{}, err
	}
	if len(items) == 0 {
		return Account{}, ErrAccountNotFound
	}
	return items[0], nil
}

// ForOwnerNumber returns the account of ownerID that owns the given business
// number. phoneNumberID is matched first, then displayNumber against the
// account's phone numbers. With neither set it returns the primary account.
func (s *Service) ForOwnerNumber(ctx context.Context, ownerID, phoneNumberID, displayNumber string) (Account, error) {
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	display := NormalizePhone(displayNumber)
	if phoneNumberID == "" && display == "" {
		return s.PrimaryForOwner(ctx, ownerID)
	}
	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return Account{}, err
	}
	if phoneNumberID != "" {
		for _, a := range items {
			if a.PhoneNumberID == phoneNumberID {
				return a, nil
			}
		}
	}
	if display != "" {
		for _, a := range items {
			if a.HasNumber(display) {
				return a, nil
			}
		}
	}
	return Account{}, ErrAccountNotFound
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns every account, or only the accounts of ownerID when set.
func (s *Service) List(ctx context.Context, ownerID string) ([]Account, error) {
	if strings.TrimSpace(ownerID) != "" {
		return s.repo.ListByOwner(ctx, ownerID)
	}
	return s.repo.List(ctx)
}

// Create validates and stores a new account.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Account, error) {
	if err := s.validateStruct(req); err != nil {
		return Account{}, err
	}
	acc, err := s.repo.Create(ctx, req.account())
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("meta account created",
		slog.Int64("id", acc.ID),
		slog.String("business_account_id", acc.BusinessAccountID),
		slog.String("owner_id", acc.OwnerID),
	)
	return acc, nil
}

// Seed inserts or refreshes an account keyed by its business account id.
func (s *Service) Seed(ctx context.Context, req CreateRequest) (Account, error) {
	if err := s.validateStruct(req); err != nil {
		return Account{}, err
	}
	acc, err := s.repo.UpsertByBusinessAccountID(ctx, req.account())
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("meta account seeded",
		slog.Int64("id", acc.ID),
		slog.String("business_account_id", acc.BusinessAccountID),
	)
	return acc, nil
}

// Update applies the non-nil fields of req to account id.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (Account, error) {
	if err := s.validateStruct(req); err != nil {
		return Account{}, err
	}
	acc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if req.Name != nil {
		acc.Name = *req.Name
	}
	if req.PhoneNumberID != nil {
		acc.PhoneNumberID = *req.PhoneNumberID
	}
	if req.PhoneNumber != nil {
		acc.PhoneNumber = *req.PhoneNumber
	}
	if req.PhoneNumbers != nil {
		acc.PhoneNumbers = req.PhoneNumbers
	}
	if req.AccessToken != nil {
		acc.AccessToken = *req.AccessToken
	}
	if req.WebhookVerificationToken != nil {
		acc.WebhookVerificationToken = *req.WebhookVerificationToken
	}
	if req.OwnerID != nil {
		acc.OwnerID = *req.OwnerID
	}
	if req.TokenExpiresAt != nil {
		acc.TokenExpiresAt = *req.TokenExpiresAt
	}
	return s.repo.Update(ctx, acc)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidAccount, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	return nil
}

func (r CreateRequest) account() Account {
	phones := r.PhoneNumbers
	if len(phones) == 0 && r.PhoneNumber != "" {
		phones = []string{r.PhoneNumber}
	}
	return Account{
		Name:                     r.Name,
		BusinessAccountID:        r.BusinessAccountID,
		PhoneNumberID:            r.PhoneNumberID,
		PhoneNumber:              r.PhoneNumber,
		PhoneNumbers:             phones,
		AccessToken:              r.AccessToken,
		WebhookVerificationToken: r.WebhookVerificationToken,
		OwnerID:                  r.OwnerID,
		TokenExpiresAt:           r.TokenExpiresAt,
	}
}
