// Package webhook turns a WhatsApp Cloud API webhook delivery into a reply:
// it resolves the owning tenant, classifies the event, extracts reply text
// and hands it to the outbound dispatcher.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/metahook/internal/accounts"
	"github.com/memohai/metahook/internal/inbound"
)

// ErrOwnerNotFound means no account matched the business account id or the
// display phone number of an event.
var ErrOwnerNotFound = errors.New("owner not found for inbound/outbound number")

// AccountResolver maps event identifiers to an account.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, phoneNumber, businessAccountID string) (accounts.Account, error)
}

// Resolver finds the owner of an inbound event.
type Resolver struct {
	accounts AccountResolver
	logger   *slog.Logger
}

func NewResolver(log *slog.Logger, accounts AccountResolver) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		accounts: accounts,
		logger:   log.With(slog.String("service", "owner_resolver")),
	}
}

// Resolve returns the account that owns p. It returns an error wrapping
// ErrOwnerNotFound when nothing matched; any other error is a lookup failure.
func (r *Resolver) Resolve(ctx context.Context, p inbound.Payload) (accounts.Account, error) {
	businessAccountID := strings.TrimSpace(p.BusinessAccountID())
	phoneNumber := strings.TrimSpace(p.DisplayPhoneNumber())

	acc, err := r.accounts.ResolveAccount(ctx, phoneNumber, businessAccountID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return accounts.Account{}, fmt.Errorf("%w: business account %q phone %q", ErrOwnerNotFound, businessAccountID, phoneNumber)
		}
		return accounts.Account{}, fmt.Errorf("resolve owner: %w", err)
	}
	if strings.TrimSpace(acc.OwnerID) == "" {
		r.logger.Warn("meta account has no owner",
			slog.Int64("account_id", acc.ID),
			slog.String("business_account_id", acc.BusinessAccountID),
		)
		return accounts.Account{}, fmt.Errorf("%w: account %d has no owner", ErrOwnerNotFound, acc.ID)
	}
	return acc, nil
}

// ResolveOwnerID returns only the owner id of p.
func (r *Resolver) ResolveOwnerID(ctx context.Context, p inbound.Payload) (string, error) {
	acc, err := r.Resolve(ctx, p)
	if err != nil {
		return "", err
	}
	return acc.OwnerID, nil
}
