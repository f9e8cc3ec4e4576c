package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/memohai/metahook/internal/accounts"
	"github.com/memohai/metahook/internal/graph"
)

// AccountSource finds the account behind one of an owner's business numbers.
type AccountSource interface {
	ForOwnerNumber(ctx context.Context, ownerID, phoneNumberID, displayNumber string) (accounts.Account, error)
}

// DefaultCredentials are the deployment-wide credentials used when an owner
// has no account of its own (development only).
type DefaultCredentials struct {
	AccessToken   string
	PhoneNumberID string
}

// ClientCacheOptions configures a ClientCache.
type ClientCacheOptions struct {
	BaseURL     string
	Version     string
	Timeout     time.Duration
	TTL         time.Duration
	Development bool
	Default     DefaultCredentials
	Transport   http.RoundTripper
}

// ClientCache holds one Graph client per owner and business number. Entries
// expire with the account's token or after TTL, whichever comes first.
type ClientCache struct {
	source AccountSource
	opts   ClientCacheOptions
	cache  *gocache.Cache
	now    func() time.Time
	logger *slog.Logger
}

const defaultClientTTL = time.Hour

// NewClientCache creates an empty cache.
func NewClientCache(log *slog.Logger, source AccountSource, opts ClientCacheOptions) *ClientCache {
	if log == nil {
		log = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultClientTTL
	}
	return &ClientCache{
		source: source,
		opts:   opts,
		cache:  gocache.New(opts.TTL, opts.TTL),
		now:    time.Now,
		logger: log.With(slog.String("service", "outbound_clients")),
	}
}

// Get returns the client that sends from ch on behalf of ownerID, building it
// on first use.
func (c *ClientCache) Get(ctx context.Context, ownerID string, ch Channel) (*graph.Client, error) {
	key := cacheKey(ownerID, ch)
	if v, ok := c.cache.Get(key); ok {
		return v.(*graph.Client), nil
	}

	acc, err := c.source.ForOwnerNumber(ctx, ownerID, ch.PhoneNumberID, ch.DisplayNumber)
	switch {
	case err == nil:
		phoneNumberID := acc.PhoneNumberID
		if ch.PhoneNumberID != "" {
			phoneNumberID = ch.PhoneNumberID
		}
		client := c.build(acc.AccessToken, phoneNumberID)
		ttl := c.opts.TTL
		if acc.HasExpiry() {
			remaining := acc.TokenExpiresAt.Sub(c.now())
			if remaining <= 0 {
				c.logger.Warn("meta access token expired", slog.String("owner_id", ownerID), slog.Time("expires_at", acc.TokenExpiresAt))
				return client, nil
			}
			if remaining < ttl {
				ttl = remaining
			}
		}
		c.cache.Set(key, client, ttl)
		return client, nil
	case errors.Is(err, accounts.ErrAccountNotFound):
		c.logger.Warn("no meta account found for owner number",
			slog.String("owner_id", ownerID),
			slog.String("phone_number_id", ch.PhoneNumberID),
			slog.String("display_number", ch.DisplayNumber),
		)
	default:
		return nil, fmt.Errorf("load meta account for owner %s: %w", ownerID, err)
	}

	if c.opts.Development && c.opts.Default.AccessToken != "" {
		c.logger.Info("using default meta credentials", slog.String("owner_id", ownerID))
		phoneNumberID := c.opts.Default.PhoneNumberID
		if ch.PhoneNumberID != "" {
			phoneNumberID = ch.PhoneNumberID
		}
		client := c.build(c.opts.Default.AccessToken, phoneNumberID)
		c.cache.Set(key, client, c.opts.TTL)
		return client, nil
	}
	return nil, fmt.Errorf("%w %s", ErrClientUnavailable, ownerID)
}

// Invalidate drops every cached client of ownerID.
func (c *ClientCache) Invalidate(ownerID string) {
	prefix := ownerID + "/"
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
	c.logger.Info("meta client invalidated", slog.String("owner_id", ownerID))
}

// Len returns the number of cached clients.
func (c *ClientCache) Len() int {
	return c.cache.ItemCount()
}

func cacheKey(ownerID string, ch Channel) string {
	return ownerID + "/" + strings.TrimSpace(ch.PhoneNumberID) + "/" + accounts.NormalizePhone(ch.DisplayNumber)
}

func (c *ClientCache) build(token, phoneNumberID string) *graph.Client {
	return graph.New(graph.Options{
		BaseURL:       c.opts.BaseURL,
		Version:       c.opts.Version,
		AccessToken:   token,
		PhoneNumberID: phoneNumberID,
		Timeout:       c.opts.Timeout,
		Transport:     c.opts.Transport,
	})
}
