package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/memohai/metahook/internal/accounts"
	"github.com/memohai/metahook/internal/config"
	"github.com/memohai/metahook/internal/db"
)

const (
	cliTimeout         = 30 * time.Second
	defaultAccountName = "Default Meta Account"
)

// seedFile is the YAML layout accepted by "accounts seed --file".
type seedFile struct {
	Accounts []accounts.CreateRequest `yaml:"accounts"`
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage WhatsApp Business accounts",
	}
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsCreateCmd())
	cmd.AddCommand(accountsDeleteCmd())
	cmd.AddCommand(accountsSeedCmd())
	return cmd
}

// withAccounts opens the database and runs fn with an account service.
func withAccounts(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, svc *accounts.Service) error) error {
	cfg, log, err := loadCLIConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
	defer cancel()
	pool, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()
	svc := accounts.NewService(log, accounts.NewStore(pool), accounts.ResolveOptions{})
	return fn(ctx, cfg, svc)
}

func accountsListCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, func(ctx context.Context, _ config.Config, svc *accounts.Service) error {
				items, err := svc.List(ctx, ownerID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tBUSINESS ACCOUNT\tPHONE\tPHONE NUMBER ID\tOWNER\tTOKEN EXPIRES")
				for _, a := range items {
					expires := "-"
					if a.HasExpiry() {
						expires = a.TokenExpiresAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
						a.ID, a.Name, a.BusinessAccountID, a.PhoneNumber, a.PhoneNumberID, a.OwnerID, expires)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "only list accounts of this owner")
	return cmd
}

func accountsCreateCmd() *cobra.Command {
	var (
		req       accounts.CreateRequest
		expiresAt string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiresAt != "" {
				ts, err := time.Parse(time.RFC3339, expiresAt)
				if err != nil {
					return fmt.Errorf("--token-expires-at: %w", err)
				}
				req.TokenExpiresAt = ts
			}
			return withAccounts(cmd, func(ctx context.Context, _ config.Config, svc *accounts.Service) error {
				acc, err := svc.Create(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created account %d for owner %s\n", acc.ID, acc.OwnerID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "display name")
	f.StringVar(&req.BusinessAccountID, "business-account-id", "", "Meta business account id")
	f.StringVar(&req.PhoneNumberID, "phone-number-id", "", "Meta phone number id")
	f.StringVar(&req.PhoneNumber, "phone-number", "", "primary display phone number")
	f.StringSliceVar(&req.PhoneNumbers, "phone", nil, "additional phone numbers (repeatable)")
	f.StringVar(&req.AccessToken, "access-token", "", "system user access token")
	f.StringVar(&req.WebhookVerificationToken, "verification-token", "", "webhook verification token")
	f.StringVar(&req.OwnerID, "owner-id", "", "owning tenant id")
	f.StringVar(&expiresAt, "token-expires-at", "", "access token expiry (RFC 3339)")
	for _, name := range []string{"business-account-id", "phone-number-id", "phone-number", "access-token", "verification-token", "owner-id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func accountsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			return withAccounts(cmd, func(ctx context.Context, _ config.Config, svc *accounts.Service) error {
				if err := svc.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted account %d\n", id)
				return nil
			})
		},
	}
}

func accountsSeedCmd() *cobra.Command {
	var (
		file    string
		ownerID string
		phones  []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert or refresh accounts keyed by business account id",
		Long: `Seeds accounts from a YAML file ("accounts:" list) or, without --file,
a single account built from the META_* settings. Existing accounts with the
same business account id are updated in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, func(ctx context.Context, cfg config.Config, svc *accounts.Service) error {
				var reqs []accounts.CreateRequest
				if file != "" {
					loaded, err := loadSeedFile(file)
					if err != nil {
						return err
					}
					reqs = loaded
				} else {
					req, err := seedFromConfig(cfg.Meta, ownerID, phones)
					if err != nil {
						return err
					}
					reqs = []accounts.CreateRequest{req}
				}
				for _, req := range reqs {
					acc, err := svc.Seed(ctx, req)
					if err != nil {
						return fmt.Errorf("seed %s: %w", req.BusinessAccountID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "seeded account %d (%s)\n", acc.ID, acc.BusinessAccountID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with an accounts list")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner of the account seeded from META_* settings")
	cmd.Flags().StringSliceVar(&phones, "phone", nil, "additional phone numbers of the seeded account")
	return cmd
}

func loadSeedFile(path string) ([]accounts.CreateRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("seed file %s has no accounts", path)
	}
	return f.Accounts, nil
}

// seedFromConfig builds the default account from the META_* settings. The
// primary phone number is always part of the phone number list.
func seedFromConfig(meta config.MetaConfig, ownerID string, extraPhones []string) (accounts.CreateRequest, error) {
	var missing []string
	for name, v := range map[string]string{
		"META_BEARER_TOKEN_ACCESS": meta.BearerTokenAccess,
		"META_VERIFICATION_TOKEN":  meta.VerificationToken,
		"META_PHONE_NUMBER_ID":     meta.PhoneNumberID,
		"META_PHONE_NUMBER":        meta.PhoneNumber,
		"META_BUSINESS_ACCOUNT_ID": meta.BusinessAccountID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return accounts.CreateRequest{}, fmt.Errorf("missing settings: %s", strings.Join(missing, ", "))
	}
	if strings.TrimSpace(ownerID) == "" {
		return accounts.CreateRequest{}, fmt.Errorf("--owner-id is required when seeding from settings")
	}

	phones := []string{meta.PhoneNumber}
	for _, p := range extraPhones {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(phones, p) {
			continue
		}
		phones = append(phones, p)
	}
	return accounts.CreateRequest{
		Name:                     defaultAccountName,
		BusinessAccountID:        meta.BusinessAccountID,
		PhoneNumberID:            meta.PhoneNumberID,
		PhoneNumber:              meta.PhoneNumber,
		PhoneNumbers:             phones,
		AccessToken:              meta.BearerTokenAccess,
		WebhookVerificationToken: meta.VerificationToken,
		OwnerID:                  ownerID,
	}, nil
}
