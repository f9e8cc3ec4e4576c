package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/memohai/metahook/internal/config"
	"github.com/memohai/metahook/internal/inbound"
)

const defaultTestWebhookURL = "http://localhost:8000/webhook"

type testWebhookOptions struct {
	URL  string
	From string
	Body string
}

func sendTestWebhookCmd() *cobra.Command {
	opts := testWebhookOptions{}
	cmd := &cobra.Command{
		Use:   "send-test-webhook",
		Short: "Post a sample text message delivery to a running receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			status, body, err := postTestWebhook(ctx, http.DefaultClient, cfg.Meta, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, body)
			if status != http.StatusOK {
				return fmt.Errorf("webhook responded with status %d", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", defaultTestWebhookURL, "webhook endpoint")
	cmd.Flags().StringVar(&opts.From, "from", "15551234567", "sender wa_id")
	cmd.Flags().StringVar(&opts.Body, "body", "Hello from send-test-webhook", "message text")
	return cmd
}

// postTestWebhook sends a sample delivery addressed to the configured number.
// Each call uses a fresh message id so repeated runs are not deduplicated. The
// body is signed when an app secret is configured.
func postTestWebhook(ctx context.Context, client *http.Client, meta config.MetaConfig, opts testWebhookOptions) (int, string, error) {
	payload := inbound.SampleTextPayload(meta.BusinessAccountID, meta.PhoneNumber, meta.PhoneNumberID, opts.From, opts.Body)
	payload.Entry[0].Changes[0].Value.Messages[0].ID = "wamid.TEST_" + uuid.NewString()

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(raw))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if meta.AppSecret != "" {
		mac := hmac.New(sha256.New, []byte(meta.AppSecret))
		mac.Write(raw)
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, string(bytes.TrimSpace(body)), nil
}
