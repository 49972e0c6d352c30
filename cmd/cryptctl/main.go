// Package main はcryptctl CLIのエントリポイント。
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

// options はグローバルフラグの値。
type options struct {
	apiURL  string
	output  string
	timeout time.Duration
	client  *apiClient
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:          "cryptctl",
		Short:        "Message crypto daemon CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.apiURL == "" {
				opts.apiURL = os.Getenv("CRYPTCTL_API_URL")
			}
			if opts.apiURL == "" {
				opts.apiURL = "http://127.0.0.1:8080"
			}
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("--output must be text or json, got %q", opts.output)
			}
			opts.client = newAPIClient(opts.apiURL, &http.Client{Timeout: opts.timeout})
			return nil
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "API endpoint URL (or set CRYPTCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(loginCmd(opts))
	rootCmd.AddCommand(logoutCmd(opts))
	rootCmd.AddCommand(publicKeyCmd(opts))
	rootCmd.AddCommand(sealCmd(opts))
	rootCmd.AddCommand(openCmd(opts))
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cryptctl version %s\n", version)
		},
	}
}

// loginCmd はログイン（鍵ペアの初期化）コマンド。
func loginCmd(opts *options) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and initialize the local key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				SessionID string `json:"session_id"`
				UserID    string `json:"user_id"`
				PublicKey string `json:"public_key"`
			}
			body, err := opts.client.do(cmd.Context(), http.MethodPost, "/v1/sessions",
				map[string]string{"user_id": userID}, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %q\nsession: %s\npublic key: %s\n", resp.UserID, resp.SessionID, resp.PublicKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// logoutCmd はログアウト（鍵の削除）コマンド。
func logoutCmd(opts *options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Log out and delete the local key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client.do(cmd.Context(), http.MethodDelete, "/v1/sessions/"+sessionID,
				nil, http.StatusNoContent, nil); err != nil {
				return err
			}
			if opts.output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out; local keys deleted.")
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// publicKeyCmd は公開鍵の表示コマンド。
func publicKeyCmd(opts *options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "public-key",
		Short: "Print the published public key of the session user",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				PublicKey string `json:"public_key"`
			}
			body, err := opts.client.do(cmd.Context(), http.MethodGet, "/v1/sessions/"+sessionID+"/public-key",
				nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.PublicKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// sealCmd はメッセージの暗号化コマンド。
func sealCmd(opts *options) *cobra.Command {
	var recipientKey, text string
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a message for a recipient public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Content      string `json:"content"`
				EncryptedKey string `json:"encryptedKey"`
				IV           string `json:"iv"`
			}
			body, err := opts.client.do(cmd.Context(), http.MethodPost, "/v1/messages/seal",
				map[string]string{"plaintext": text, "recipient_public_key": recipientKey}, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "content: %s\nencryptedKey: %s\niv: %s\n", resp.Content, resp.EncryptedKey, resp.IV)
			return nil
		},
	}
	cmd.Flags().StringVar(&recipientKey, "recipient-key", "", "Recipient public key (base64 PKIX or PEM)")
	cmd.Flags().StringVar(&text, "text", "", "Plaintext message")
	return cmd
}

// openCmd はメッセージの復号コマンド。
func openCmd(opts *options) *cobra.Command {
	var sessionID, content, encryptedKey, iv string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Decrypt a message with the session user's private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Content string `json:"content"`
				Legacy  bool   `json:"legacy"`
				Failed  bool   `json:"failed"`
				Error   string `json:"error"`
			}
			req := map[string]string{"content": content, "encryptedKey": encryptedKey, "iv": iv}
			body, err := opts.client.do(cmd.Context(), http.MethodPost, "/v1/sessions/"+sessionID+"/messages/open",
				req, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
			if resp.Failed {
				return fmt.Errorf("message could not be decrypted (%s)", resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (required)")
	cmd.Flags().StringVar(&content, "content", "", "Encoded ciphertext (or legacy plaintext)")
	cmd.Flags().StringVar(&encryptedKey, "encrypted-key", "", "Encoded wrapped key")
	cmd.Flags().StringVar(&iv, "iv", "", "Encoded nonce")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
