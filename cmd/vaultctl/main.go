// Command vaultctl is the operator CLI for a running vaultd, grounded on
// the pack's cobra root-command-plus-subcommands shape (one cobra.Command
// per operation, persistent flags on the root for connection settings).
package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nhbvault/crypto"
)

func main() {
	var (
		serverURL string
		token     string
	)

	root := &cobra.Command{Use: "vaultctl", Short: "Operator CLI for vaultd"}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "vaultd RPC base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("VAULTCTL_TOKEN"), "JWT bearer token for mutating commands")

	root.AddCommand(statusCmd(&serverURL))
	root.AddCommand(feesCmd(&serverURL))
	root.AddCommand(vaultsCmd(&serverURL))
	root.AddCommand(eventsCmd(&serverURL))
	root.AddCommand(setModeCmd(&serverURL, &token))
	root.AddCommand(keystoreCreateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(serverURL, path string, out interface{}) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(serverURL, path, token string, body interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

func statusCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current protocol status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[string]interface{}
			if err := getJSON(*serverURL, "/v1/status", &status); err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func feesCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fees",
		Short: "Print the current fee schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			var fees map[string]interface{}
			if err := getJSON(*serverURL, "/v1/fees", &fees); err != nil {
				return err
			}
			return printJSON(fees)
		},
	}
}

func vaultsCmd(serverURL *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "vaults",
		Short: "List vaults, optionally filtered by owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/vaults"
			if owner != "" {
				path += "?owner=" + owner
			}
			var vaults []map[string]interface{}
			if err := getJSON(*serverURL, path, &vaults); err != nil {
				return err
			}
			return printJSON(vaults)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner principal")
	return cmd
}

func eventsCmd(serverURL *string) *cobra.Command {
	var start, length uint64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print a page of the protocol event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/events?start=%d&length=%d", start, length)
			var records []map[string]interface{}
			if err := getJSON(*serverURL, path, &records); err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().Uint64Var(&start, "start", 0, "first sequence number to return")
	cmd.Flags().Uint64Var(&length, "length", 100, "maximum number of records to return")
	return cmd
}

func setModeCmd(serverURL, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-mode <normal|recovery|read_only>",
		Short: "Override the protocol's operating mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(*serverURL, "/v1/admin/mode", *token, map[string]string{"mode": args[0]})
		},
	}
}

// keystoreCreateCmd converts a plaintext developer key into an encrypted
// Ethereum v3 keystore file, so an operator can move a vaultd deployment from
// config.Config.DeveloperKeyHex to DeveloperKeystorePath without hand-rolling
// the encryption. It talks to no vaultd instance; the key never leaves disk.
func keystoreCreateCmd() *cobra.Command {
	var keyHex, passEnv, out string
	cmd := &cobra.Command{
		Use:   "keystore-create",
		Short: "Encrypt a developer private key into a keystore file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(keyHex)
			if err != nil {
				return fmt.Errorf("decode --key-hex: %w", err)
			}
			key, err := crypto.PrivateKeyFromBytes(raw)
			if err != nil {
				return fmt.Errorf("parse private key: %w", err)
			}
			passphrase := os.Getenv(passEnv)
			if passphrase == "" {
				return fmt.Errorf("environment variable %s is empty", passEnv)
			}
			if err := crypto.SaveToKeystore(out, key, passphrase); err != nil {
				return fmt.Errorf("save keystore: %w", err)
			}
			fmt.Printf("wrote keystore for %s to %s\n", key.PubKey().Principal().String(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyHex, "key-hex", "", "hex-encoded developer private key (required)")
	cmd.Flags().StringVar(&passEnv, "passphrase-env", "VAULTD_DEVELOPER_PASS", "environment variable holding the keystore passphrase")
	cmd.Flags().StringVar(&out, "out", "./developer.keystore", "output keystore file path")
	cmd.MarkFlagRequired("key-hex")
	return cmd
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
