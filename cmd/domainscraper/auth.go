package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"domainscraper/pkg/auth"
	"domainscraper/pkg/config"
	"domainscraper/pkg/ui"
)

var authProvider string

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the challenge oracle client key",
	Long: `Manage the Anti-Captcha client key used to solve bot challenges.

Keys are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)`,
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the oracle client key securely",
	Long: `Store the oracle client key in the system keychain, or in an encrypted
file when no keychain is available. The key is read without echo.`,
	Example: `  domainscraper auth set-key`,
	Args:    cobra.NoArgs,
	RunE:    runSetKey,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the oracle client key comes from",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored oracle client key",
	Args:  cobra.NoArgs,
	RunE:  runAuthClear,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(setKeyCmd)
	authCmd.AddCommand(statusCmd)
	authCmd.AddCommand(clearCmd)

	authCmd.PersistentFlags().StringVar(&authProvider, "provider", auth.DefaultProvider, "oracle provider the key belongs to")
}

func runSetKey(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	fmt.Print("Client key: ")
	key, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return auth.ErrInvalidCredentials
	}

	store, err := manager.Store(&auth.OracleKey{
		Provider:     authProvider,
		ClientKey:    key,
		LastModified: time.Now(),
	})
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Key %s stored in %s", auth.MaskKey(key), store))
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	ui.PrintInfo("Stores", strings.Join(manager.StoreNames(), ", "))

	// A key from the config file or environment wins over stored keys
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}

	key, source, err := manager.Resolve(cfg.Oracle.ClientKey)
	if errors.Is(err, auth.ErrCredentialsNotFound) {
		ui.PrintWarning("No oracle key configured")
		ui.Println("\nTo store one securely, run:")
		ui.Println("  domainscraper auth set-key")
		ui.Println("\nOr set an environment variable:")
		ui.Println("  export DOMAINSCRAPER_ORACLE_KEY=your_client_key")
		return nil
	}
	if err != nil {
		return err
	}

	ui.PrintInfo("Key", auth.MaskKey(key))
	ui.PrintInfo("Source", source)
	return nil
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if err := manager.Delete(authProvider); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No stored key to remove")
			return nil
		}
		return err
	}
	ui.PrintSuccess("Stored key removed")
	return nil
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
