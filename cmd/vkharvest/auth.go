package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"vkharvest/pkg/auth"
	"vkharvest/pkg/config"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/ratelimit"
	"vkharvest/pkg/ui"
	"vkharvest/pkg/vk"
)

var (
	// Auth command flags
	skipVerify bool
	apiVersion string
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage VK access tokens",
	Long: `Manage stored VK access tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only, VK_ACCESS_TOKEN)

Never share your tokens or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a VK access token",
	Long: `Store a VK access token in the system keychain or encrypted file.

Tokens are stored under a name so several can be kept side by side.
The name defaults to "default". The token is checked with a users.get
call before it is stored unless --skip-verify is given.`,
	Example: `  # Interactive login
  vkharvest auth login

  # Store a second token
  vkharvest auth login work`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove a stored token",
	Long: `Remove a stored VK access token.

If no name is given and exactly one token is stored, it is removed
after confirmation.`,
	Example: `  vkharvest auth logout work`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tokens",
	Long:  `List stored VK access tokens with masked values, newest first.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	loginCmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "store the token without checking it")
	loginCmd.Flags().StringVar(&apiVersion, "api-version", "", "API version to use with this token")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := auth.DefaultName
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	reader := bufio.NewReader(os.Stdin)

	auth.ShowTokenGuide(os.Stdout)
	fmt.Println()

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Token '%s' already exists. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Access token (hidden): ")
	token, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	token = extractToken(token)
	if token == "" {
		return fmt.Errorf("%w: token is empty", auth.ErrInvalidCredentials)
	}

	cred := &auth.Credential{
		Name:         name,
		AccessToken:  token,
		APIVersion:   apiVersion,
		LastModified: time.Now(),
	}

	if !skipVerify {
		ui.PrintInfo("Verifying token", auth.MaskToken(token))
		who, err := verifyToken(cmd.Context(), cred)
		if err != nil {
			return err
		}
		ui.PrintSuccess("Token works, it can read " + who)
	}

	if err := manager.Store(cred); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Token saved: %s", name))
	fmt.Println("\nUse it with:")
	if name == auth.DefaultName {
		fmt.Println("  vkharvest crawl <source>")
	} else {
		fmt.Printf("  vkharvest crawl <source> --account %s\n", name)
	}
	return nil
}

// extractToken accepts either a bare token or the blank.html redirect URL
// from the implicit OAuth flow.
func extractToken(input string) string {
	input = strings.TrimSpace(input)
	i := strings.Index(input, "access_token=")
	if i < 0 {
		return input
	}
	token := input[i+len("access_token="):]
	if j := strings.IndexByte(token, '&'); j >= 0 {
		token = token[:j]
	}
	return token
}

// verifyToken asks users.get for a well known profile with the token
func verifyToken(ctx context.Context, cred *auth.Credential) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cfg := config.DefaultConfig()
	cfg.VK.AccessToken = cred.AccessToken
	if cred.APIVersion != "" {
		cfg.VK.APIVersion = cred.APIVersion
	}

	client := vk.NewClient(&cfg.VK, ratelimit.NewRequestLimiter(0, 0), logger.GetLogger())
	res := client.FetchProfiles(ctx, []string{"1"}, nil)
	switch res.Outcome {
	case vk.OutcomeSuccess:
		if len(res.Value) == 0 {
			return "", fmt.Errorf("%w: users.get returned no profile", auth.ErrInvalidCredentials)
		}
		u := res.Value[0]
		return strings.TrimSpace(u.FirstName + " " + u.LastName), nil
	case vk.OutcomeAPIError:
		return "", fmt.Errorf("%w: %v", auth.ErrInvalidCredentials, res.APIError)
	default:
		return "", fmt.Errorf("token check failed (%s): %w", res.Outcome, res.Err)
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if len(args) > 0 {
		if err := manager.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to remove token: %w", err)
		}
		ui.PrintSuccess("Token removed: " + args[0])
		return nil
	}

	creds, err := manager.List()
	if err != nil || len(creds) == 0 {
		ui.PrintWarning("No stored tokens found")
		return nil
	}
	if len(creds) > 1 {
		ui.PrintWarning("Several tokens are stored, name the one to remove:")
		for _, c := range creds {
			fmt.Printf("  - %s\n", c.Name)
		}
		return nil
	}

	name := creds[0].Name
	fmt.Printf("Remove token '%s'? (y/N): ", name)
	input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
		return nil
	}

	if err := manager.Delete(name); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	ui.PrintSuccess("Token removed: " + name)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	creds, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}

	if len(creds) == 0 {
		ui.PrintInfo("No stored tokens", "Use 'vkharvest auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Tokens")
	fmt.Println()

	for i, cred := range creds {
		sanitized := auth.Sanitize(cred)
		fmt.Printf("%d. Name: %s\n", i+1, sanitized.Name)
		fmt.Printf("   Token: %s\n", sanitized.AccessToken)
		if sanitized.APIVersion != "" {
			fmt.Printf("   API Version: %s\n", sanitized.APIVersion)
		}
		if !sanitized.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

// readPassword reads a secret from stdin without echoing
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(secret), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
