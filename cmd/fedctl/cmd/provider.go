package cmd

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"go.duodoo.tech/fedlogin/cmd/fedctl/client"
	"go.duodoo.tech/fedlogin/dto"
)

var providerCmd = &cobra.Command{
	Use:     "provider",
	Short:   "Manage provider configurations",
	Aliases: []string{"providers"},
}

var providerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new provider configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := providerFromFlags(cmd)
		if err != nil {
			return err
		}

		api := client.New(endpoint())
		created, err := api.CreateProvider(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Provider configuration created: %s\n", created.ID)
		return nil
	},
}

var providerUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a provider configuration's settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := providerFromFlags(cmd)
		if err != nil {
			return err
		}

		api := client.New(endpoint())
		updated, err := api.UpdateProvider(cmd.Context(), args[0], cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Provider configuration updated: %s\n", updated.ID)
		return nil
	},
}

var providerActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Promote a configuration to be the tenant's active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := client.New(endpoint())
		if err := api.ActivateProvider(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Provider configuration activated.")
		return nil
	},
}

var providerTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Run a connectivity check against the provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := client.New(endpoint())
		if err := api.TestProvider(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Println("Connection test passed.")
		return nil
	},
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provider configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		api := client.New(endpoint())
		configs, err := api.ListProviders(cmd.Context())
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Println("No provider configurations found.")
			return nil
		}
		out, err := yaml.Marshal(configs)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func providerFromFlags(cmd *cobra.Command) (*dto.ProviderConfigPayload, error) {
	tenant, _ := cmd.Flags().GetString("tenant")
	clientKey, _ := cmd.Flags().GetString("client-key")
	clientSecret, _ := cmd.Flags().GetString("client-secret")
	authorizeURL, _ := cmd.Flags().GetString("authorize-url")
	tokenURL, _ := cmd.Flags().GetString("token-url")
	refreshURL, _ := cmd.Flags().GetString("refresh-url")
	clientTokenURL, _ := cmd.Flags().GetString("client-token-url")
	userInfoURL, _ := cmd.Flags().GetString("userinfo-url")
	revokeURL, _ := cmd.Flags().GetString("revoke-url")
	callbackURL, _ := cmd.Flags().GetString("callback-url")
	scope, _ := cmd.Flags().GetString("scope")

	if clientKey == "" {
		return nil, errors.New("client key is required via --client-key flag")
	}
	if clientSecret == "" {
		fmt.Print("Enter client secret: ")
		byteSecret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read client secret: %w", err)
		}
		clientSecret = string(byteSecret)
		if clientSecret == "" {
			return nil, errors.New("client secret must not be empty")
		}
	}

	cfg := &dto.ProviderConfigPayload{
		TenantKey:      tenant,
		ClientKey:      clientKey,
		ClientSecret:   clientSecret,
		AuthorizeURL:   authorizeURL,
		TokenURL:       tokenURL,
		RefreshURL:     refreshURL,
		ClientTokenURL: clientTokenURL,
		UserInfoURL:    userInfoURL,
		RevokeURL:      revokeURL,
		CallbackURL:    callbackURL,
	}
	if scope != "" {
		cfg.Scope = strings.Split(scope, ",")
	}
	return cfg, nil
}

func registerProviderFlags(cmd *cobra.Command) {
	cmd.Flags().String("tenant", "default", "tenant key the configuration belongs to")
	cmd.Flags().String("client-key", "", "provider application key")
	cmd.Flags().String("client-secret", "", "provider application secret (prompted when omitted)")
	cmd.Flags().String("authorize-url", "", "provider authorization endpoint")
	cmd.Flags().String("token-url", "", "provider code-exchange endpoint")
	cmd.Flags().String("refresh-url", "", "provider refresh endpoint")
	cmd.Flags().String("client-token-url", "", "provider client-credential endpoint")
	cmd.Flags().String("userinfo-url", "", "provider user info endpoint")
	cmd.Flags().String("revoke-url", "", "provider revocation endpoint")
	cmd.Flags().String("callback-url", "", "absolute callback URL registered with the provider")
	cmd.Flags().String("scope", "", "comma-separated scopes to request")
}

func init() {
	registerProviderFlags(providerCreateCmd)
	registerProviderFlags(providerUpdateCmd)

	providerCmd.AddCommand(providerCreateCmd)
	providerCmd.AddCommand(providerUpdateCmd)
	providerCmd.AddCommand(providerActivateCmd)
	providerCmd.AddCommand(providerTestCmd)
	providerCmd.AddCommand(providerListCmd)
	rootCmd.AddCommand(providerCmd)
}
