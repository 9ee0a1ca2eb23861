package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stoik/mailroom/internal/models"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Setup database and create a development account",
	Long:  "Creates the mailbox tables and registers an account pointing at the mock provider for development/testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		// Opening the store runs migrations
		fmt.Printf("Running migrations (%s)...\n", viper.GetString("database.driver"))
		st, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		email, _ := cmd.Flags().GetString("email")
		token, _ := cmd.Flags().GetString("token")
		if email == "" {
			fmt.Println("✓ Database setup complete")
			return nil
		}

		fmt.Println("Registering development account...")
		acct := &models.Account{
			Email:       email,
			Name:        "Development",
			AccessToken: token,
		}
		if acct.AccessToken == "" {
			return fmt.Errorf("--token is required with --email")
		}
		if err := st.CreateAccount(ctx, acct); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		fmt.Printf("✓ Database setup complete. Account: %s (%s, initial sync %s)\n", acct.ID, acct.Email, acct.InitialSyncStatus)
		return nil
	},
}

func init() {
	setupCmd.Flags().String("email", "me@example.com", "Account email to register (empty skips)")
	setupCmd.Flags().String("token", "mock-token", "Provider access token for the account")
	rootCmd.AddCommand(setupCmd)
}
