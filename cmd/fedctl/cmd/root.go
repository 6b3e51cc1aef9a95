package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.duodoo.tech/fedlogin/log"
)

var appLogger log.Logger

var rootCmd = &cobra.Command{
	Use:   "fedctl",
	Short: "fedctl is a CLI tool to interact with the fedlogin admin API",
	Long:  `A command-line interface for managing provider configurations and sessions of the fedlogin federation service.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := zerolog.InfoLevel
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = zerolog.DebugLevel
		}
		appLogger = log.NewZerologAdapter(level, true)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("endpoint", "http://localhost:8080", "fedlogin server endpoint")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug output")

	_ = viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.SetEnvPrefix("FEDCTL")
	viper.AutomaticEnv()
}

func endpoint() string {
	return viper.GetString("endpoint")
}
