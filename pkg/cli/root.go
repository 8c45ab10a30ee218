// Package cli implements the tvaultctl command-line client for the
// service-account control plane API.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]interface{}{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host   string
		token  string
		output string
	)

	rootCmd := &cobra.Command{
		Use:           "tvaultctl",
		Short:         "IAM service account control plane CLI",
		Long:          "Command-line client for onboarding, credential and permission management of IAM service accounts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Precedence: flag > env > default.
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("TVAULT_HOST"); v != "" {
					host = v
				}
			}
			if !cmd.Flags().Changed("token") {
				if v := os.Getenv("TVAULT_TOKEN"); v != "" {
					token = v
				}
			}
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "API host URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT bearer token")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	client := func() *Client { return NewClient(host, token) }

	rootCmd.AddCommand(newListCmd(client))
	rootCmd.AddCommand(newOnboardCmd(client))
	rootCmd.AddCommand(newOffboardCmd(client))
	rootCmd.AddCommand(newActivateCmd(client))
	rootCmd.AddCommand(newKeysCmd(client))
	rootCmd.AddCommand(newUserCmd(client))
	rootCmd.AddCommand(newGroupCmd(client))
	rootCmd.AddCommand(newAppRoleCmd(client))
	rootCmd.AddCommand(newAWSRoleCmd(client))
	rootCmd.AddCommand(newAuditCmd(client))

	return rootCmd
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// getOutputFormat returns the effective output format from the root
// command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

// printResult renders an operation's messages, or raw JSON in json mode.
func printResult(cmd *cobra.Command, body interface{}) error {
	if getOutputFormat(cmd) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	}
	switch v := body.(type) {
	case outcome:
		for _, m := range v.Messages {
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		for _, e := range v.Errors {
			fmt.Fprintln(cmd.ErrOrStderr(), e)
		}
	default:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	}
	return nil
}
