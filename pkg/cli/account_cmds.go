package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

const basePath = "/v2/iamserviceaccounts"

type accountRef struct {
	AccountID string `json:"awsAccountId"`
	Name      string `json:"iamSvcAccName"`
}

// accountRefFlags registers the account identity flags. They are
// persistent so command groups (keys, user, group) share them with their
// subcommands.
func accountRefFlags(cmd *cobra.Command, ref *accountRef) {
	cmd.PersistentFlags().StringVar(&ref.AccountID, "account-id", "", "AWS account id")
	cmd.PersistentFlags().StringVar(&ref.Name, "name", "", "IAM service account name")
	_ = cmd.MarkPersistentFlagRequired("account-id")
	_ = cmd.MarkPersistentFlagRequired("name")
}

func newListCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List onboarded IAM service accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body struct {
				Keys []string `json:"keys"`
			}
			if err := client().do(http.MethodGet, basePath+"/", nil, &body); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printResult(cmd, body)
			}
			for _, k := range body.Keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newOnboardCmd(client func() *Client) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "onboard -f <request.json>",
		Short: "Onboard an IAM service account",
		Long:  "Onboard an IAM service account from a JSON request file holding the account identity, owner and initial access keys.",
		Example: `  tvaultctl onboard -f account.json
  tvaultctl onboard -f account.json -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var req map[string]interface{}
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			var out outcome
			if err := client().do(http.MethodPost, basePath+"/onboard", req, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the onboarding request JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newOffboardCmd(client func() *Client) *cobra.Command {
	var ref accountRef

	cmd := &cobra.Command{
		Use:   "offboard",
		Short: "Offboard an IAM service account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out outcome
			if err := client().do(http.MethodPost, basePath+"/offboard", ref, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}
	accountRefFlags(cmd, &ref)
	return cmd
}

func newActivateCmd(client func() *Client) *cobra.Command {
	var ref accountRef

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a pending IAM service account",
		Long:  "Activate a pending IAM service account: rotates every onboarded access key and opens the account for permission grants.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out outcome
			if err := client().do(http.MethodPost, basePath+"/activate", ref, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}
	accountRefFlags(cmd, &ref)
	return cmd
}

func newKeysCmd(client func() *Client) *cobra.Command {
	var ref accountRef

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage access keys of an IAM service account",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Mint a new access key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body struct {
				Messages  []string               `json:"messages"`
				AccessKey map[string]interface{} `json:"accessKey"`
			}
			path := fmt.Sprintf("%s/%s/%s/keys", basePath, ref.AccountID, ref.Name)
			if err := client().do(http.MethodPost, path, nil, &body); err != nil {
				return err
			}
			return printResult(cmd, body)
		},
	}

	rotate := &cobra.Command{
		Use:   "rotate <access-key-id>",
		Short: "Rotate an access key in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out outcome
			path := fmt.Sprintf("%s/%s/%s/keys/%s", basePath, ref.AccountID, ref.Name, url.PathEscape(args[0]))
			if err := client().do(http.MethodPut, path, nil, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}

	del := &cobra.Command{
		Use:   "delete <access-key-id>",
		Short: "Delete an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out outcome
			path := fmt.Sprintf("%s/%s/%s/keys/%s", basePath, ref.AccountID, ref.Name, url.PathEscape(args[0]))
			if err := client().do(http.MethodDelete, path, nil, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}

	accountRefFlags(cmd, &ref)
	cmd.AddCommand(create, rotate, del)
	return cmd
}

func newUserCmd(client func() *Client) *cobra.Command {
	var (
		ref    accountRef
		access string
	)

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user permissions on an IAM service account",
	}

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Grant a user read, write or deny access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"username":      args[0],
				"access":        access,
			}
			var out outcome
			if err := client().do(http.MethodPost, basePath+"/user", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}
	add.Flags().StringVar(&access, "access", "read", "Access level: read, write, deny")

	remove := &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a user's access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"username":      args[0],
			}
			var out outcome
			if err := client().do(http.MethodDelete, basePath+"/user", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}

	accountRefFlags(cmd, &ref)
	cmd.AddCommand(add, remove)
	return cmd
}

func newGroupCmd(client func() *Client) *cobra.Command {
	var (
		ref    accountRef
		access string
	)

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage group permissions on an IAM service account",
	}

	add := &cobra.Command{
		Use:   "add <groupname>",
		Short: "Grant a directory group access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"groupname":     args[0],
				"access":        access,
			}
			var out outcome
			if err := client().do(http.MethodPost, basePath+"/group", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}
	add.Flags().StringVar(&access, "access", "read", "Access level: read, write, deny, rotate")

	remove := &cobra.Command{
		Use:   "remove <groupname>",
		Short: "Remove a group's access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"groupname":     args[0],
			}
			var out outcome
			if err := client().do(http.MethodDelete, basePath+"/group", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}

	accountRefFlags(cmd, &ref)
	cmd.AddCommand(add, remove)
	return cmd
}

func newAppRoleCmd(client func() *Client) *cobra.Command {
	var (
		ref    accountRef
		access string
	)

	cmd := &cobra.Command{
		Use:   "approle",
		Short: "Manage approle permissions on an IAM service account",
	}

	add := &cobra.Command{
		Use:   "add <approlename>",
		Short: "Grant an approle read, write or deny access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"approlename":   args[0],
				"access":        access,
			}
			var out outcome
			if err := client().do(http.MethodPost, basePath+"/approle", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}
	add.Flags().StringVar(&access, "access", "read", "Access level: read, write, deny")

	remove := &cobra.Command{
		Use:   "remove <approlename>",
		Short: "Remove an approle's access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"approlename":   args[0],
			}
			var out outcome
			if err := client().do(http.MethodDelete, basePath+"/approle", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}

	accountRefFlags(cmd, &ref)
	cmd.AddCommand(add, remove)
	return cmd
}

func newAWSRoleCmd(client func() *Client) *cobra.Command {
	var (
		ref    accountRef
		access string
	)

	cmd := &cobra.Command{
		Use:   "awsrole",
		Short: "Manage cloud-IAM role permissions on an IAM service account",
	}

	add := &cobra.Command{
		Use:   "add <rolename>",
		Short: "Attach the account's policy to a cloud-IAM role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"rolename":      args[0],
				"access":        access,
			}
			var out outcome
			if err := client().do(http.MethodPost, basePath+"/awsrole", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}
	add.Flags().StringVar(&access, "access", "read", "Access level: read, write, deny")

	remove := &cobra.Command{
		Use:   "remove <rolename>",
		Short: "Detach the account's policy from a cloud-IAM role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"awsAccountId":  ref.AccountID,
				"iamSvcAccName": ref.Name,
				"rolename":      args[0],
			}
			var out outcome
			if err := client().do(http.MethodDelete, basePath+"/awsrole", body, &out); err != nil {
				return err
			}
			return printResult(cmd, out)
		},
	}

	accountRefFlags(cmd, &ref)
	cmd.AddCommand(add, remove)
	return cmd
}

func newAuditCmd(client func() *Client) *cobra.Command {
	var (
		account string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if account != "" {
				q.Set("account", account)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := basePath + "/audit"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var body struct {
				Entries []map[string]interface{} `json:"entries"`
			}
			if err := client().do(http.MethodGet, path, nil, &body); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printResult(cmd, body)
			}
			for _, e := range body.Entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%v\t%v\t%v\t%v\t%v\n",
					e["CreatedAt"], e["PrincipalName"], e["Action"], e["Account"], e["Status"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Filter by account identity (<accountId>_<name>)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries")
	return cmd
}
