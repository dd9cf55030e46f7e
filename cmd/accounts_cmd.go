package cmd

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type accountView struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Channel     string    `json:"channel"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	PhoneNumber string    `json:"phone_number"`
	Method      string    `json:"method"`
	IsEnabled   bool      `json:"is_enabled"`
	IsConnected bool      `json:"is_connected"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage linked accounts",
	}
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsToggleCmd("enable", true))
	cmd.AddCommand(accountsToggleCmd("disable", false))
	cmd.AddCommand(accountsDeleteCmd())
	return cmd
}

func accountsListCmd() *cobra.Command {
	var (
		tenant  string
		channel string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's linked accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				var err error
				tenant, err = promptString("Tenant", "", "")
				if err != nil {
					return err
				}
			}

			q := url.Values{"tenant_id": {tenant}}
			if channel != "" {
				q.Set("channel", channel)
			}

			var resp struct {
				Accounts []accountView `json:"accounts"`
			}
			if err := apiGet("/v1/accounts?"+q.Encode(), &resp); err != nil {
				return err
			}
			if len(resp.Accounts) == 0 {
				fmt.Println("No linked accounts.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHANNEL\tNAME\tPHONE\tENABLED\tCONNECTED\tLINKED")
			for _, a := range resp.Accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%v\t%s\n",
					a.ID, a.Channel, a.DisplayName, a.PhoneNumber,
					a.IsEnabled, a.IsConnected, a.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant workspace id")
	cmd.Flags().StringVar(&channel, "channel", "", "filter by channel")
	return cmd
}

func accountsToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <account-id>",
		Short: verb + " message delivery for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acct accountView
			err := apiCall("PATCH", "/v1/accounts/"+args[0],
				map[string]bool{"enabled": enabled}, &acct)
			if err != nil {
				return err
			}
			fmt.Printf("Account %s (%s) is now %sd\n", acct.ID, acct.Channel, verb)
			return nil
		},
	}
}

func accountsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <account-id>",
		Short: "Unlink an account and log out its provider session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := promptConfirm("Unlink account "+args[0]+"?", false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if err := apiCall("DELETE", "/v1/accounts/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Println("Account unlinked.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
