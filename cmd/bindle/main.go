// Command bindle is a thin client CLI over client.Client, covering the minimal command surface
// spec §6.3 calls for: push an invoice, push a parcel, get an invoice, and yank one.
package main

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bindlehq/bindle/client"
)

var serverURL string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindle",
		Short: "Interact with a Bindle server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "bindle server base URL")

	cmd.AddCommand(newGetCmd(), newPushInvoiceCmd(), newPushParcelCmd(), newYankCmd(), newKeyCmd())
	return cmd
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, &tls.Config{})
}

func newGetCmd() *cobra.Command {
	var yanked bool
	cmd := &cobra.Command{
		Use:   "get <bindle-id>",
		Short: "Fetch an invoice by name/version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var inv interface{}
			if yanked {
				inv, err = c.GetYankedInvoice(args[0])
			} else {
				inv, err = c.GetInvoice(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", inv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yanked, "yanked", false, "allow returning a yanked invoice")
	return cmd
}

func newPushInvoiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push-invoice <path>",
		Short: "Create an invoice from a local TOML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.CreateInvoiceFromFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created %s, %d parcel(s) missing\n", resp.Invoice.Name(), len(resp.Missing))
			return nil
		},
	}
}

func newPushParcelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push-parcel <bindle-id> <sha256> <path>",
		Short: "Upload a parcel's bytes for an existing invoice",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.CreateParcelFromFile(args[0], args[1], args[2])
		},
	}
}

func newYankCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "yank <bindle-id>",
		Short: "Yank an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if reason != "" {
				return c.YankInvoiceWithReason(args[0], reason)
			}
			return c.YankInvoice(args[0])
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "human-readable yank reason")
	return cmd
}
