package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bindlehq/bindle/keyring"
)

// newKeyCmd wires the local keyring management commands spec §4.B/§6.3 call for over
// keyring.LocalKeyring/AddLocalKey: a user manages their own signing keys independently of any
// server they talk to.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage local signing keys",
	}
	cmd.AddCommand(newKeyGenerateCmd(), newKeyListCmd())
	return cmd
}

func newKeyGenerateCmd() *cobra.Command {
	var role string
	var privKeyPath string
	cmd := &cobra.Command{
		Use:   "generate <author>",
		Short: "Generate a signing key and add it to the local keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigKey, priv, err := keyring.GenerateSignatureKey(args[0], role)
			if err != nil {
				return err
			}
			if err := keyring.AddLocalKey(sigKey); err != nil {
				return err
			}
			if privKeyPath != "" {
				if err := keyring.WritePrivKey(priv, privKeyPath); err != nil {
					return err
				}
			}
			fmt.Printf("generated %s key for %s\n", role, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "creator", "signing role: creator, host, proxy, verifier, approver")
	cmd.Flags().StringVar(&privKeyPath, "private-key-out", "", "path to also write the private key to")
	return cmd
}

func newKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys in the local keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := keyring.LocalKeyring()
			if err != nil {
				return err
			}
			for _, k := range ring.Key {
				fmt.Printf("%s\t%v\n", k.Label, k.Roles)
			}
			return nil
		},
	}
}
