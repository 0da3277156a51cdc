package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/erpportal/internal/crypto"
)

func genkeyCmd() *cobra.Command {
	var (
		keyFile string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate the spool master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFile == "-" {
				fmt.Println(crypto.GenerateMasterKey())
				return nil
			}
			if _, err := os.Stat(keyFile); err == nil && !force {
				return fmt.Errorf("%s already exists, refusing to overwrite (use --force)", keyFile)
			}
			if err := os.WriteFile(keyFile, []byte(crypto.GenerateMasterKey()+"\n"), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", keyFile, err)
			}
			fmt.Printf("Master key written to %s\n", keyFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyFile, "out", "o", "master.key", `key file, "-" for stdout`)
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}
