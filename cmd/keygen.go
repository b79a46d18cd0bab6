package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/sealed"
)

func newKeygenCmd() *cobra.Command {
	var (
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key for encrypting stored messages",
		Long: "Generates a random key and writes it to a file readable only by you.\n" +
			"Point storage.encryption_key_file at it to store message content encrypted.\n" +
			"Messages written before the key was configured stay readable.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				cfg, err := initConfig()
				if err != nil {
					return err
				}
				out = filepath.Join(cfg.DataDir, "keys", "history.key")
			}
			if !force {
				if _, err := os.Stat(out); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", out)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}

			key, err := sealed.GenerateKey()
			if err != nil {
				return err
			}
			if err := sealed.SaveKey(out, key); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out)
			fmt.Fprintf(cmd.ErrOrStderr(), "\nadd to your config:\n\n  storage:\n    encryption_key_file: %s\n\n", out)
			fmt.Fprintf(cmd.ErrOrStderr(), "losing this file makes encrypted history unreadable\n")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "key file path (default <data_dir>/keys/history.key)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}
