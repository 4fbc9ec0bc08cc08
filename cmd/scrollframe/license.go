package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/scrollframe/internal/license"
)

// NewLicenseCmd groups the license commands.
func NewLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage the paid-plan license key",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "activate <key>",
		Short: "Validate a key against the license server and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOracle(cmd, func(o *license.Oracle) (license.Status, error) {
				return o.Activate(cmd.Context(), args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored plan and key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOracle(cmd, func(o *license.Oracle) (license.Status, error) {
				return o.Status(cmd.Context())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the key and return to the free plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOracle(cmd, func(o *license.Oracle) (license.Status, error) {
				if err := o.Clear(cmd.Context()); err != nil {
					return license.Status{}, err
				}
				return o.Status(cmd.Context())
			})
		},
	})
	return cmd
}

func withOracle(cmd *cobra.Command, fn func(*license.Oracle) (license.Status, error)) error {
	a, err := loadApp(cmd, os.Stderr)
	if err != nil {
		return err
	}
	kv, err := a.openStore()
	if err != nil {
		return err
	}
	defer kv.Close()

	client := &http.Client{Timeout: 15 * time.Second}
	st, err := fn(license.NewOracle(kv, license.NewValidator(client, a.cfg.LicenseURL), nil))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), st)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
