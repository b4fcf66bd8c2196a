package main

import (
	"fmt"

	mw "github.com/kiranshivaraju/tutoreval/internal/api/middleware"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newKeysCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys for the default tenant",
	}
	cmd.AddCommand(newKeysCreateCmd(connect), newKeysListCmd(connect))
	return cmd
}

func newKeysCreateCmd(connect connectFunc) *cobra.Command {
	var (
		name   string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range scopes {
				if s != mw.ScopeRead && s != mw.ScopeWrite && s != mw.ScopeAdmin {
					return fmt.Errorf("unknown scope %q", s)
				}
			}
			key, raw, err := mw.GenerateKey(store.DefaultTenantID, name, scopes)
			if err != nil {
				return err
			}

			a, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Store.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}

			if outputFormat(cmd) == outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"id": key.ID, "name": key.Name, "key": raw, "key_prefix": key.KeyPrefix, "scopes": key.Scopes,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created key %s (%s)\n%s\n", key.ID, key.Name, raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "comma separated scopes: read, write, admin (default read,write)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeysListCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			keys, err := a.Store.ListAPIKeys(cmd.Context(), store.DefaultTenantID)
			if err != nil {
				return fmt.Errorf("listing keys: %w", err)
			}
			if outputFormat(cmd) == outputJSON {
				return writeJSON(cmd.OutOrStdout(), keys)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("ID", "Name", "Prefix", "Scopes", "Last Used")
			for _, k := range keys {
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
				}
				if err := table.Append(k.ID.String(), k.Name, k.KeyPrefix, fmt.Sprint(k.Scopes), lastUsed); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}
