package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/tutoreval/internal/dataset"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newDatasetsCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Validate and import case datasets",
	}
	cmd.AddCommand(newDatasetsValidateCmd(), newDatasetsImportCmd(connect))
	return cmd
}

func newDatasetsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a dataset file against the case schema without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := loadDataset(args[0])
			if err != nil {
				return err
			}
			if outputFormat(cmd) == outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"name": ds.Name, "num_cases": len(ds.Cases), "valid": true})
			}
			return renderCases(cmd, ds)
		},
	}
}

func newDatasetsImportCmd(connect connectFunc) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Store a dataset file for the default tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := loadDataset(args[0])
			if err != nil {
				return err
			}
			if name != "" {
				ds.Name = name
			}

			a, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Store.CreateDataset(cmd.Context(), ds); err != nil {
				return fmt.Errorf("storing dataset: %w", err)
			}

			if outputFormat(cmd) == outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"dataset_id": ds.ID, "name": ds.Name, "num_cases": len(ds.Cases)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported dataset %s (%s, %d cases)\n", ds.ID, ds.Name, len(ds.Cases))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "dataset name (defaults to the file's name field or base name)")
	return cmd
}

func loadDataset(path string) (*models.Dataset, error) {
	f, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}
	return f.New(store.DefaultTenantID, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

func renderCases(cmd *cobra.Command, ds *models.Dataset) error {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("ID", "Grade", "Subject", "Query")
	for _, c := range ds.Cases {
		q := c.StudentQuery
		if len(q) > 48 {
			q = q[:45] + "..."
		}
		if err := table.Append(c.ID, c.GradeLevel, c.Subject, q); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid cases\n", ds.Name, len(ds.Cases))
	return nil
}
