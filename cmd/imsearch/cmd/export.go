package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/internal/output"
)

type exportOptions struct {
	json bool
}

// newExportCmd implements `imsearch export` (spec §6): dumps every
// catalogued image's metadata and indexing status, independent of the
// opaque index files, for offline backup or audit.
func newExportCmd() *cobra.Command {
	var opts exportOptions

	c := &cobra.Command{
		Use:   "export",
		Short: "Export catalog metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	c.Flags().BoolVar(&opts.json, "json", true, "print records as JSON lines")

	return c
}

func runExport(cmd *cobra.Command, opts exportOptions) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	store, err := e.openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ExportAll(cmd.Context())
	if err != nil {
		return err
	}

	if !opts.json {
		out := output.New(cmd.OutOrStdout())
		for _, r := range records {
			out.Statusf("", "%d  hash=%s  vectors=%d  indexed=%v  paths=%v", r.ID, r.Hash, r.VectorCount, r.Indexed, r.Paths)
		}
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
