package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
	"github.com/lolishinshi/imsearch-go/internal/output"
)

type trainOptions struct {
	clusters int
	samples  int
}

// newTrainCmd implements `imsearch train -c K -i N` (spec §3 "training
// of the coarse quantizer is external", spec §6): samples descriptors
// already in the catalog and writes a fresh quantizer.bin, the frozen
// template every later build clones (spec §4.4 step 1).
func newTrainCmd() *cobra.Command {
	var opts trainOptions

	c := &cobra.Command{
		Use:   "train",
		Short: "Train the coarse quantizer from catalogued descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, opts)
		},
	}

	c.Flags().IntVarP(&opts.clusters, "clusters", "c", 0, "coarse quantizer bucket count K (0 = use config default)")
	c.Flags().IntVarP(&opts.samples, "samples", "i", 1_000_000, "maximum descriptors sampled for training")

	return c
}

func runTrain(cmd *cobra.Command, opts trainOptions) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	nlist := e.Config.Build.NList
	if opts.clusters > 0 {
		nlist = opts.clusters
	}

	store, err := e.openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	out := output.New(cmd.OutOrStdout())

	samples, err := store.SampleDescriptors(cmd.Context(), opts.samples)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return ierrors.New(ierrors.ErrCodeBadRequest, "no descriptors catalogued yet; run `imsearch add` first", nil)
	}
	out.Statusf("🧮", "training on %d sampled descriptors (K=%d)", len(samples), nlist)

	if _, err := config.Backup(e.Dir); err != nil {
		return err
	}

	idx, err := annindex.New(e.Config.Build.ANNLibrary, nlist, "")
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Train(cmd.Context(), samples); err != nil {
		return ierrors.Wrap(ierrors.ErrCodeANNFail, err)
	}
	if err := idx.Write(e.Layout.Quantizer); err != nil {
		return ierrors.Wrap(ierrors.ErrCodeSegmentWrite, err)
	}

	e.Config.Build.NList = nlist
	if err := config.Save(e.Dir, e.Config); err != nil {
		return err
	}

	out.Successf("wrote quantizer to %s", e.Layout.Quantizer)
	return nil
}
