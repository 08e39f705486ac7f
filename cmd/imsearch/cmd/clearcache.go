package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/internal/output"
)

type clearCacheOptions struct {
	all bool
}

// newClearCacheCmd implements `imsearch clear-cache [--all]` (spec
// §6). A bare CLI invocation holds no in-memory phash LRU of its own
// (that lives inside a running `server` process's engine.State), so
// there is nothing in-process to purge; what this subcommand can act
// on is the persisted cache file at phash.cache -- written by a
// running server on its periodic save tick and at shutdown, and by a
// one-shot `search` invocation when it exits -- removed only with
// --all, matching the spec's "also removes phash.cache from disk".
func newClearCacheCmd() *cobra.Command {
	var opts clearCacheOptions

	c := &cobra.Command{
		Use:   "clear-cache",
		Short: "Clear the perceptual-hash cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClearCache(cmd, opts)
		},
	}

	c.Flags().BoolVar(&opts.all, "all", false, "also remove the persisted phash.cache file")

	return c
}

func runClearCache(cmd *cobra.Command, opts clearCacheOptions) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	out := output.New(cmd.OutOrStdout())

	if !opts.all {
		out.Status("", "nothing to clear: this process holds no in-memory cache; pass --all to remove phash.cache from disk")
		return nil
	}

	if err := os.Remove(e.Layout.PhashCache); err != nil {
		if os.IsNotExist(err) {
			out.Status("", "no phash.cache file present")
			return nil
		}
		return err
	}
	out.Successf("removed %s", e.Layout.PhashCache)
	return nil
}
