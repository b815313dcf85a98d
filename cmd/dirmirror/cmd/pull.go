package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <ref>",
	Short: "Pull a mirrored tree from a registry",
	Long:  "Fetch a tree pushed with push into the local store and print its root id.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func init() {
	addRegistryFlags(pullCmd)
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) (err error) {
	s, err := openMirror(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ls, err := s.localStore()
	if err != nil {
		return err
	}
	r, err := newRemote(cmd, args[0], s)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Pulling %s...\n", r)
	root, objects, err := r.Pull(cmd.Context())
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	if err := ls.Import(cmd.Context(), objects); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Done. %d objects.\n", len(objects))
	fmt.Println(root)
	return nil
}
