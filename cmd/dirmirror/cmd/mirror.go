package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/dirmirror"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror <dir>",
	Short: "Mirror a directory tree",
	Long: "Add every file under dir to the content store, assemble its directories " +
		"and print the id of the root. Unchanged paths are served from the cache.",
	Args: cobra.ExactArgs(1),
	RunE: runMirror,
}

func init() {
	mirrorCmd.Flags().String("ignore-file", "", "ignore file (default: <dir>/.mirrorignore)")
	rootCmd.AddCommand(mirrorCmd)
}

func runMirror(cmd *cobra.Command, args []string) (err error) {
	ignoreFile, _ := cmd.Flags().GetString("ignore-file")

	s, err := openMirror(cmd, dirmirror.WithIgnoreFile(ignoreFile))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := s.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Done. %s\n", s.counters.Summary())
	fmt.Println(id)
	return nil
}
