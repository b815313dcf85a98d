package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/dirmirror"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <dir-id> <name> <id>",
	Short: "Attach one link to a directory",
	Long:  "Add id to the directory dir-id under name and print the new directory id.",
	Args:  cobra.ExactArgs(3),
	RunE:  runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) (err error) {
	s, err := openMirror(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	dir, name, target := dirmirror.ContentID(args[0]), args[1], dirmirror.ContentID(args[2])
	id, err := s.Merge(cmd.Context(), dir, name, target)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
