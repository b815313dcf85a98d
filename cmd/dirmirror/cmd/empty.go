package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var emptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Print the empty directory id",
	Args:  cobra.NoArgs,
	RunE:  runEmpty,
}

func init() {
	rootCmd.AddCommand(emptyCmd)
}

func runEmpty(cmd *cobra.Command, _ []string) (err error) {
	s, err := openMirror(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := s.Empty(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
