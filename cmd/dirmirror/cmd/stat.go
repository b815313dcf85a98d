package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/dirmirror"
)

var statCmd = &cobra.Command{
	Use:   "stat <id>",
	Short: "Show the size of an object",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) (err error) {
	s, err := openMirror(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	stat, err := s.Stat(cmd.Context(), dirmirror.ContentID(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("id\t%s\n", stat.ID)
	fmt.Printf("kind\t%s\n", stat.Kind)
	fmt.Printf("size\t%d\n", stat.Size)
	fmt.Printf("cumulative\t%d\n", stat.CumulativeSize)
	fmt.Printf("links\t%d\n", stat.Links)
	return nil
}
