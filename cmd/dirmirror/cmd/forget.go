package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:   "forget <path>...",
	Short: "Drop cached ids",
	Long:  "Remove paths from the cache so the next mirror re-adds them.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) (err error) {
	s, err := openMirror(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if !s.Cached() {
		fmt.Fprintln(os.Stderr, "No cache, nothing to forget.")
		return nil
	}
	for _, path := range args {
		if err := s.Forget(path); err != nil {
			return fmt.Errorf("forget %s: %w", path, err)
		}
	}
	fmt.Fprintf(os.Stderr, "Forgot %d paths.\n", len(args))
	return nil
}
