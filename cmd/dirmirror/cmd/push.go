package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/dirmirror/internal/remote"
)

var pushCmd = &cobra.Command{
	Use:   "push <root-id> <ref>",
	Short: "Push a mirrored tree to a registry",
	Long: "Collect every object reachable from root-id in the local store and " +
		"push them as an OCI image to ref.",
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

func init() {
	addRegistryFlags(pushCmd)
	rootCmd.AddCommand(pushCmd)
}

func addRegistryFlags(cmd *cobra.Command) {
	cmd.Flags().String("username", "", "registry username (default: docker keychain)")
	cmd.Flags().String("password", "", "registry password")
}

// registryCredentials prefers flags over DIRMIRROR_REGISTRY_* and config.
func registryCredentials(cmd *cobra.Command) (string, string) {
	user, _ := cmd.Flags().GetString("username")
	pass, _ := cmd.Flags().GetString("password")
	if user == "" {
		user = viper.GetString("registry_username")
		pass = viper.GetString("registry_password")
	}
	return user, pass
}

func newRemote(cmd *cobra.Command, ref string, s *session) (*remote.OCIRemote, error) {
	opts := []remote.Option{
		remote.WithConcurrency(viper.GetInt("jobs")),
		remote.WithLogger(s.log),
	}
	if user, pass := registryCredentials(cmd); user != "" {
		opts = append(opts, remote.WithAuth(remote.StaticAuthenticator{Username: user, Password: pass}))
	}
	return remote.NewOCIRemote(ref, opts...)
}

func runPush(cmd *cobra.Command, args []string) (err error) {
	root, ref := args[0], args[1]

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
	r, err := newRemote(cmd, ref, s)
	if err != nil {
		return err
	}

	objects, err := ls.Collect(cmd.Context(), root)
	if err != nil {
		return fmt.Errorf("collect %s: %w", root, err)
	}

	fmt.Fprintf(os.Stderr, "Pushing %d objects to %s...\n", len(objects), r)
	if err := r.Push(cmd.Context(), root, objects); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Done. Root: %s\n", root)
	return nil
}
