package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/dirmirror"
	"github.com/aweris/dirmirror/internal/compression"
	"github.com/aweris/dirmirror/internal/ipfs"
	"github.com/aweris/dirmirror/internal/progress"
	"github.com/aweris/dirmirror/internal/store"
)

const (
	backendLocal = "local"
	backendIPFS  = "ipfs"
)

// session is an open mirror plus what the commands report on.
type session struct {
	*dirmirror.Mirror
	counters *progress.Counters
	log      *logrus.Entry
}

// openMirror opens a mirror configured from flags, env and config file.
// A --cache given on the command line must open; one from config or the
// default only warns.
func openMirror(cmd *cobra.Command, extra ...dirmirror.Option) (*session, error) {
	log := logrus.WithField("cmd", cmd.Name())

	level, err := compression.ParseLevel(viper.GetString("compression"))
	if err != nil {
		return nil, err
	}

	counters := &progress.Counters{}
	opts := []dirmirror.Option{
		dirmirror.WithCacheDir(viper.GetString("cache_dir")),
		dirmirror.WithRequireCache(cmd.Flags().Changed("cache")),
		dirmirror.WithStoreDir(viper.GetString("store_dir")),
		dirmirror.WithCompression(level),
		dirmirror.WithJobs(viper.GetInt("jobs")),
		dirmirror.WithLogger(log),
		dirmirror.WithObserver(progress.Multi{progress.NewLogger(log), counters}),
	}

	switch name := viper.GetString("backend"); name {
	case backendLocal, "":
	case backendIPFS:
		runner := ipfs.ExecRunner{Binary: viper.GetString("ipfs_bin")}
		opts = append(opts, dirmirror.WithBackend(ipfs.New(runner, log)))
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}

	m, err := dirmirror.Open(append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	return &session{Mirror: m, counters: counters, log: log}, nil
}

// localStore returns the local object store behind s.
func (s *session) localStore() (*store.LocalStore, error) {
	ls, ok := s.Backend().(*store.LocalStore)
	if !ok {
		return nil, fmt.Errorf("command needs the %s backend", backendLocal)
	}
	return ls, nil
}
