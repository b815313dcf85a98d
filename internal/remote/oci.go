package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultConcurrency = 4
	DefaultRetries     = 3

	rootLabel = "dev.dirmirror.root"
)

var ErrNoRoot = errors.New("remote: image has no " + rootLabel + " label")

// OCIRemote stores mirrored objects as layers of an OCI image.
type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	retries     uint64
	layerSize   int
	log         *logrus.Entry
}

var _ Remote = (*OCIRemote)(nil)

// Option configures an OCIRemote.
type Option func(*OCIRemote)

func WithAuth(auth Authenticator) Option {
	return func(r *OCIRemote) { r.auth = auth }
}

func WithConcurrency(n int) Option {
	return func(r *OCIRemote) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRetries sets how many times a failed registry call is retried.
func WithRetries(n uint64) Option {
	return func(r *OCIRemote) { r.retries = n }
}

// WithLayerSize sets the target layer size in bytes.
func WithLayerSize(n int) Option {
	return func(r *OCIRemote) { r.layerSize = n }
}

func WithLogger(log *logrus.Entry) Option {
	return func(r *OCIRemote) {
		if log != nil {
			r.log = log
		}
	}
}

// NewOCIRemote creates a remote for a docker style ref, e.g.
// "ttl.sh/mirror/docs:latest".
func NewOCIRemote(imageRef string, opts ...Option) (*OCIRemote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}

	r := &OCIRemote{
		ref:         ref,
		concurrency: DefaultConcurrency,
		retries:     DefaultRetries,
		layerSize:   LayerTargetSize,
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }

// objectLayer is a v1.Layer holding packed objects, zstd compressed.
type objectLayer struct {
	compressed   []byte
	uncompressed []byte
}

var layerEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newObjectLayer(data []byte) *objectLayer {
	return &objectLayer{
		compressed:   layerEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *objectLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *objectLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *objectLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}

func (l *objectLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}

func (l *objectLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *objectLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push uploads objects as layers and tags the image with root.
func (r *OCIRemote) Push(ctx context.Context, root string, objects map[string][]byte) error {
	if _, ok := objects[root]; !ok {
		return fmt.Errorf("push: root %s is not among the objects", root)
	}

	plan := BuildLayerPlan(objects, r.layerSize)
	layers := make([]v1.Layer, 0, len(plan))

	var raw, packed int64
	for _, ids := range plan {
		group := make(map[string][]byte, len(ids))
		for _, id := range ids {
			group[id] = objects[id]
		}
		data, err := PackLayer(group)
		if err != nil {
			return err
		}
		layer := newObjectLayer(data)
		raw += int64(len(layer.uncompressed))
		packed += int64(len(layer.compressed))
		layers = append(layers, layer)
	}

	r.log.WithFields(logrus.Fields{
		"ref":     r.ref.String(),
		"objects": len(objects),
		"layers":  len(layers),
		"bytes":   raw,
		"packed":  packed,
	}).Info("pushing")

	img, err := mutate.AppendLayers(empty.Image, layers...)
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{rootLabel: root}
	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}

	_, err = retry(ctx, r.retries, r.log, func() (struct{}, error) {
		opts := append(r.remoteOptions(ctx), remote.WithJobs(r.concurrency))
		return struct{}{}, remote.Write(r.ref, img, opts...)
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", r.ref, err)
	}
	return nil
}

// Pull fetches the image and unpacks every layer.
func (r *OCIRemote) Pull(ctx context.Context) (string, map[string][]byte, error) {
	img, err := retry(ctx, r.retries, r.log, func() (v1.Image, error) {
		return remote.Image(r.ref, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return "", nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return "", nil, fmt.Errorf("get config: %w", err)
	}
	root := cfg.Config.Labels[rootLabel]
	if root == "" {
		return "", nil, ErrNoRoot
	}

	layers, err := img.Layers()
	if err != nil {
		return "", nil, fmt.Errorf("get layers: %w", err)
	}

	r.log.WithFields(logrus.Fields{"ref": r.ref.String(), "layers": len(layers)}).Info("pulling")

	var mu sync.Mutex
	objects := make(map[string][]byte)

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()
	for _, layer := range layers {
		layer := layer
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			unpacked, err := UnpackLayer(data)
			if err != nil {
				return err
			}

			mu.Lock()
			for id, obj := range unpacked {
				objects[id] = obj
			}
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return "", nil, err
	}

	if _, ok := objects[root]; !ok {
		return "", nil, fmt.Errorf("pull: root %s missing from layers", root)
	}
	return root, objects, nil
}

func (r *OCIRemote) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}
	if a := authenticator(r.auth, r.Registry()); a != nil {
		return append(opts, remote.WithAuth(a))
	}
	return append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, retries uint64, log *logrus.Entry, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond

	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("wait", wait).Warn("registry call failed, retrying")
	}
	return backoff.RetryNotifyWithData(fn, b, notify)
}
