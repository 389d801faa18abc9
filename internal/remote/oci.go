package remote

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aweris/crccache/internal/codec"
)

const (
	DefaultConcurrency = 4
	DefaultAttempts    = 3
)

// Options configures an OCIRemote.
type Options struct {
	Auth        Authenticator
	Concurrency int
	Attempts    uint
	Insecure    bool // plain http, for local registries
	Logger      log.FieldLogger
}

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	attempts    uint
	log         log.FieldLogger
}

var _ Remote = (*OCIRemote)(nil)

// NewOCIRemote creates a remote from a standard Docker ref (e.g. "ttl.sh/crccache:main").
func NewOCIRemote(imageRef string, opts Options) (*OCIRemote, error) {
	nameOpts := []name.Option{name.WithDefaultTag("latest")}
	if opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	ref, err := name.ParseReference(imageRef, nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	r := &OCIRemote{
		ref:         ref,
		auth:        opts.Auth,
		concurrency: cmp.Or(opts.Concurrency, DefaultConcurrency),
		attempts:    cmp.Or(opts.Attempts, DefaultAttempts),
		log:         opts.Logger,
	}
	if r.log == nil {
		r.log = log.StandardLogger()
	}
	r.log = r.log.WithField("ref", ref.String())
	return r, nil
}

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }

// blobLayer implements v1.Layer with zstd compression for remote transfer.
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   zstdEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// namespaceOf returns the key prefix before the first ':'.
func namespaceOf(key string) string {
	ns, _, ok := strings.Cut(key, ":")
	if !ok {
		return "default"
	}
	return ns
}

// groupByNamespace splits records per namespace, each group sorted by key
// so identical content yields identical layer digests.
func groupByNamespace(records []codec.Record) map[string][]codec.Record {
	groups := make(map[string][]codec.Record)
	for _, rec := range records {
		ns := namespaceOf(rec.Key)
		groups[ns] = append(groups[ns], rec)
	}
	for _, g := range groups {
		slices.SortFunc(g, func(a, b codec.Record) int { return strings.Compare(a.Key, b.Key) })
	}
	return groups
}

// Push uploads records as a new snapshot, one layer per namespace.
func (r *OCIRemote) Push(ctx context.Context, records []codec.Record) (string, error) {
	groups := groupByNamespace(records)
	namespaces := slices.Sorted(maps.Keys(groups))

	layers := make([]v1.Layer, 0, len(namespaces))
	digests := make(map[string]string, len(namespaces))
	var totalRaw, totalCompressed int
	for _, ns := range namespaces {
		data, err := msgpack.Marshal(groups[ns])
		if err != nil {
			return "", fmt.Errorf("encode %s layer: %w", ns, err)
		}
		layer := newBlobLayer(data)
		digest, err := layer.Digest()
		if err != nil {
			return "", fmt.Errorf("digest %s layer: %w", ns, err)
		}
		digests[ns] = digest.String()
		totalRaw += len(data)
		totalCompressed += len(layer.compressed)
		layers = append(layers, layer)
	}

	id := uuid.NewString()
	img, err := r.buildImage(layers, id, len(records), digests)
	if err != nil {
		return "", fmt.Errorf("build image: %w", err)
	}

	r.log.WithFields(log.Fields{
		"snapshot":   id,
		"entries":    len(records),
		"layers":     len(layers),
		"raw":        totalRaw,
		"compressed": totalCompressed,
	}).Info("pushing snapshot")

	if err := r.pushImage(ctx, img); err != nil {
		return "", fmt.Errorf("push image: %w", err)
	}
	return id, nil
}

func (r *OCIRemote) buildImage(layers []v1.Layer, id string, entries int, digests map[string]string) (v1.Image, error) {
	img := empty.Image

	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	digestJSON, err := json.Marshal(digests)
	if err != nil {
		return nil, err
	}

	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{
		LabelSnapshot:   id,
		LabelEntries:    strconv.Itoa(entries),
		LabelNamespaces: string(digestJSON),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIRemote) pushImage(ctx context.Context, img v1.Image) error {
	options, err := r.remoteOptions(ctx)
	if err != nil {
		return err
	}
	options = append(options, remote.WithJobs(r.concurrency))
	return retry.Do(func() error {
		return remote.Write(r.ref, img, options...)
	}, r.retryOptions(ctx)...)
}

// Pull downloads every layer of the snapshot in parallel.
func (r *OCIRemote) Pull(ctx context.Context) (*Snapshot, error) {
	options, err := r.remoteOptions(ctx)
	if err != nil {
		return nil, err
	}
	img, err := retry.DoWithData(func() (v1.Image, error) {
		return remote.Image(r.ref, options...)
	}, r.retryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	id := cfg.Config.Labels[LabelSnapshot]
	if id == "" {
		return nil, fmt.Errorf("%w: missing %s label", ErrNotSnapshot, LabelSnapshot)
	}
	want, err := strconv.Atoi(cfg.Config.Labels[LabelEntries])
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s label: %v", ErrNotSnapshot, LabelEntries, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}

	r.log.WithFields(log.Fields{"snapshot": id, "layers": len(layers)}).Info("pulling snapshot")

	var mu sync.Mutex
	records := make([]codec.Record, 0, want)

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()

	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			batch, err := retry.DoWithData(func() ([]codec.Record, error) {
				return readLayer(layer)
			}, r.retryOptions(ctx)...)
			if err != nil {
				return err
			}
			mu.Lock()
			records = append(records, batch...)
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	if len(records) != want {
		return nil, fmt.Errorf("%w: %d records, label says %d", ErrNotSnapshot, len(records), want)
	}

	slices.SortFunc(records, func(a, b codec.Record) int { return strings.Compare(a.Key, b.Key) })
	return &Snapshot{ID: id, Records: records}, nil
}

// readLayer fetches and decodes one layer. The blob is decompressed here
// rather than through Uncompressed so zstd layers work on every registry.
func readLayer(layer v1.Layer) ([]codec.Record, error) {
	rc, err := layer.Compressed()
	if err != nil {
		return nil, fmt.Errorf("read layer: %w", err)
	}
	compressed, err := io.ReadAll(rc)
	if cerr := rc.Close(); cerr != nil {
		return nil, fmt.Errorf("close layer: %w", cerr)
	}
	if err != nil {
		return nil, fmt.Errorf("read layer: %w", err)
	}

	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("decompress layer: %w", err))
	}
	var batch []codec.Record
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("decode layer: %w", err))
	}
	return batch, nil
}

func (r *OCIRemote) remoteOptions(ctx context.Context) ([]remote.Option, error) {
	options := []remote.Option{remote.WithContext(ctx)}
	a, ok, err := authenticator(r.auth, r.Registry())
	if err != nil {
		return nil, fmt.Errorf("authenticate to %s: %w", r.Registry(), err)
	}
	if ok {
		return append(options, remote.WithAuth(a)), nil
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain)), nil
}

func (r *OCIRemote) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(r.attempts),
		retry.Delay(500 * time.Millisecond),
		retry.MaxDelay(4 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			r.log.WithError(err).WithField("attempt", n+1).Debug("retrying registry operation")
		}),
	}
}
