package remote

import (
	"context"
	"errors"
	"io"
	stdlog "log"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/crccache/internal/codec"
	"github.com/aweris/crccache/internal/store"
)

func newTestRegistry(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(registry.New(registry.Logger(stdlog.New(io.Discard, "", 0))))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func newTestRemote(t *testing.T, ref string, opts Options) *OCIRemote {
	t.Helper()
	l := log.New()
	l.SetOutput(io.Discard)
	opts.Insecure = true
	opts.Logger = l
	r, err := NewOCIRemote(ref, opts)
	require.NoError(t, err)
	return r
}

func sampleRecords() []codec.Record {
	return []codec.Record{
		{Key: "file:/srv/a.rar", Kind: store.KindChecksum, CRC: 0xdeadbeef, Accessed: 1},
		{Key: "sfv:/srv", Kind: store.KindChecksumMap, CRCs: map[string]string{"a.rar": "deadbeef"}, Accessed: 2},
		{Key: "file:/srv/b.r00", Kind: store.KindChecksum, CRC: 7, Accessed: 3},
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRemote(t, newTestRegistry(t)+"/crccache:main", Options{})

	id, err := r.Push(ctx, sampleRecords())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	snap, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	require.Len(t, snap.Records, 3)
	assert.Equal(t, "file:/srv/a.rar", snap.Records[0].Key)
	assert.Equal(t, uint32(0xdeadbeef), snap.Records[0].CRC)
	assert.Equal(t, "sfv:/srv", snap.Records[2].Key)
	assert.Equal(t, map[string]string{"a.rar": "deadbeef"}, snap.Records[2].CRCs)
}

func TestPushCreatesLayerPerNamespace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ref := newTestRegistry(t) + "/crccache:layers"
	r := newTestRemote(t, ref, Options{})

	id, err := r.Push(ctx, sampleRecords())
	require.NoError(t, err)

	parsed, err := name.ParseReference(ref, name.Insecure)
	require.NoError(t, err)
	img, err := remote.Image(parsed)
	require.NoError(t, err)
	layers, err := img.Layers()
	require.NoError(t, err)
	assert.Len(t, layers, 2)

	cfg, err := img.ConfigFile()
	require.NoError(t, err)
	assert.Equal(t, id, cfg.Config.Labels[LabelSnapshot])
	assert.Equal(t, "3", cfg.Config.Labels[LabelEntries])
	assert.Contains(t, cfg.Config.Labels[LabelNamespaces], `"sfv"`)
}

func TestPushEmptySnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRemote(t, newTestRegistry(t)+"/crccache:empty", Options{})

	_, err := r.Push(ctx, nil)
	require.NoError(t, err)

	snap, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
}

func TestPullRejectsForeignImage(t *testing.T) {
	t.Parallel()

	ref := newTestRegistry(t) + "/other:latest"
	parsed, err := name.ParseReference(ref, name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.Write(parsed, empty.Image))

	r := newTestRemote(t, ref, Options{Attempts: 1})
	_, err = r.Pull(context.Background())
	assert.ErrorIs(t, err, ErrNotSnapshot)
}

func TestPullMissingImage(t *testing.T) {
	t.Parallel()

	r := newTestRemote(t, newTestRegistry(t)+"/crccache:none", Options{Attempts: 1})
	_, err := r.Pull(context.Background())
	assert.Error(t, err)
}

type failingAuth struct{}

func (failingAuth) Authenticate(string) (string, string, error) {
	return "", "", errors.New("vault sealed")
}

func TestAuthenticatorError(t *testing.T) {
	t.Parallel()

	r := newTestRemote(t, newTestRegistry(t)+"/crccache:auth", Options{Auth: failingAuth{}})
	_, err := r.Push(context.Background(), sampleRecords())
	assert.ErrorContains(t, err, "vault sealed")
}

func TestStaticAuth(t *testing.T) {
	t.Parallel()

	a, ok, err := authenticator(Static{Username: "u", Password: "p"}, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	cfg, err := a.Authorization()
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.Username)

	_, ok, err = authenticator(Static{}, "example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadReference(t *testing.T) {
	t.Parallel()

	_, err := NewOCIRemote("UPPER/case::bad", Options{})
	assert.Error(t, err)
}
