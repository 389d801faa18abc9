// Package remote shares cache snapshots through an OCI registry.
//
// A snapshot is an image whose layers each hold the records of one key
// namespace, msgpack encoded and zstd compressed. The image config carries
// the snapshot id and entry count as labels:
//
//	dev.crccache.snapshot    random uuid, new for every push
//	dev.crccache.entries     total number of records
//	dev.crccache.namespaces  JSON map of namespace -> layer digest
//
// Upload ordering follows go-containerregistry: layers, config, manifest.
package remote

import (
	"context"
	"errors"

	"github.com/aweris/crccache/internal/codec"
)

const (
	LabelSnapshot   = "dev.crccache.snapshot"
	LabelEntries    = "dev.crccache.entries"
	LabelNamespaces = "dev.crccache.namespaces"
)

var ErrNotSnapshot = errors.New("remote: image is not a crccache snapshot")

// Snapshot is the content of one pushed image.
type Snapshot struct {
	ID      string
	Records []codec.Record
}

// Remote handles snapshot transfer.
type Remote interface {
	// Push uploads records as a new snapshot and returns its id.
	Push(ctx context.Context, records []codec.Record) (string, error)

	// Pull downloads the snapshot the reference points at.
	Pull(ctx context.Context) (*Snapshot, error)
}
