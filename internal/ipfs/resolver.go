package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

var metadataLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblog_metadata_lookups_total",
	Help: "The total number of post metadata lookups by source",
}, []string{"source"})

// UploadStore is the local record of pinned artifacts.
type UploadStore interface {
	FindUpload(ctx context.Context, cid string) (models.Upload, error)
}

// Resolver reads pinned post documents. Content behind a CID never
// changes, so cached documents never expire.
type Resolver struct {
	uploads UploadStore
	gateway string
	client  *resty.Client
	log     zerolog.Logger

	cache *marshaler.Marshaler
	local *ristretto.Cache
}

// NewResolver reads through uploads first, when set, then the in-memory
// cache and finally gateway.
func NewResolver(gateway string, uploads UploadStore) (*Resolver, error) {
	if gateway == "" {
		gateway = DefaultPublicGateway
	}

	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 14,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating metadata cache: %w", err)
	}
	manager := cache.New[any](ristretto_store.NewRistretto(local))

	return &Resolver{
		uploads: uploads,
		gateway: strings.TrimRight(gateway, "/"),
		client:  resty.New().SetTimeout(15 * time.Second),
		log:     log.With().Str("component", "resolver").Logger(),
		cache:   marshaler.New(manager),
		local:   local,
	}, nil
}

func (r *Resolver) Close() error {
	r.local.Close()
	return r.client.Close()
}

func cacheKey(cid string) string {
	return "post-metadata#" + cid
}

// Metadata returns the post document pinned as cid.
func (r *Resolver) Metadata(ctx context.Context, cid string) (models.PostMetadata, error) {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return models.PostMetadata{}, fmt.Errorf("empty content id")
	}

	if r.uploads != nil {
		upload, err := r.uploads.FindUpload(ctx, cid)
		if err == nil && upload.Kind == models.UploadKindJSON {
			metadataLookups.WithLabelValues("store").Inc()
			return upload.Metadata(), nil
		}
	}

	if cached, err := r.cache.Get(ctx, cacheKey(cid), new(models.PostMetadata)); err == nil {
		metadataLookups.WithLabelValues("cache").Inc()
		return *cached.(*models.PostMetadata), nil
	}

	meta, err := r.fetch(ctx, cid)
	if err != nil {
		metadataLookups.WithLabelValues("miss").Inc()
		return models.PostMetadata{}, err
	}
	metadataLookups.WithLabelValues("gateway").Inc()

	if err := r.cache.Set(ctx, cacheKey(cid), meta, store.WithCost(1)); err != nil {
		r.log.Warn().Err(err).Str("cid", cid).Msg("Could not cache metadata")
	}
	return meta, nil
}

func (r *Resolver) fetch(ctx context.Context, cid string) (models.PostMetadata, error) {
	res, err := r.client.R().WithContext(ctx).Get(r.gateway + "/" + cid)
	if err != nil {
		return models.PostMetadata{}, fmt.Errorf("error fetching %s from gateway: %w", cid, err)
	}
	if res.IsError() {
		return models.PostMetadata{}, fmt.Errorf("gateway returned status %d for %s", res.StatusCode(), cid)
	}

	var meta models.PostMetadata
	if err := json.Unmarshal([]byte(res.String()), &meta); err != nil {
		return models.PostMetadata{}, fmt.Errorf("%s is not a post document: %w", cid, err)
	}
	return meta, nil
}

// Warm resolves every cid so later reads are served locally. It returns
// how many documents could be resolved.
func (r *Resolver) Warm(ctx context.Context, cids []string) int {
	resolved := 0
	for _, cid := range cids {
		if ctx.Err() != nil {
			break
		}
		if _, err := r.Metadata(ctx, cid); err != nil {
			r.log.Debug().Err(err).Str("cid", cid).Msg("Could not warm metadata")
			continue
		}
		resolved++
	}
	r.local.Wait()
	return resolved
}
