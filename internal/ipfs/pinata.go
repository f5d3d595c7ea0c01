// Package ipfs pins post documents and images through Pinata and reads
// them back through a public gateway.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"
)

const (
	DefaultBaseURL       = "https://api.pinata.cloud"
	DefaultPinataGateway = "https://gateway.pinata.cloud/ipfs"
	DefaultPublicGateway = "https://ipfs.io/ipfs"

	pinFile = "/pinning/pinFileToIPFS"
)

var ErrUploadFailed = errors.New("upload to ipfs failed")

var uploadsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblog_ipfs_uploads_total",
	Help: "The total number of pinning requests by kind and status",
}, []string{"kind", "status"})

// Artifact is a pinned piece of content. The CID is trusted as returned.
type Artifact struct {
	CID        string `json:"cid"`
	IPFSURL    string `json:"ipfsUrl"`
	GatewayURL string `json:"gatewayUrl"`
	PublicURL  string `json:"publicUrl"`
}

// Options describe a JSON upload. Name defaults to a timestamped file name.
type Options struct {
	Name       string
	KeyValues  map[string]string
	CIDVersion int
}

type PinataConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
}

// Pinata uploads files to the Pinata pinning API. Uploads are sent once
// and never retried.
type Pinata struct {
	client *resty.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewPinata(cfg PinataConfig) *Pinata {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("pinata_api_key", cfg.APIKey).
		SetHeader("pinata_secret_api_key", cfg.APISecret)

	return &Pinata{
		client: client,
		log:    log.With().Str("component", "pinata").Logger(),
		now:    time.Now,
	}
}

func (p *Pinata) Close() error {
	return p.client.Close()
}

type pinMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues"`
}

type pinOptions struct {
	CIDVersion int `json:"cidVersion"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// UploadJSON pins v encoded as a JSON file.
func (p *Pinata) UploadJSON(ctx context.Context, v any, opts Options) (Artifact, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Artifact{}, fmt.Errorf("error encoding json upload: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("json-%d.json", p.now().UnixMilli())
	}
	return p.pin(ctx, "json", body, name, "application/json", name, opts.KeyValues, opts.CIDVersion)
}

// UploadImage pins raw image bytes under filename.
func (p *Pinata) UploadImage(ctx context.Context, data []byte, filename, mimeType string) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, fmt.Errorf("%w: no file provided", ErrUploadFailed)
	}
	name := filename
	if name == "" {
		name = fmt.Sprintf("image-%d", p.now().UnixMilli())
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return p.pin(ctx, "image", data, name, mimeType, name, nil, 0)
}

func (p *Pinata) pin(ctx context.Context, kind string, data []byte, filename, contentType, name string, keyValues map[string]string, cidVersion int) (Artifact, error) {
	if keyValues == nil {
		keyValues = map[string]string{}
	}
	metadata, err := json.Marshal(pinMetadata{Name: name, KeyValues: keyValues})
	if err != nil {
		return Artifact{}, err
	}
	options, err := json.Marshal(pinOptions{CIDVersion: cidVersion})
	if err != nil {
		return Artifact{}, err
	}

	res, err := p.client.R().
		WithContext(ctx).
		SetMultipartFormData(map[string]string{
			"pinataMetadata": string(metadata),
			"pinataOptions":  string(options),
		}).
		SetMultipartField("file", filename, contentType, bytes.NewReader(data)).
		SetResult(&pinResponse{}).
		Post(pinFile)
	if err != nil {
		uploadsProcessed.WithLabelValues(kind, "error").Inc()
		p.log.Error().Err(err).Str("kind", kind).Msg("Upload failed")
		return Artifact{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if res.IsError() {
		uploadsProcessed.WithLabelValues(kind, "rejected").Inc()
		p.log.Error().Int("status", res.StatusCode()).Str("kind", kind).Msg("Upload rejected by pinning service")
		return Artifact{}, fmt.Errorf("%w: status %d: %s", ErrUploadFailed, res.StatusCode(), strings.TrimSpace(res.String()))
	}

	pinned, ok := res.Result().(*pinResponse)
	if !ok || pinned.IpfsHash == "" {
		uploadsProcessed.WithLabelValues(kind, "error").Inc()
		return Artifact{}, fmt.Errorf("%w: response carries no IpfsHash", ErrUploadFailed)
	}

	uploadsProcessed.WithLabelValues(kind, "ok").Inc()
	p.log.Info().Str("kind", kind).Str("cid", pinned.IpfsHash).Int64("size", pinned.PinSize).Msg("Pinned")
	return NewArtifact(pinned.IpfsHash), nil
}

func NewArtifact(cid string) Artifact {
	return Artifact{
		CID:        cid,
		IPFSURL:    "ipfs://" + cid,
		GatewayURL: DefaultPinataGateway + "/" + cid,
		PublicURL:  DefaultPublicGateway + "/" + cid,
	}
}
