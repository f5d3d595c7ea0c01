package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	uploadCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainblog_uploads_recorded",
		Help: "Number of pinned artifacts recorded in the upload store.",
	}, []string{"kind"})
)

type UploadCounter interface {
	CountUploads(ctx context.Context) (map[string]int64, error)
}

// Collector refreshes gauges that are read from storage rather than
// counted as events happen.
type Collector struct {
	Uploads  UploadCounter
	Interval time.Duration
}

// Run collects once right away and then on every tick until ctx ends.
func (c *Collector) Run(ctx context.Context) error {
	interval := c.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	c.collect(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	if err := c.Collect(ctx); err != nil {
		log.Warn().Err(err).Msg("Collecting metrics failed")
	}
}

func (c *Collector) Collect(ctx context.Context) error {
	counts, err := c.Uploads.CountUploads(ctx)
	if err != nil {
		return err
	}
	for kind, n := range counts {
		uploadCount.WithLabelValues(kind).Set(float64(n))
	}
	return nil
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
