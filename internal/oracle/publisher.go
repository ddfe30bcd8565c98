package oracle

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ghost-systems/internal/archive"
	"ghost-systems/internal/models"
	"ghost-systems/internal/telemetry"
)

const (
	Source         = "oracle"
	DefaultVersion = "2.0-digital-only-bundle-heavy"
)

// JobWriter is the subset of the job store the publisher needs.
type JobWriter interface {
	FindBySKU(ctx context.Context, sku string) (models.Job, bool, error)
	CreateJob(ctx context.Context, job models.Job) (models.Job, error)
}

// Publisher writes generated products as pending jobs.
type Publisher struct {
	store   JobWriter
	gen     *Generator
	archive archive.Uploader
	version string
	log     logrus.FieldLogger
}

// NewPublisher builds a publisher. archive may be nil to skip metadata copies.
func NewPublisher(st JobWriter, gen *Generator, up archive.Uploader, version string, log logrus.FieldLogger) *Publisher {
	if version == "" {
		version = DefaultVersion
	}
	return &Publisher{store: st, gen: gen, archive: up, version: version, log: log}
}

// Publish generates one product and stores it. created is false when a job
// with the same SKU already exists, in which case the existing job is returned.
func (p *Publisher) Publish(ctx context.Context) (job models.Job, created bool, err error) {
	job = p.gen.Generate()
	job.Status = models.StatusPending
	job.Source = Source
	job.Version = p.version

	log := p.log.WithFields(logrus.Fields{"sku": job.SKU, "product_type": string(job.ProductType)})

	existing, found, err := p.store.FindBySKU(ctx, job.SKU)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("lookup sku %s: %w", job.SKU, err)
	}
	if found {
		log.WithField("job_id", existing.ID).Info("sku already published, skipping")
		return existing, false, nil
	}

	stored, err := p.store.CreateJob(ctx, job)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("create job %s: %w", job.SKU, err)
	}
	job = stored
	telemetry.ProductsGenerated.WithLabelValues(string(job.ProductType)).Inc()
	log = log.WithField("job_id", job.ID)
	log.WithField("price", job.Price).Info("created pending product")

	if p.archive != nil {
		where, aerr := archive.PutJSON(ctx, p.archive, "meta/"+job.SKU+".json", job)
		if aerr != nil {
			log.WithError(aerr).Warn("archive metadata failed")
		} else {
			log.WithField("path", where).Debug("archived metadata")
		}
	}
	return job, true, nil
}
