package fulfillment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"ghost-systems/internal/models"
	"ghost-systems/internal/retry"
)

// DefaultVariants maps physical product types onto Printful catalog variants.
var DefaultVariants = map[models.ProductType]int{
	models.ProductMug:    7710, // 11oz white glossy mug
	models.ProductTShirt: 4017, // Gildan 64000, white, L
}

// PrintfulConfig carries the POD backend settings.
type PrintfulConfig struct {
	BaseURL  string
	APIKey   string
	Variants map[models.ProductType]int
}

// Printful creates print-on-demand sync products.
type Printful struct {
	cfg  PrintfulConfig
	call caller
	log  logrus.FieldLogger
}

func NewPrintful(cfg PrintfulConfig, client *http.Client, policy retry.Policy, log logrus.FieldLogger) *Printful {
	if cfg.Variants == nil {
		cfg.Variants = DefaultVariants
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = http.DefaultClient
	}
	log = log.WithField("backend", "printful")
	return &Printful{
		cfg:  cfg,
		call: caller{backend: "printful", client: client, policy: policy, log: log},
		log:  log,
	}
}

func (p *Printful) Name() string { return "printful" }

type printfulFile struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type printfulVariant struct {
	RetailPrice string         `json:"retail_price"`
	VariantID   int            `json:"variant_id"`
	Files       []printfulFile `json:"files"`
}

type printfulProduct struct {
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type printfulRequest struct {
	SyncProduct  printfulProduct   `json:"sync_product"`
	SyncVariants []printfulVariant `json:"sync_variants"`
	Publish      bool              `json:"publish"`
}

type printfulResponse struct {
	Result struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"result"`
}

// Fulfill validates the job locally, then creates the sync product.
func (p *Printful) Fulfill(ctx context.Context, job models.Job) (Result, error) {
	log := p.log.WithFields(logrus.Fields{"job_id": job.ID, "title": job.Title})

	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return Result{}, fmt.Errorf("%w: PRINTFUL_API_KEY is not set", ErrNotConfigured)
	}
	if strings.TrimSpace(job.ImageURL) == "" {
		return Result{}, fmt.Errorf("%w: imageUrl (printful products require an image)", ErrMissingField)
	}
	if job.Price <= 0 {
		return Result{}, fmt.Errorf("%w: price", ErrMissingField)
	}
	variantID, ok := p.cfg.Variants[job.ProductType]
	if !ok {
		return Result{}, fmt.Errorf("%w: no printful variant for product type %q", ErrNotConfigured, job.ProductType)
	}

	req := printfulRequest{
		SyncProduct: printfulProduct{Name: job.Title, Thumbnail: job.ImageURL},
		SyncVariants: []printfulVariant{{
			RetailPrice: strconv.FormatFloat(job.Price, 'f', 2, 64),
			VariantID:   variantID,
			Files:       []printfulFile{{Type: "default", URL: job.ImageURL}},
		}},
		Publish: job.AutoPublish,
	}
	log.WithFields(logrus.Fields{"variant_id": variantID, "publish": job.AutoPublish}).Info("creating printful product")

	var resp printfulResponse
	err := p.call.postJSON(ctx, p.cfg.BaseURL+"/store/products", req, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}, &resp)
	if err != nil {
		return Result{}, err
	}
	if resp.Result.ID == 0 {
		return Result{}, fmt.Errorf("%w: printful response has no product id", ErrRemote)
	}

	res := Result{RemoteID: strconv.FormatInt(resp.Result.ID, 10), Name: resp.Result.Name}
	log.WithField("remote_id", res.RemoteID).Info("printful product created")
	return res, nil
}
