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

// ShopifyConfig carries the storefront backend settings.
type ShopifyConfig struct {
	StoreURL    string
	APIKey      string
	APIPassword string
	APIVersion  string
	Vendor      string
}

func (c ShopifyConfig) configured() bool {
	return strings.TrimSpace(c.StoreURL) != "" &&
		strings.TrimSpace(c.APIKey) != "" &&
		strings.TrimSpace(c.APIPassword) != ""
}

func (c ShopifyConfig) productsURL() string {
	base := strings.TrimRight(c.StoreURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/admin/api/%s/products.json", base, c.APIVersion)
}

// Shopify creates digital products directly in the storefront.
type Shopify struct {
	cfg  ShopifyConfig
	call caller
	log  logrus.FieldLogger
}

func NewShopify(cfg ShopifyConfig, client *http.Client, policy retry.Policy, log logrus.FieldLogger) *Shopify {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-04"
	}
	if client == nil {
		client = http.DefaultClient
	}
	log = log.WithField("backend", "shopify")
	return &Shopify{
		cfg:  cfg,
		call: caller{backend: "shopify", client: client, policy: policy, log: log},
		log:  log,
	}
}

func (s *Shopify) Name() string { return "shopify" }

type shopifyVariant struct {
	Price            string `json:"price"`
	RequiresShipping bool   `json:"requires_shipping"`
	Taxable          bool   `json:"taxable"`
}

type shopifyImage struct {
	Src string `json:"src"`
}

type shopifyProduct struct {
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html"`
	ProductType string           `json:"product_type"`
	Vendor      string           `json:"vendor,omitempty"`
	Status      string           `json:"status"`
	Tags        string           `json:"tags,omitempty"`
	Variants    []shopifyVariant `json:"variants"`
	Images      []shopifyImage   `json:"images,omitempty"`
}

type shopifyEnvelope struct {
	Product shopifyProduct `json:"product"`
}

type shopifyResponse struct {
	Product struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	} `json:"product"`
}

// Fulfill creates a non-shipping product, active when the job asks for auto-publish.
func (s *Shopify) Fulfill(ctx context.Context, job models.Job) (Result, error) {
	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "title": job.Title})

	if !s.cfg.configured() {
		return Result{}, fmt.Errorf("%w: SHOPIFY_STORE_URL, SHOPIFY_API_KEY and SHOPIFY_API_PASSWORD are required", ErrNotConfigured)
	}
	if job.Price <= 0 {
		return Result{}, fmt.Errorf("%w: price", ErrMissingField)
	}

	status := "draft"
	if job.AutoPublish {
		status = "active"
	}
	product := shopifyProduct{
		Title:       job.Title,
		BodyHTML:    job.Description,
		ProductType: job.ProductType.Label(),
		Vendor:      s.cfg.Vendor,
		Status:      status,
		Tags:        strings.Join(job.Tags, ", "),
		Variants: []shopifyVariant{{
			Price:            strconv.FormatFloat(job.Price, 'f', 2, 64),
			RequiresShipping: false,
			Taxable:          false,
		}},
	}
	if job.ImageURL != "" {
		product.Images = []shopifyImage{{Src: job.ImageURL}}
	}
	log.WithField("status", status).Info("creating shopify product")

	var resp shopifyResponse
	err := s.call.postJSON(ctx, s.cfg.productsURL(), shopifyEnvelope{Product: product}, func(r *http.Request) {
		r.SetBasicAuth(s.cfg.APIKey, s.cfg.APIPassword)
	}, &resp)
	if err != nil {
		return Result{}, err
	}
	if resp.Product.ID == 0 {
		return Result{}, fmt.Errorf("%w: shopify response has no product id", ErrRemote)
	}

	res := Result{RemoteID: strconv.FormatInt(resp.Product.ID, 10), Name: resp.Product.Title}
	log.WithField("remote_id", res.RemoteID).Infof("shopify product saved as %s", status)
	return res, nil
}
