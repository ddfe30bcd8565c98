package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates lifecycle states of a job document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusComplete: true,
		StatusFailed:   true,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// IsTerminal reports whether no further transition is allowed out of s.
func IsTerminal(s Status) bool {
	return s == StatusComplete || s == StatusFailed
}

// CanFinalize reports whether a finalize write may land on a job currently in s.
// A pending job is accepted because a failed claim write does not stop processing.
func CanFinalize(s Status) bool {
	return s == StatusPending || s == StatusProcessing
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusProcessing, StatusComplete, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// BundleComponent names one item folded into a bundle.
type BundleComponent struct {
	Type  ProductType `json:"type" yaml:"type"`
	Title string      `json:"title" yaml:"title"`
}

// Job is one product to be created, carrying its own lifecycle status.
type Job struct {
	ID                     string            `json:"id"`
	SKU                    string            `json:"sku,omitempty"`
	Status                 Status            `json:"status"`
	ProductType            ProductType       `json:"productType"`
	Title                  string            `json:"title"`
	Description            string            `json:"description,omitempty"`
	Price                  float64           `json:"price"`
	Currency               string            `json:"currency,omitempty"`
	ImageURL               string            `json:"imageUrl,omitempty"`
	AutoPublish            bool              `json:"autoPublish"`
	DeliveryType           string            `json:"deliveryType,omitempty"`
	Tags                   []string          `json:"tags,omitempty"`
	MarketingHooks         []string          `json:"marketingHooks,omitempty"`
	ImagePrompt            string            `json:"imagePrompt,omitempty"`
	DigitalContent         string            `json:"digitalContent,omitempty"`
	BundleComponents       []BundleComponent `json:"bundleComponents,omitempty"`
	EstimatedCostRangeUSD  []float64         `json:"estimatedCostRangeUsd,omitempty"`
	ProfitabilityRangeUSD  []float64         `json:"profitabilityRangeUsd,omitempty"`
	PopularityEstimateDays int               `json:"popularityEstimateDays,omitempty"`
	Source                 string            `json:"source,omitempty"`
	Version                string            `json:"version,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
}

// ErrInvalidJob marks a document rejected at creation time.
var ErrInvalidJob = errors.New("invalid job")

// Validate checks the fields every job needs regardless of route.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidJob)
	}
	if j.ProductType == "" {
		return fmt.Errorf("%w: productType is required", ErrInvalidJob)
	}
	if j.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidJob)
	}
	return nil
}

// AuditLog is a bookkeeping row kept beside the job document.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
