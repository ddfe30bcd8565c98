package models

// ProductType is the routing tag carried by a job.
type ProductType string

const (
	ProductTShirt          ProductType = "T-Shirt"
	ProductMug             ProductType = "Mug"
	ProductAIPromptPackage ProductType = "AI Prompt Package"
	ProductPromptPack      ProductType = "prompt_pack"
	ProductAutomationKit   ProductType = "automation_kit"
	ProductBundle          ProductType = "bundle"
	ProductTechGadget      ProductType = "Tech Gadget"
)

// Route selects the fulfillment worker for a product type.
type Route int

const (
	RouteUnknown Route = iota
	RoutePOD
	RouteStorefront
	RouteUnsupported
)

func (r Route) String() string {
	switch r {
	case RoutePOD:
		return "pod"
	case RouteStorefront:
		return "storefront"
	case RouteUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Route maps the product type onto exactly one route.
func (p ProductType) Route() Route {
	switch p {
	case ProductTShirt, ProductMug:
		return RoutePOD
	case ProductAIPromptPackage, ProductPromptPack, ProductAutomationKit, ProductBundle:
		return RouteStorefront
	case ProductTechGadget:
		return RouteUnsupported
	default:
		return RouteUnknown
	}
}

// Label is the category shown on the storefront listing.
func (p ProductType) Label() string {
	switch p {
	case ProductPromptPack:
		return "AI Prompt Package"
	case ProductAutomationKit:
		return "Automation Kit"
	case ProductBundle:
		return "Digital Bundle"
	default:
		return string(p)
	}
}

// ChangeKind tags a change notification relative to a filtered query.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one notification delivered by a store subscription.
type Change struct {
	Kind ChangeKind
	Job  Job
}
