package oracle

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"ghost-systems/internal/models"
)

// Generator builds randomized digital product jobs from a catalog.
type Generator struct {
	cat Catalog
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator uses rng for every random choice; nil seeds one from the clock.
func NewGenerator(cat Catalog, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{cat: cat, rng: rng, now: time.Now}
}

// Generate returns a pending-ready job. Store-owned fields are left empty.
func (g *Generator) Generate() models.Job {
	kind := g.pickType()
	hook := pick(g.rng, g.cat.Hooks)
	niche := pick(g.rng, g.cat.Niches)
	price := pickPrice(g.rng, g.cat.Prices[string(kind)])

	job := models.Job{
		ProductType:  kind,
		Price:        price,
		Currency:     g.cat.Currency,
		DeliveryType: g.cat.DeliveryType,
	}

	switch kind {
	case models.ProductBundle:
		b := g.cat.Bundles[g.rng.Intn(len(g.cat.Bundles))]
		pack := g.cat.PromptPacks[b.PromptPack]
		kit := g.cat.AutomationKits[b.AutomationKit]
		job.Title = fmt.Sprintf("%s (%s)", b.Title, niche)
		job.Description = fmt.Sprintf("%s. This is a paired bundle: one prompt pack + one automation kit that reinforce each other. "+
			"Digital-only. Instant download. Scarcity-style offer copy included.", hook)
		job.Tags = mergeTags(b.Tags, niche, "digital")
		job.MarketingHooks = []string{hook, "Bundle-only pricing", "Only chance to grab this combo"}
		job.BundleComponents = []models.BundleComponent{
			{Type: models.ProductPromptPack, Title: pack.BaseTitle},
			{Type: models.ProductAutomationKit, Title: kit.BaseTitle},
		}
		job.ImagePrompt = g.cat.BundleImagePrompt
		job.DigitalContent = bundleContent(pack, kit)
	case models.ProductAutomationKit:
		t := g.cat.AutomationKits[g.rng.Intn(len(g.cat.AutomationKits))]
		job.Title = fmt.Sprintf("%s (%s)", t.BaseTitle, niche)
		job.Description = fmt.Sprintf("%s. A complete automation kit for %s. Templates + SOPs + scripts. Digital delivery only.", hook, niche)
		job.Tags = mergeTags(t.Tags, niche, "digital")
		job.MarketingHooks = []string{hook, "Systemized workflow", "Plug-and-play templates"}
		job.ImagePrompt = t.ImagePrompt
		job.DigitalContent = t.DigitalContent
	default:
		t := g.cat.PromptPacks[g.rng.Intn(len(g.cat.PromptPacks))]
		job.Title = fmt.Sprintf("%s (%s)", t.BaseTitle, niche)
		job.Description = fmt.Sprintf("%s. Digital prompt pack designed for %s. Instant download. No physical items. Includes clear instructions.", hook, niche)
		job.Tags = mergeTags(t.Tags, niche, "digital")
		job.MarketingHooks = []string{hook, "Instant download", "Limited-time angles included"}
		job.ImagePrompt = t.ImagePrompt
		job.DigitalContent = t.DigitalContent
	}

	g.estimate(&job)
	job.SKU = SKU(job.Title, string(kind), g.now())
	return job
}

func (g *Generator) pickType() models.ProductType {
	var total float64
	for _, w := range g.cat.Weights {
		total += w.Weight
	}
	r := g.rng.Float64() * total
	var cumulative float64
	for _, w := range g.cat.Weights {
		cumulative += w.Weight
		if r < cumulative {
			return w.Type
		}
	}
	return g.cat.Weights[len(g.cat.Weights)-1].Type
}

// estimate fills the cost, profitability and shelf-life figures.
func (g *Generator) estimate(job *models.Job) {
	costLow, costHigh := 0.50, 2.00
	days := 7 + g.rng.Intn(24)
	if job.ProductType == models.ProductBundle {
		costHigh = 3.00
		days = 3 + g.rng.Intn(8)
	}
	job.EstimatedCostRangeUSD = []float64{costLow, costHigh}
	job.ProfitabilityRangeUSD = []float64{
		round2(math.Max(0, job.Price-costHigh)),
		round2(math.Max(0, job.Price-costLow)),
	}
	job.PopularityEstimateDays = days
}

func bundleContent(pack, kit Template) string {
	var b strings.Builder
	b.WriteString("BUNDLE CONTENTS:\n\n")
	fmt.Fprintf(&b, "1) PROMPT PACK: %s\n%s\n\n", pack.BaseTitle, pack.DigitalContent)
	fmt.Fprintf(&b, "2) AUTOMATION KIT: %s\n%s\n\n", kit.BaseTitle, kit.DigitalContent)
	b.WriteString("BONUS:\n- Limited-time scarcity copy pack\n- 'Secrets they don't want you to know' hook variants\n")
	return b.String()
}

func mergeTags(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, t := range append(append([]string(nil), base...), extra...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func pick(rng *rand.Rand, items []string) string {
	return items[rng.Intn(len(items))]
}

func pickPrice(rng *rand.Rand, ladder []float64) float64 {
	return round2(ladder[rng.Intn(len(ladder))])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Slug transliterates s to ASCII and joins its words with hyphens. Titles
// with nothing to transliterate fall back to a hash of the title.
func Slug(s string) string {
	if out := slug.Make(s); out != "" {
		return out
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("item-%08x", h.Sum32())
}

// SKU is slug(title)_kind_unixseconds.
func SKU(title, kind string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%d", Slug(title), kind, t.Unix())
}
