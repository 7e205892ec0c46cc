package matcher

import (
	"fmt"
	"log"
	"strings"

	"pricewise/models"

	"github.com/google/uuid"
)

const (
	titleWeight    = 0.85
	categoryWeight = 0.15
	tieEpsilon     = 1e-9
)

// Options tune clustering
type Options struct {
	// Threshold is the minimum score for a listing to join an existing cluster
	Threshold float64
	// AmbiguityMargin flags a match when the runner-up scores this close to the winner
	AmbiguityMargin float64
}

// Report describes decisions made while clustering
type Report struct {
	Ambiguous  int
	Duplicates int
}

// Matcher groups listings from different stores into canonical products
type Matcher struct {
	opts Options
}

// New creates a matcher, filling zero options with defaults
func New(opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.55
	}
	if opts.AmbiguityMargin < 0 {
		opts.AmbiguityMargin = 0
	}
	return &Matcher{opts: opts}
}

type cluster struct {
	product  models.CanonicalProduct
	tokens   []string
	category string
}

// Cluster assigns each listing, in input order, to the best-scoring existing
// cluster or to a new one. The result keeps cluster creation order.
func (m *Matcher) Cluster(listings []models.RawListing) []models.CanonicalProduct {
	products, _ := m.ClusterReport(listings)
	return products
}

// ClusterReport is Cluster plus counts of ambiguous matches and dropped duplicates
func (m *Matcher) ClusterReport(listings []models.RawListing) ([]models.CanonicalProduct, Report) {
	var clusters []*cluster
	var report Report

	for _, l := range listings {
		tokens := Tokens(l.Title)
		category := listingCategory(l)

		best, runnerUp := m.bestCluster(clusters, tokens, category)
		if best == nil {
			clusters = append(clusters, &cluster{
				product: models.CanonicalProduct{
					Title:    strings.TrimSpace(l.Title),
					Category: category,
					Members:  []models.RawListing{l},
				},
				tokens:   tokens,
				category: category,
			})
			continue
		}

		if runnerUp != nil {
			report.Ambiguous++
			log.Printf("⚠️  %v: %q scores %.3f for %q and %.3f for %q, keeping the first",
				models.ErrMatchingAmbiguous, l.Title, best.score, best.c.product.Title, runnerUp.score, runnerUp.c.product.Title)
		}

		if !best.c.add(l) {
			report.Duplicates++
		}
		if best.c.category == "" && category != "" {
			best.c.category = category
			best.c.product.Category = category
		}
	}

	products := make([]models.CanonicalProduct, len(clusters))
	used := make(map[string]bool, len(clusters))
	for i, c := range clusters {
		id := productID(c.tokens, c.product.Title)
		if used[id] {
			id = productID(append(c.tokens, fmt.Sprint(i)), c.product.Title)
		}
		used[id] = true
		c.product.ID = id
		products[i] = c.product
	}
	return products, report
}

type candidate struct {
	c     *cluster
	score float64
	order int
}

// bestCluster returns the winning cluster, and the runner-up when the match is ambiguous
func (m *Matcher) bestCluster(clusters []*cluster, tokens []string, category string) (*candidate, *candidate) {
	var best, second *candidate
	for i, c := range clusters {
		score := Score(tokens, category, c.tokens, c.category)
		if score < m.opts.Threshold {
			continue
		}
		cand := &candidate{c: c, score: score, order: i}
		switch {
		case best == nil:
			best = cand
		case better(cand, best):
			best, second = cand, best
		case second == nil || better(cand, second):
			second = cand
		}
	}
	if best != nil && second != nil && best.score-second.score <= m.opts.AmbiguityMargin {
		return best, second
	}
	return best, nil
}

// better prefers higher score, then more members, then earlier creation
func better(a, b *candidate) bool {
	if diff := a.score - b.score; diff > tieEpsilon || diff < -tieEpsilon {
		return diff > 0
	}
	if la, lb := len(a.c.product.Members), len(b.c.product.Members); la != lb {
		return la > lb
	}
	return a.order < b.order
}

// add joins l to the cluster. A store already present keeps only its cheaper
// listing; add reports false when one of the two was dropped.
func (c *cluster) add(l models.RawListing) bool {
	for i, existing := range c.product.Members {
		if existing.StoreID != l.StoreID {
			continue
		}
		if l.Price > 0 && (existing.Price <= 0 || l.Price < existing.Price) {
			c.product.Members[i] = l
		}
		return false
	}
	c.product.Members = append(c.product.Members, l)
	return true
}

// Score combines title token overlap with category agreement
func Score(tokens []string, category string, clusterTokens []string, clusterCategory string) float64 {
	return titleWeight*Jaccard(tokens, clusterTokens) + categoryWeight*categoryAgreement(category, clusterCategory)
}

func categoryAgreement(a, b string) float64 {
	switch {
	case a == "" || b == "":
		return 0.5
	case a == b:
		return 1
	default:
		return 0
	}
}

func listingCategory(l models.RawListing) string {
	if c := NormalizeCategory(l.CategoryHint); c != "" {
		return c
	}
	return InferCategory(l.Title)
}

// productID is stable for the same representative title across requests
func productID(tokens []string, title string) string {
	key := strings.Join(tokens, " ")
	if key == "" {
		key = strings.ToLower(title)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("product:"+key)).String()
}
