package matcher

import (
	"regexp"
	"sort"
	"strings"
)

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	priceLike  = regexp.MustCompile(`\d{1,3}(?:[.,]\d{3})+(?:[.,]\d+)?`)
	pureNumber = regexp.MustCompile(`^\d+([.,]\d+)?$`)
)

// noise is dropped from titles before comparison: currency codes, packaging units and filler
var noise = map[string]bool{
	"ugx": true, "ush": true, "usd": true, "kes": true, "ksh": true, "ngn": true, "eur": true, "gbp": true,
	"pcs": true, "pc": true, "piece": true, "pieces": true, "pack": true, "set": true, "unit": true, "units": true,
	"new": true, "original": true, "genuine": true, "brand": true, "free": true, "shipping": true, "delivery": true,
	"sale": true, "offer": true, "hot": true, "best": true, "official": true, "latest": true,
	"the": true, "a": true, "an": true, "and": true, "with": true, "for": true, "of": true, "in": true, "by": true,
}

// Tokens case-folds a title, strips currency and unit noise and bare prices,
// and returns the remaining distinct tokens in order of appearance.
func Tokens(title string) []string {
	title = priceLike.ReplaceAllString(strings.ToLower(title), " ")
	fields := strings.Fields(nonWord.ReplaceAllString(title, " "))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if noise[f] || (pureNumber.MatchString(f) && len(f) > 3) || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Jaccard returns |a∩b| / |a∪b| over token sets
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	for _, t := range b {
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

var categoryKeywords = map[string][]string{
	"electronics": {"phone", "smartphone", "iphone", "galaxy", "tecno", "infinix", "laptop", "notebook", "tablet", "ipad",
		"tv", "television", "headphones", "earbuds", "speaker", "camera", "charger", "smartwatch", "watch", "console", "playstation", "xbox", "monitor"},
	"fashion":   {"shoes", "sneakers", "dress", "shirt", "tshirt", "jeans", "trousers", "jacket", "bag", "handbag", "sandals", "heels", "skirt"},
	"home":      {"kitchen", "blender", "fridge", "refrigerator", "cooker", "microwave", "kettle", "sofa", "mattress", "bed", "iron", "fan"},
	"beauty":    {"perfume", "lotion", "cream", "shampoo", "makeup", "lipstick", "serum", "hair"},
	"books":     {"book", "novel", "paperback", "hardcover"},
	"sports":    {"fitness", "dumbbell", "treadmill", "bicycle", "football", "yoga", "gym"},
	"groceries": {"rice", "sugar", "oil", "flour", "coffee", "tea", "milk"},
}

var keywordCategory = func() map[string]string {
	m := make(map[string]string)
	for cat, words := range categoryKeywords {
		for _, w := range words {
			m[w] = cat
		}
	}
	return m
}()

// Categories returns the known category names, sorted
func Categories() []string {
	out := make([]string, 0, len(categoryKeywords))
	for cat := range categoryKeywords {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// InferCategory guesses a category from title keywords; the earliest keyword wins
func InferCategory(title string) string {
	for _, t := range Tokens(title) {
		if cat, ok := keywordCategory[t]; ok {
			return cat
		}
	}
	return ""
}

// NormalizeCategory folds a free-text category hint onto a known name where possible
func NormalizeCategory(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return ""
	}
	if _, ok := categoryKeywords[hint]; ok {
		return hint
	}
	if cat := InferCategory(hint); cat != "" {
		return cat
	}
	return hint
}
