package scraper

import (
	"regexp"
	"strings"
)

// Block kinds reported by the detector
const (
	BlockCaptcha   = "captcha"
	BlockHTTPError = "http_error"
	BlockBotWall   = "bot_wall"
)

type botRule struct {
	re     *regexp.Regexp
	weight float64
	kind   string
}

// BotDetector recognises bot walls and CAPTCHAs served instead of search results
type BotDetector struct {
	rules     []botRule
	threshold float64
}

// Verdict is the outcome of inspecting a page
type Verdict struct {
	Blocked bool
	Kind    string
	Score   float64
	Reasons []string
}

// NewBotDetector creates a new bot detector
func NewBotDetector() *BotDetector {
	rule := func(pattern string, weight float64, kind string) botRule {
		return botRule{re: regexp.MustCompile(`(?i)` + pattern), weight: weight, kind: kind}
	}
	return &BotDetector{
		threshold: 0.3,
		rules: []botRule{
			rule(`captcha|recaptcha|hcaptcha|turnstile`, 0.5, BlockCaptcha),
			rule(`verify you are (a )?human|select all images|click the checkbox`, 0.5, BlockCaptcha),
			rule(`access denied|bot detected|unfortunately we are unable`, 0.3, BlockBotWall),
			rule(`checking your browser|ddos protection|security check`, 0.3, BlockBotWall),
			rule(`cloudflare|distil networks|imperva|akamai`, 0.2, BlockBotWall),
			rule(`too many requests|rate limit`, 0.3, BlockHTTPError),
			rule(`403 forbidden|503 service unavailable|site temporarily unavailable`, 0.4, BlockHTTPError),
		},
	}
}

// Inspect scores a page; short pages with any indicator score higher
func (bd *BotDetector) Inspect(page string) Verdict {
	content := strings.ToLower(page)
	var v Verdict
	weights := make(map[string]float64)

	for _, r := range bd.rules {
		if r.re.MatchString(content) {
			v.Score += r.weight
			weights[r.kind] += r.weight
			v.Reasons = append(v.Reasons, r.re.String())
		}
	}

	if v.Score > 0 && len(content) < 2000 {
		v.Score += 0.2
		v.Reasons = append(v.Reasons, "very short page with bot indicators")
	}
	if v.Score > 1 {
		v.Score = 1
	}

	v.Blocked = v.Score > bd.threshold
	if v.Blocked {
		v.Kind = BlockBotWall
		best := 0.0
		for _, kind := range []string{BlockCaptcha, BlockHTTPError, BlockBotWall} {
			if weights[kind] > best {
				best = weights[kind]
				v.Kind = kind
			}
		}
	}
	return v
}

// Reason joins the matched indicators
func (v Verdict) Reason() string {
	return strings.Join(v.Reasons, "; ")
}
