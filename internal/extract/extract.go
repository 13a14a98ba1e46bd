// Package extract pulls data-usage figures out of the account dashboard markup.
//
// The portal is not under our control, so extraction is heuristic: elements
// whose own text mentions GB, Data or usage are searched first for a
// "X GB of Y GB" phrase, then for a bare "X GB", and finally a list of
// usage-looking class names is tried.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jgoulah/mobiletracker/pkg/models"
	"golang.org/x/net/html"
)

var (
	usedOfPlanRe = regexp.MustCompile(`(?i)([\d.]+)\s*GB\s*(?:used\s*)?(?:of|/)\s*([\d.]+)\s*GB`)
	bareGBRe     = regexp.MustCompile(`(?i)([\d.]+)\s*GB`)
	cycleRe      = regexp.MustCompile(`(\w{3}\s+\d{1,2}|\d{4}-\d{2}-\d{2})\s*[-–to]+\s*(\w{3}\s+\d{1,2}|\d{4}-\d{2}-\d{2})`)

	usageKeywords = []string{"gb", "data", "usage"}
	cycleKeywords = []string{"cycle", "billing"}
)

// UsageSelectors are tried in order when no text candidate yields a figure
var UsageSelectors = []string{
	"[class*='usage']",
	"[class*='data-used']",
	"[class*='progress']",
	"[data-usage]",
	"[data-used]",
	"[class*='consumption']",
}

var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"template": true,
}

// Extract parses page markup and returns the usage snapshot.
// found is false when no usage figure could be located; PlanGB is 0 when
// only usage was found.
func Extract(page string) (snap models.Snapshot, found bool, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("parsing page: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument runs the extraction strategies against an already parsed document
func FromDocument(doc *goquery.Document) (models.Snapshot, bool, error) {
	var snap models.Snapshot

	usage, plan, ok := fromCandidates(ownTextMatching(doc, usageKeywords))
	if !ok {
		usage, ok = fromSelectors(doc)
	}
	if !ok {
		return snap, false, nil
	}

	snap.UsageGB = usage
	snap.PlanGB = plan
	snap.CycleStart, snap.CycleEnd = Cycle(doc)
	return snap, true, nil
}

// fromCandidates prefers the first "used of plan" phrase over any bare figure
func fromCandidates(texts []string) (usage, plan float64, ok bool) {
	bare, haveBare := 0.0, false

	for _, text := range texts {
		if m := usedOfPlanRe.FindStringSubmatch(text); m != nil {
			u, errU := parseGB(m[1])
			p, errP := parseGB(m[2])
			if errU == nil && errP == nil {
				return u, p, true
			}
		}
		if haveBare {
			continue
		}
		if m := bareGBRe.FindStringSubmatch(text); m != nil {
			if v, err := parseGB(m[1]); err == nil {
				bare, haveBare = v, true
			}
		}
	}

	return bare, 0, haveBare
}

func fromSelectors(doc *goquery.Document) (float64, bool) {
	for _, sel := range UsageSelectors {
		var usage float64
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := bareGBRe.FindStringSubmatch(normalize(s.Text())); m != nil {
				if v, err := parseGB(m[1]); err == nil {
					usage, found = v, true
					return false
				}
			}
			return true
		})
		if found {
			return usage, true
		}
	}
	return 0, false
}

// Cycle returns the first billing-cycle date range on the page, or two empty strings
func Cycle(doc *goquery.Document) (start, end string) {
	for _, text := range ownTextMatching(doc, cycleKeywords) {
		if m := cycleRe.FindStringSubmatch(text); m != nil {
			return m[1], m[2]
		}
	}
	return "", ""
}

// ownTextMatching returns the normalized full text of every element, in
// document order, whose direct text nodes contain one of keywords
func ownTextMatching(doc *goquery.Document, keywords []string) []string {
	var texts []string
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if skipTags[node.Data] || insideSkipped(node) {
			return
		}
		own := strings.ToLower(ownText(node))
		for _, kw := range keywords {
			if strings.Contains(own, kw) {
				if text := normalize(s.Text()); text != "" {
					texts = append(texts, text)
				}
				return
			}
		}
	})
	return texts
}

func ownText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func insideSkipped(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && skipTags[p.Data] {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseGB(s string) (float64, error) {
	return strconv.ParseFloat(strings.Trim(s, "."), 64)
}
