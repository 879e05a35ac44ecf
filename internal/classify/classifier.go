// Package classify decides whether a card advertises a WhatsApp-driven offer.
//
// Classification is an OR across independent signals. Any one match makes the
// card a topic match; there are no negative rules, so adding evidence can
// never flip a match back to a non-match.
package classify

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/vocab"
	"golang.org/x/net/html"
)

// Signal names the evidence class that produced a match.
type Signal string

const (
	// SignalNone means no evidence was found.
	SignalNone Signal = ""
	// SignalKeyword is a keyword anywhere in the visible text.
	SignalKeyword Signal = "keyword"
	// SignalLink is an outbound link with a messaging redirect shape.
	SignalLink Signal = "link"
	// SignalPhone is a phone number preceded by a keyword token.
	SignalPhone Signal = "phone"
	// SignalCallToAction is a call-to-action phrase on an interactive element.
	SignalCallToAction Signal = "cta"
)

// linkPatterns are the redirect shapes the messaging app uses.
var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(https?://)?(www\.)?wa\.me/`),
	regexp.MustCompile(`(?i)^(https?://)?(api|web)\.whatsapp\.com/send`),
	regexp.MustCompile(`(?i)^whatsapp://`),
	regexp.MustCompile(`(?i)^(https?://)?chat\.whatsapp\.com/`),
	regexp.MustCompile(`(?i)^(https?://)?(www\.)?wa\.link/`),
}

// redirectHosts wrap the real destination in their "u" query parameter.
var redirectHosts = map[string]bool{
	"l.facebook.com":  true,
	"lm.facebook.com": true,
	"l.instagram.com": true,
}

// phonePattern requires a keyword token followed, within a short window, by a
// digit run shaped like a Brazilian mobile or landline number.
var phonePattern = regexp.MustCompile(`(?i)(whatsapp|whats|wpp|zap)\D{0,15}(\(?\d{2}\)?\s?)?9?\d{4}[-\s]?\d{4}`)

// Classifier holds the compiled vocabulary.
type Classifier struct {
	keywords     []string
	callToAction []string
	activeCount  *regexp.Regexp
}

// New creates a Classifier from every locale in the table.
func New(table *vocab.Table) *Classifier {
	labels := table.All()
	c := &Classifier{
		keywords:     labels.Keywords,
		callToAction: labels.CallToAction,
	}
	if alt := vocab.Alternation(labels.ActiveCount); alt != "" {
		c.activeCount = regexp.MustCompile(`(?i)(\d[\d.,]*)\s+(?:` + alt + `)`)
	}
	return c
}

// Classify reports whether the container matches the topic.
func (c *Classifier) Classify(container *html.Node) bool {
	return c.Evidence(container) != SignalNone
}

// Evidence returns the first signal that matched, or SignalNone.
// Signals are checked cheapest first.
func (c *Classifier) Evidence(container *html.Node) Signal {
	if container == nil {
		return SignalNone
	}
	text := vocab.Normalize(dom.Text(container))
	if c.hasKeyword(text) {
		return SignalKeyword
	}
	if hasMessagingLink(container) {
		return SignalLink
	}
	if phonePattern.MatchString(text) {
		return SignalPhone
	}
	if c.hasCallToAction(container) {
		return SignalCallToAction
	}
	return SignalNone
}

// ActiveCount parses "N ads use this creative" style phrases.
// Cards without such a phrase count as a single active ad.
func (c *Classifier) ActiveCount(container *html.Node) int {
	if c.activeCount == nil || container == nil {
		return 1
	}
	m := c.activeCount.FindStringSubmatch(vocab.Normalize(dom.Text(container)))
	if m == nil {
		return 1
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (c *Classifier) hasKeyword(text string) bool {
	// Keywords with trailing spaces must still match at the end of the text.
	padded := text + " "
	for _, k := range c.keywords {
		if strings.Contains(padded, k) {
			return true
		}
	}
	return false
}

func (c *Classifier) hasCallToAction(container *html.Node) bool {
	for _, n := range dom.Find(container, dom.IsInteractive) {
		if dom.WithinAttr(n, dom.ControlsAttr) {
			continue
		}
		text := dom.NormalizedText(n)
		if text == "" {
			continue
		}
		for _, phrase := range c.callToAction {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	return false
}

func hasMessagingLink(container *html.Node) bool {
	for _, a := range dom.Find(container, func(n *html.Node) bool { return dom.IsElement(n, "a") }) {
		if dom.WithinAttr(a, dom.ControlsAttr) {
			continue
		}
		if IsMessagingLink(dom.Attr(a, "href")) {
			return true
		}
	}
	return false
}

// IsMessagingLink reports whether href points at the messaging app, directly
// or through one level of host redirect.
func IsMessagingLink(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" {
		return false
	}
	for _, p := range linkPatterns {
		if p.MatchString(href) {
			return true
		}
	}
	u, err := url.Parse(href)
	if err != nil || !redirectHosts[strings.ToLower(u.Hostname())] {
		return false
	}
	target := u.Query().Get("u")
	if target == "" {
		return false
	}
	for _, p := range linkPatterns {
		if p.MatchString(target) {
			return true
		}
	}
	return false
}
