package classify

import (
	"strings"
	"testing"

	"github.com/nao1215/adsweep/internal/vocab"
	"golang.org/x/net/html"
)

func container(t *testing.T, inner string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(`<div id="card">` + inner + `</div>`))
	if err != nil {
		t.Fatal(err)
	}
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "div" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if f := find(c); f != nil {
				return f
			}
		}
		return nil
	}
	return find(root)
}

func TestEvidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inner string
		want  Signal
	}{
		{name: "keyword", inner: `<p>Fale com a gente pelo WhatsApp hoje</p>`, want: SignalKeyword},
		{name: "keyword split across elements", inner: `<p>Chame no</p><p>ZAP</p>`, want: SignalKeyword},
		{name: "short keyword at end of text", inner: `<p>contato wpp</p>`, want: SignalKeyword},
		{name: "direct messaging link", inner: `<a href="https://wa.me/5511999999999">Contact</a>`, want: SignalLink},
		{name: "api send link", inner: `<a href="https://api.whatsapp.com/send?phone=5511">Contact</a>`, want: SignalLink},
		{name: "wrapped redirect", inner: `<a href="https://l.facebook.com/l.php?u=https%3A%2F%2Fwa.me%2F5511999999999&h=x">Open</a>`, want: SignalLink},
		{name: "call to action on a button", inner: `<button>Send message</button>`, want: SignalCallToAction},
		{name: "call to action on an ARIA button", inner: `<div role="button">Enviar mensagem</div>`, want: SignalCallToAction},
		{name: "call to action in plain text does not count", inner: `<p>Send message to the team</p>`, want: SignalNone},
		{name: "unrelated card", inner: `<p>Handmade boots</p><a href="https://shop.example.com">Shop now</a>`, want: SignalNone},
		{name: "redirect to another site", inner: `<a href="https://l.facebook.com/l.php?u=https%3A%2F%2Fshop.example.com">Open</a>`, want: SignalNone},
		{name: "keyword inside injected controls is ignored", inner: `<div data-adsweep-controls="x">WhatsApp</div><p>Boots</p>`, want: SignalNone},
		{name: "link inside injected controls is ignored", inner: `<div data-adsweep-controls="x"><a href="https://wa.me/1">x</a></div>`, want: SignalNone},
	}

	c := New(vocab.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := container(t, tt.inner)
			if got := c.Evidence(n); got != tt.want {
				t.Errorf("expected signal %q, got %q", tt.want, got)
			}
			if got := c.Classify(n); got != (tt.want != SignalNone) {
				t.Errorf("expected Classify=%v, got %v", tt.want != SignalNone, got)
			}
		})
	}
}

func TestEvidencePhone(t *testing.T) {
	t.Parallel()

	c := New(vocab.Default())

	n := container(t, `<p>Ligue zap (11) 98765-4321</p>`)
	if got := c.Evidence(n); got != SignalPhone {
		t.Errorf("expected phone signal, got %q", got)
	}
	n = container(t, `<p>Ligue (11) 98765-4321</p>`)
	if got := c.Evidence(n); got != SignalNone {
		t.Errorf("expected a bare number not to match, got %q", got)
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()

	c := New(vocab.Default())
	if c.Classify(nil) {
		t.Error("expected nil container not to match")
	}
	if c.ActiveCount(nil) != 1 {
		t.Error("expected nil container to count as one active ad")
	}
}

func TestAddingEvidenceNeverUnmatches(t *testing.T) {
	t.Parallel()

	c := New(vocab.Default())
	base := `<p>Talk to us on WhatsApp</p>`
	extras := []string{
		`<a href="https://shop.example.com">Shop now</a>`,
		`<p>Not a messaging app at all</p>`,
		`<button>Learn more</button>`,
	}
	inner := base
	for _, extra := range extras {
		inner += extra
		if !c.Classify(container(t, inner)) {
			t.Fatalf("match lost after adding %q", extra)
		}
	}
}

func TestActiveCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inner string
		want  int
	}{
		{name: "english phrase", inner: `<div>3 ads use this creative and text</div>`, want: 3},
		{name: "short english phrase", inner: `<div>7 ads use this creative</div>`, want: 7},
		{name: "portuguese phrase", inner: `<div>12 anúncios usam esse criativo e esse texto</div>`, want: 12},
		{name: "thousands separator", inner: `<div>1.250 anúncios usam esse criativo</div>`, want: 1250},
		{name: "comma separator", inner: `<div>2,400 ads use this creative</div>`, want: 2400},
		{name: "no phrase", inner: `<div>Great shoes</div>`, want: 1},
		{name: "zero is clamped", inner: `<div>0 ads use this creative</div>`, want: 1},
	}

	c := New(vocab.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.ActiveCount(container(t, tt.inner)); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestIsMessagingLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		href string
		want bool
	}{
		{href: "https://wa.me/5511999999999", want: true},
		{href: "wa.me/5511999999999", want: true},
		{href: "https://web.whatsapp.com/send?phone=1", want: true},
		{href: "whatsapp://send?phone=1", want: true},
		{href: "https://chat.whatsapp.com/AbCdEf", want: true},
		{href: "https://wa.link/abc", want: true},
		{href: "https://lm.facebook.com/l.php?u=https%3A%2F%2Fapi.whatsapp.com%2Fsend%3Fphone%3D1", want: true},
		{href: "https://www.whatsapp.com/business", want: false},
		{href: "https://example.com/?next=wa.me/1", want: false},
		{href: "https://l.facebook.com/l.php", want: false},
		{href: "  ", want: false},
	}
	for _, tt := range tests {
		if got := IsMessagingLink(tt.href); got != tt.want {
			t.Errorf("IsMessagingLink(%q) = %v, want %v", tt.href, got, tt.want)
		}
	}
}
