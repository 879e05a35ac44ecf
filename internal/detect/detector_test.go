package detect

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/vocab"
	"golang.org/x/net/html"
)

const copyText = "Fresh coffee beans roasted every morning and delivered to your door within a day."

// card renders a qualifying container with the given marker label.
func card(id, marker string) string {
	return fmt.Sprintf(`<div id=%q data-adsweep-w="320" data-adsweep-h="560">
		<img src="https://cdn.example.com/%s.jpg">
		<p>%s</p>
		<div><a href="#">%s</a></div>
	</div>`, id, id, copyText, marker)
}

func parse(t *testing.T, body string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader("<html><body>" + body + "</body></html>"))
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func ids(nodes []*html.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = dom.Attr(n, "id")
	}
	return out
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "primary markers in every locale",
			body: card("en", "See ad details") + card("pt", "Ver detalhes do anúncio") + card("sum", "See summary details"),
			want: []string{"en", "pt", "sum"},
		},
		{
			name: "primary results come before secondary ones",
			body: card("sponsored", "Sponsored") + card("details", "See ad details"),
			want: []string{"details", "sponsored"},
		},
		{
			name: "marker match ignores case and spacing",
			body: card("loose", "  SEE   ad details "),
			want: []string{"loose"},
		},
		{
			name: "two markers in one container yield one result",
			body: `<div id="both" data-adsweep-w="320" data-adsweep-h="560">
				<span>Sponsored</span><img src="a.jpg"><p>` + copyText + `</p><a>See ad details</a></div>`,
			want: []string{"both"},
		},
		{
			name: "label embedded in longer text is not a marker",
			body: `<div data-adsweep-w="320" data-adsweep-h="560"><img src="a.jpg"><p>` + copyText + ` See ad details</p></div>`,
			want: []string{},
		},
		{
			name: "no markers",
			body: `<div data-adsweep-w="320" data-adsweep-h="560"><img src="a.jpg"><p>` + copyText + `</p></div>`,
			want: []string{},
		},
	}

	d := New(vocab.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ids(d.Detect(parse(t, tt.body), nil))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestQualifies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		attrs string
		inner string
		want  bool
	}{
		{name: "qualifying", attrs: `data-adsweep-w="320" data-adsweep-h="560"`, inner: `<img src="a.jpg"><p>` + copyText + `</p>`, want: true},
		{name: "video counts as media", attrs: `style="width:320px;height:560px"`, inner: `<video src="a.mp4"></video><p>` + copyText + `</p>`, want: true},
		{name: "width at the bound", attrs: `data-adsweep-w="250" data-adsweep-h="560"`, inner: `<img src="a.jpg"><p>` + copyText + `</p>`, want: false},
		{name: "height at the bound", attrs: `data-adsweep-w="320" data-adsweep-h="300"`, inner: `<img src="a.jpg"><p>` + copyText + `</p>`, want: false},
		{name: "unknown size", attrs: ``, inner: `<img src="a.jpg"><p>` + copyText + `</p>`, want: false},
		{name: "no media", attrs: `data-adsweep-w="320" data-adsweep-h="560"`, inner: `<p>` + copyText + `</p>`, want: false},
		{name: "exactly fifty runes", attrs: `data-adsweep-w="320" data-adsweep-h="560"`, inner: `<img src="a.jpg"><p>` + strings.Repeat("x", 50) + `</p>`, want: false},
		{name: "fifty one runes", attrs: `data-adsweep-w="320" data-adsweep-h="560"`, inner: `<img src="a.jpg"><p>` + strings.Repeat("é", 51) + `</p>`, want: true},
		{name: "inside injected controls", attrs: `data-adsweep-controls="x" data-adsweep-w="320" data-adsweep-h="560"`, inner: `<img src="a.jpg"><p>` + copyText + `</p>`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := parse(t, `<div id="n" `+tt.attrs+`>`+tt.inner+`</div>`)
			n := dom.FindFirst(root, func(n *html.Node) bool { return dom.Attr(n, "id") == "n" })
			if got := Qualifies(n); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAscend(t *testing.T) {
	t.Parallel()

	t.Run("nearest qualifying ancestor wins", func(t *testing.T) {
		t.Parallel()
		root := parse(t, `<div id="outer" data-adsweep-w="900" data-adsweep-h="900">`+card("inner", "See ad details")+`</div>`)
		got := ids(New(vocab.Default()).Detect(root, nil))
		if len(got) != 1 || got[0] != "inner" {
			t.Errorf("expected [inner], got %v", got)
		}
	})

	t.Run("ascent is bounded", func(t *testing.T) {
		t.Parallel()
		marker := `<a>See ad details</a>`
		for i := 0; i < MaxAscent; i++ {
			marker = "<div>" + marker + "</div>"
		}
		body := `<div id="far" data-adsweep-w="320" data-adsweep-h="560"><img src="a.jpg"><p>` + copyText + `</p>` + marker + `</div>`
		if got := New(vocab.Default()).Detect(parse(t, body), nil); len(got) != 0 {
			t.Errorf("expected no container beyond %d ancestors, got %v", MaxAscent, ids(got))
		}
	})

	t.Run("ascent within the bound", func(t *testing.T) {
		t.Parallel()
		marker := `<a>See ad details</a>`
		for i := 0; i < MaxAscent-1; i++ {
			marker = "<div>" + marker + "</div>"
		}
		body := `<div id="near" data-adsweep-w="320" data-adsweep-h="560"><img src="a.jpg"><p>` + copyText + `</p>` + marker + `</div>`
		if got := ids(New(vocab.Default()).Detect(parse(t, body), nil)); len(got) != 1 || got[0] != "near" {
			t.Errorf("expected [near], got %v", got)
		}
	})
}

func TestMarkersInsideControlsAreIgnored(t *testing.T) {
	t.Parallel()

	body := `<div id="c" data-adsweep-w="320" data-adsweep-h="560"><img src="a.jpg"><p>` + copyText + `</p>
		<div data-adsweep-controls="x"><span>Sponsored</span></div></div>`
	d := New(vocab.Default())
	root := parse(t, body)
	if got := d.Markers(root); len(got) != 0 {
		t.Errorf("expected no markers, got %d", len(got))
	}
	if got := d.Detect(root, nil); len(got) != 0 {
		t.Errorf("expected no containers, got %v", ids(got))
	}
}

func TestDetectLimit(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(card(fmt.Sprintf("c%d", i), "See ad details"))
	}
	root := parse(t, b.String())

	if got := New(vocab.Default(), WithLimit(4)).Detect(root, nil); len(got) != 4 {
		t.Errorf("expected 4 containers, got %d", len(got))
	}
	if got := New(vocab.Default(), WithLimit(4)).Candidates(root); len(got) != 10 {
		t.Errorf("expected candidates to ignore the limit, got %d", len(got))
	}
	if got := New(vocab.Default(), WithLimit(-1)).Detect(root, nil); len(got) != 10 {
		t.Errorf("expected non-positive limit to keep the default, got %d", len(got))
	}
}

func TestDetectKeepFilter(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(card(fmt.Sprintf("c%d", i), "See ad details"))
	}
	root := parse(t, b.String())
	d := New(vocab.Default(), WithLimit(4))

	// The first six are settled; rejected containers leave the limit to the rest.
	settled := map[string]bool{"c0": true, "c1": true, "c2": true, "c3": true, "c4": true, "c5": true}
	keep := func(n *html.Node) bool { return !settled[dom.Attr(n, "id")] }

	got := ids(d.Detect(root, keep))
	want := []string{"c6", "c7", "c8", "c9"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := d.Detect(root, func(*html.Node) bool { return false }); len(got) != 0 {
		t.Errorf("expected nothing when every container is rejected, got %v", ids(got))
	}
}

func TestDetectDefaultCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < MaxResults+20; i++ {
		b.WriteString(card(fmt.Sprintf("c%d", i), "Sponsored"))
	}
	if got := New(vocab.Default()).Detect(parse(t, b.String()), nil); len(got) != MaxResults {
		t.Errorf("expected %d containers, got %d", MaxResults, len(got))
	}
}

func TestCustomVocabulary(t *testing.T) {
	t.Parallel()

	table := vocab.Default()
	table.Merge("es", vocab.Labels{AdDetails: []string{"Ver detalles del anuncio"}})

	root := parse(t, card("es", "Ver detalles del anuncio"))
	if got := New(vocab.Default()).Detect(root, nil); len(got) != 0 {
		t.Errorf("expected default vocabulary to miss es marker, got %v", ids(got))
	}
	if got := ids(New(table).Detect(root, nil)); len(got) != 1 || got[0] != "es" {
		t.Errorf("expected [es], got %v", got)
	}
}
