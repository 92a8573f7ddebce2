package discovery

import (
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	seen map[string]bool
	ids  []string
}

func (f *fakeEnqueuer) Enqueue(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[id] {
		return false
	}
	f.seen[id] = true
	f.ids = append(f.ids, id)
	return true
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestScanFiltersMixedCandidates(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><body>
		<a href="https://site/a">a</a>
		<a href="/admin/x">admin</a>
		<a href="https://other/b">other</a>
		<a href="/img.png">img</a>
	</body></html>`)
	sink := &fakeEnqueuer{}
	s := New(Config{}, sink, nil)

	res := s.Scan(doc.Selection, mustURL(t, "https://site/"), nil)

	require.Equal(t, []string{"https://site/a"}, sink.ids)
	require.Equal(t, 4, res.Candidates)
	require.Equal(t, 1, res.Enqueued)
	require.Equal(t, 1, res.Rejected[ReasonExcludedPath])
	require.Equal(t, 1, res.Rejected[ReasonCrossOrigin])
	require.Equal(t, 1, res.Rejected[ReasonStaticAsset])
}

func TestScanIsIdempotent(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<a href="/one">1</a><a href="/two#frag">2</a><a href="/two">2 again</a>`)
	sink := &fakeEnqueuer{}
	s := New(Config{}, sink, nil)
	base := mustURL(t, "https://site/index.html")

	first := s.Scan(doc.Selection, base, nil)
	require.Equal(t, 2, first.Enqueued)
	require.Equal(t, 1, first.Duplicates)

	second := s.Scan(doc.Selection, base, nil)
	require.Equal(t, 0, second.Enqueued)
	require.Equal(t, 3, second.Duplicates)
	require.Len(t, sink.ids, 2)
}

func TestScanIncludesScopeRoot(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<nav><a id="root" href="/self"><span>inner</span></a><a href="/sibling">s</a></nav>`)
	sink := &fakeEnqueuer{}
	s := New(Config{}, sink, nil)

	res := s.Scan(doc.Find("#root"), mustURL(t, "https://site/"), nil)

	require.Equal(t, 1, res.Candidates)
	require.Equal(t, []string{"https://site/self"}, sink.ids)
}

func TestScanCountsMalformedAndSchemes(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `
		<a href="http://[::1">broken</a>
		<a href="mailto:someone@site">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="/ok">ok</a>`)
	sink := &fakeEnqueuer{}
	s := New(Config{}, sink, nil)

	res := s.Scan(doc.Selection, mustURL(t, "https://site/"), nil)

	require.Equal(t, 1, res.Malformed)
	require.Equal(t, 2, res.Rejected[ReasonScheme])
	require.Equal(t, 1, res.Enqueued)
}

func TestScanNilScope(t *testing.T) {
	t.Parallel()

	res := New(Config{}, &fakeEnqueuer{}, nil).Scan(nil, mustURL(t, "https://site/"), nil)
	require.Zero(t, res.Candidates)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil)
	base := mustURL(t, "https://Site:443/blog/post.html")

	tests := []struct {
		name   string
		href   string
		wantID string
		reason Reason
		ok     bool
	}{
		{name: "relative page", href: "next.html", wantID: "https://site/blog/next.html", ok: true},
		{name: "root", href: "/", wantID: "https://site/", ok: true},
		{name: "query kept in order", href: "/s?b=2&a=1", wantID: "https://site/s?b=2&a=1", ok: true},
		{name: "fragment dropped", href: "/a#top", wantID: "https://site/a", ok: true},
		{name: "host case folded", href: "HTTPS://SITE/x", wantID: "https://site/x", ok: true},
		{name: "protocol relative other host", href: "//cdn.site/x", reason: ReasonCrossOrigin},
		{name: "different scheme", href: "http://site/a", reason: ReasonCrossOrigin},
		{name: "different port", href: "https://site:8443/a", reason: ReasonCrossOrigin},
		{name: "admin", href: "/admin/users", reason: ReasonExcludedPath},
		{name: "uppercase asset", href: "/app.JS", reason: ReasonStaticAsset},
		{name: "font", href: "/f/a.woff2", reason: ReasonStaticAsset},
		{name: "asset with query", href: "/style.css?v=3", reason: ReasonStaticAsset},
		{name: "tel", href: "tel:123", reason: ReasonScheme},
		{name: "html page with dots", href: "/v1.2/guide", ok: true, wantID: "https://site/v1.2/guide"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, reason, ok := s.Evaluate(base, nil, tt.href)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.reason, reason)
			require.Equal(t, tt.wantID, id)
		})
	}
}

func TestScanForeignBaseUsesPageOrigin(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><head><base href="https://cdn.other/"></head><body>
		<a href="https://cdn.other/page">cdn</a>
		<a href="https://site/a">a</a>
		<a href="relative">rel</a>
	</body></html>`)
	sink := &fakeEnqueuer{}
	s := New(Config{}, sink, nil)

	res := s.Scan(doc.Selection, mustURL(t, "https://cdn.other/"), mustURL(t, "https://site/"))
	require.Equal(t, []string{"https://site/a"}, sink.ids)
	require.Equal(t, 1, res.Enqueued)
	require.Equal(t, 2, res.Rejected[ReasonCrossOrigin])
}

func TestEvaluateFiltersEscapedPath(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil)
	base := mustURL(t, "https://site/")

	id, _, ok := s.Evaluate(base, nil, "/%61dmin/x")
	require.True(t, ok)
	require.Equal(t, "https://site/%61dmin/x", id)

	id, _, ok = s.Evaluate(base, nil, "/logo%2Epng")
	require.True(t, ok)
	require.Equal(t, "https://site/logo%2Epng", id)

	_, reason, ok := s.Evaluate(base, nil, "/admin/x")
	require.False(t, ok)
	require.Equal(t, ReasonExcludedPath, reason)
}

func TestNewCustomFilter(t *testing.T) {
	t.Parallel()

	s := New(Config{ExcludedPrefixes: []string{"/private/"}, StaticExtensions: []string{".PDF"}}, nil, nil)
	base := mustURL(t, "https://site/")

	_, reason, ok := s.Evaluate(base, nil, "/private/a")
	require.False(t, ok)
	require.Equal(t, ReasonExcludedPath, reason)

	_, reason, ok = s.Evaluate(base, nil, "/paper.pdf")
	require.False(t, ok)
	require.Equal(t, ReasonStaticAsset, reason)

	id, _, ok := s.Evaluate(base, nil, "/admin/ok-here")
	require.True(t, ok)
	require.Equal(t, "https://site/admin/ok-here", id)
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	require.True(t, SameOrigin(mustURL(t, "http://site"), mustURL(t, "http://site:80/x")))
	require.False(t, SameOrigin(mustURL(t, "http://site"), mustURL(t, "https://site")))
	require.False(t, SameOrigin(nil, mustURL(t, "https://site")))
}
