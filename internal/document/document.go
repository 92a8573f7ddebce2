// Package document holds the live HTML document that discovery scans. The
// document can be replaced wholesale or edited in place, and every change is
// reported to observers as a Mutation.
package document

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrEmptyDocument is returned when a replacement body carries no HTML.
var ErrEmptyDocument = errors.New("document: empty html")

const emptyHTML = "<html><head></head><body></body></html>"

// ErrNoMatch is returned when a selector matches nothing in the document.
var ErrNoMatch = errors.New("document: selector matched no nodes")

// MutationKind names the kind of change applied to the document.
type MutationKind string

// Mutation kinds.
const (
	MutationReplace MutationKind = "replace"
	MutationAppend  MutationKind = "append"
	MutationRemove  MutationKind = "remove"
)

// Mutation describes a single change to the document.
type Mutation struct {
	Kind     MutationKind
	Selector string
	Nodes    int
	At       time.Time
}

// Document is a concurrency-safe wrapper around a parsed goquery document.
type Document struct {
	mu      sync.RWMutex
	doc     *goquery.Document
	origin  *url.URL
	base    *url.URL
	version uint64

	obsMu     sync.Mutex
	observers map[uint64]func(Mutation)
	nextObs   uint64

	now func() time.Time
}

// New returns an empty document served from origin.
func New(origin *url.URL) *Document {
	d := &Document{
		origin:    cloneURL(origin),
		observers: make(map[uint64]func(Mutation)),
		now:       time.Now,
	}
	// Parsing a constant skeleton cannot fail.
	d.doc, _ = goquery.NewDocumentFromReader(strings.NewReader(emptyHTML))
	d.base = d.resolveBase(d.doc)
	return d
}

// Parse reads r into a new document served from origin.
func Parse(origin *url.URL, r io.Reader) (*Document, error) {
	d := New(origin)
	doc, err := parseHTML(r)
	if err != nil {
		return nil, err
	}
	d.doc = doc
	d.base = d.resolveBase(doc)
	return d, nil
}

// Read runs fn with the document root, the URL relative links resolve against
// and the URL the page is served from, while holding a read lock. fn must not
// retain root after it returns.
func (d *Document) Read(fn func(root *goquery.Selection, base, origin *url.URL)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.doc.Selection, cloneURL(d.base), cloneURL(d.origin))
}

// Origin returns the URL the page is served from. A <base> element never
// changes it.
func (d *Document) Origin() *url.URL {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneURL(d.origin)
}

// Base returns the URL that relative links resolve against.
func (d *Document) Base() *url.URL {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneURL(d.base)
}

// Version increments on every mutation.
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// HTML renders the current document.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	html, err := goquery.OuterHtml(d.doc.Selection)
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return html, nil
}

// Replace swaps the whole document for the HTML read from r.
func (d *Document) Replace(r io.Reader) error {
	doc, err := parseHTML(r)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.doc = doc
	d.base = d.resolveBase(doc)
	d.version++
	nodes := doc.Find("*").Length()
	d.mu.Unlock()

	d.notify(Mutation{Kind: MutationReplace, Nodes: nodes})
	return nil
}

// Append parses fragment and appends it to every node matching selector. It
// returns the number of target nodes.
func (d *Document) Append(selector, fragment string) (int, error) {
	if strings.TrimSpace(fragment) == "" {
		return 0, ErrEmptyDocument
	}
	d.mu.Lock()
	targets, err := d.findLocked(selector)
	if err != nil {
		d.mu.Unlock()
		return 0, err
	}
	targets.AppendHtml(fragment)
	d.version++
	d.base = d.resolveBase(d.doc)
	d.mu.Unlock()

	d.notify(Mutation{Kind: MutationAppend, Selector: selector, Nodes: targets.Length()})
	return targets.Length(), nil
}

// Remove deletes every node matching selector and returns how many were removed.
func (d *Document) Remove(selector string) (int, error) {
	d.mu.Lock()
	targets, err := d.findLocked(selector)
	if err != nil {
		d.mu.Unlock()
		return 0, err
	}
	n := targets.Length()
	targets.Remove()
	d.version++
	d.base = d.resolveBase(d.doc)
	d.mu.Unlock()

	d.notify(Mutation{Kind: MutationRemove, Selector: selector, Nodes: n})
	return n, nil
}

// Observe registers fn for every subsequent mutation. The returned function
// unregisters it. Observers run after the document lock is released.
func (d *Document) Observe(fn func(Mutation)) (cancel func()) {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.obsMu.Lock()
			delete(d.observers, id)
			d.obsMu.Unlock()
		})
	}
}

func (d *Document) notify(m Mutation) {
	m.At = d.now()
	d.obsMu.Lock()
	fns := make([]func(Mutation), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (d *Document) findLocked(selector string) (*goquery.Selection, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("find %q: %w", selector, ErrNoMatch)
	}
	targets := d.doc.Find(selector)
	if targets.Length() == 0 {
		return nil, fmt.Errorf("find %q: %w", selector, ErrNoMatch)
	}
	return targets, nil
}

// resolveBase honours the first <base href> element, falling back to origin.
func (d *Document) resolveBase(doc *goquery.Document) *url.URL {
	base := cloneURL(d.origin)
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return base
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return base
	}
	if base == nil {
		if ref.IsAbs() {
			return ref
		}
		return nil
	}
	return base.ResolveReference(ref)
}

func parseHTML(r io.Reader) (*goquery.Document, error) {
	if r == nil {
		return nil, ErrEmptyDocument
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, ErrEmptyDocument
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
