package discover

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/civicdata/healthsnap/internal/schema"
)

// Renderer is the capability the rest of the pipeline depends on: render a
// page, return its stable DOM. The production implementation drives a
// headless browser; tests substitute a static one.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Discoverer resolves the currently-published document links for each
// dataset tag from the publisher's rendered landing page.
type Discoverer struct {
	Renderer Renderer
	BaseURL  string
	// Now is injectable for deterministic tests. Nil means time.Now.
	Now func() time.Time
}

// Discover renders the landing page once and scans it for every dataset's
// download link. Links are matched through text patterns, never DOM
// positions, so weekly layout reshuffles don't break discovery. A tag
// whose link is absent gets ErrNoLinksFound in the per-tag error map;
// that is non-fatal to the other tags. A rendering failure is fatal to
// all tags and returned as the final error.
func (d *Discoverer) Discover(ctx context.Context, specs []*schema.DatasetSpec) (map[string][]schema.DocumentRef, map[string]error, error) {
	dom, err := d.Renderer.Render(ctx, d.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("render %s: %w", d.BaseURL, err)
	}
	base, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dom))
	if err != nil {
		return nil, nil, fmt.Errorf("parse rendered dom: %w", err)
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	refs := make(map[string][]schema.DocumentRef, len(specs))
	tagErrs := make(map[string]error)
	for _, spec := range specs {
		var found []schema.DocumentRef
		seen := make(map[string]bool)
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			label := anchorLabel(a)
			if !spec.LinkRE().MatchString(label) {
				return
			}
			abs := resolveURL(base, href)
			if abs == "" || seen[abs] {
				return
			}
			seen[abs] = true
			found = append(found, schema.DocumentRef{
				URL:            abs,
				DeclaredFormat: spec.Format,
				DiscoveredAt:   now().UTC(),
				Tag:            spec.Tag,
				AsOf:           spec.AsOf(href, label),
			})
		})
		if len(found) == 0 {
			tagErrs[spec.Tag] = fmt.Errorf("%w: dataset %s: no link matches %q",
				schema.ErrNoLinksFound, spec.Tag, spec.LinkPattern)
			continue
		}
		log.Debug().Str("dataset", spec.Tag).Int("links", len(found)).Msg("discovered links")
		refs[spec.Tag] = found
	}
	return refs, tagErrs, nil
}

// anchorLabel joins the signals a human would use to recognize the link:
// its text, title attribute, and aria-label.
func anchorLabel(a *goquery.Selection) string {
	parts := []string{strings.TrimSpace(a.Text())}
	if v, ok := a.Attr("title"); ok {
		parts = append(parts, v)
	}
	if v, ok := a.Attr("aria-label"); ok {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
