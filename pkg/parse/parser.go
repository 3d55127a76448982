// Package parse extracts titles, links and forms from HTML responses.
package parse

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/securescan/securescan/lib"
)

// FormInput is a named input inside a form.
type FormInput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Value    string `json:"value"`
}

// Form describes a form found on a page. Action is absolute, resolved
// against the page URL; Method is upper-cased GET or POST.
type Form struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	Inputs []FormInput `json:"inputs"`
}

// Page is one crawled document.
type Page struct {
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Depth int      `json:"depth"`
	Links []string `json:"links"`
	Forms []Form   `json:"forms"`
}

// ParsePage extracts title, links and forms from an HTML body. The pageURL
// must be the resolved (post-redirect) URL of the document; relative
// references are resolved against it. Non-HTML content yields an empty page.
func ParsePage(body []byte, pageURL string, headers http.Header) *Page {
	page := &Page{URL: pageURL, Links: []string{}, Forms: []Form{}}

	if headers != nil {
		contentType := headers.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "html") {
			return page
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Debug().Err(err).Str("url", pageURL).Msg("Could not parse page HTML")
		return page
	}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.Links = extractLinks(doc, pageURL)
	page.Forms = extractForms(doc, pageURL)
	return page
}

// extractLinks collects every <a href>, resolved against the page URL with
// fragments stripped, deduplicated preserving first occurrence.
func extractLinks(doc *goquery.Document, pageURL string) []string {
	links := []string{}
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := lib.ResolveURL(pageURL, href)
		if err != nil {
			return
		}
		if !strings.HasPrefix(resolved, "http://") && !strings.HasPrefix(resolved, "https://") {
			return
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})
	return links
}

func extractForms(doc *goquery.Document, pageURL string) []Form {
	forms := []Form{}
	doc.Find("form").Each(func(i int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		resolvedAction := pageURL
		if strings.TrimSpace(action) != "" {
			if resolved, err := lib.ResolveURL(pageURL, action); err == nil {
				resolvedAction = resolved
			}
		}

		method := strings.ToUpper(strings.TrimSpace(s.AttrOr("method", "GET")))
		if method != "GET" && method != "POST" {
			method = "GET"
		}

		form := Form{
			Action: resolvedAction,
			Method: method,
			Inputs: []FormInput{},
		}

		s.Find("input, textarea, select").Each(func(j int, input *goquery.Selection) {
			name := strings.TrimSpace(input.AttrOr("name", ""))
			if name == "" {
				return
			}
			inputType := strings.ToLower(strings.TrimSpace(input.AttrOr("type", "")))
			if inputType == "" {
				inputType = "text"
			}
			_, required := input.Attr("required")
			form.Inputs = append(form.Inputs, FormInput{
				Name:     name,
				Type:     inputType,
				Required: required,
				Value:    input.AttrOr("value", ""),
			})
		})

		forms = append(forms, form)
	})
	return forms
}

// InlineScripts returns the text of every inline <script> element.
func InlineScripts(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var scripts []string
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		text := s.Text()
		if strings.TrimSpace(text) != "" {
			scripts = append(scripts, text)
		}
	})
	return scripts
}
