package static

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

type jobCard struct {
	ID        string
	Title     string
	Company   string
	Location  string
	SourceURL string
}

// parseCards extracts job cards from a guest search fragment. Cards missing
// an id, title, or company are dropped.
func parseCards(body []byte, base *url.URL) []jobCard {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var cards []jobCard
	doc.Find("[data-entity-urn]").Each(func(_ int, sel *goquery.Selection) {
		urn, _ := sel.Attr("data-entity-urn")
		id := urn[strings.LastIndex(urn, ":")+1:]
		if id == "" {
			return
		}
		title := strings.TrimSpace(sel.Find("h3.base-search-card__title").First().Text())
		company := strings.TrimSpace(sel.Find("h4.base-search-card__subtitle").First().Text())
		if title == "" || company == "" {
			return
		}
		cards = append(cards, jobCard{
			ID:        id,
			Title:     title,
			Company:   company,
			Location:  strings.TrimSpace(sel.Find("span.job-search-card__location").First().Text()),
			SourceURL: base.JoinPath("jobs", "view", id).String(),
		})
	})
	return cards
}

// parseApplyURL pulls the external apply URL from a detail fragment. The
// payload usually hides inside an HTML comment in <code id="applyUrl"> as a
// JSON string; older fragments carry a topcard anchor instead.
func parseApplyURL(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if sel := doc.Find("code#applyUrl").First(); sel.Length() > 0 {
		if u := decodeApplyPayload(sel); u != "" {
			return u
		}
	}
	if href, ok := doc.Find("a.topcard__apply-link").First().Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return ""
}

func decodeApplyPayload(sel *goquery.Selection) string {
	payload := strings.TrimSpace(sel.Text())
	if payload == "" && len(sel.Nodes) > 0 {
		for n := sel.Nodes[0].FirstChild; n != nil; n = n.NextSibling {
			if n.Type == html.CommentNode {
				payload = strings.TrimSpace(n.Data)
				break
			}
		}
	}
	if payload == "" {
		return ""
	}
	if strings.HasPrefix(payload, `"`) {
		var u string
		if err := json.Unmarshal([]byte(payload), &u); err == nil {
			return u
		}
		return strings.Trim(payload, `"`)
	}
	return payload
}
