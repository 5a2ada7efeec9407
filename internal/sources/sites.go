package sources

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/lepinkainen/folio/internal/config"
)

// sites holds the scraped providers. Selectors list alternatives where the
// sites have shipped more than one layout.
var sites = map[string]Site{
	config.StandardEbooks: {
		SearchPath: func(query string, page int) string {
			return fmt.Sprintf("/ebooks?query=%s&page=%d&per-page=12", url.QueryEscape(query), page)
		},
		Item:   "ol.ebooks-list > li",
		Title:  "p:not([property]) a[property='schema:url'], p:not([property]) a",
		Cover:  "img",
		Author: ".author [property='schema:author'], p.author",
	},
	config.ManyBooks: {
		SearchPath: func(query string, page int) string {
			// Drupal pagers are zero-based.
			return fmt.Sprintf("/search-book?search=%s&page=%d", url.QueryEscape(query), page-1)
		},
		Item:   ".view-content .views-row",
		Title:  ".field--name-title a, .title a",
		Cover:  "img",
		Author: ".field--name-field-author-er, .author",
	},
	config.Feedbooks: {
		SearchPath: func(query string, page int) string {
			return fmt.Sprintf("/search?query=%s&page=%d", url.QueryEscape(query), page)
		},
		Item:   ".block__item, .book",
		Title:  ".block__item-title a, .book__title a, h3 a",
		Cover:  "img",
		Author: ".block__item-author, .book__author",
	},
	config.FreeEbooks: {
		SearchPath: func(query string, page int) string {
			path := "/search/" + url.PathEscape(query)
			if page > 1 {
				path += "?page=" + strconv.Itoa(page)
			}
			return path
		},
		Item:  ".book-box, .laText",
		Title: "h3 a, .title a",
		Cover: "img",
	},
}
