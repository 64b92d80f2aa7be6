// Package scrape parses page snapshots captured from the browser and
// answers queries against them without further round trips to Chrome.
// Queries are written in the small CSS subset the page locators use and
// translated to XPath internally.
package scrape

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a parsed HTML snapshot.
type Document struct {
	root *html.Node
}

// Parse builds a Document from raw page source.
func Parse(source string) (*Document, error) {
	root, err := htmlquery.Parse(strings.NewReader(source))
	if err != nil {
		return nil, err
	}
	return &Document{root: root}, nil
}

// Root exposes the underlying parse tree.
func (d *Document) Root() *html.Node {
	return d.root
}

// Select returns every node matching the selector. Alternatives in a
// comma list are evaluated left to right, so the preferred selector's
// matches come before nodes only the fallbacks reach.
func (d *Document) Select(selector string) ([]*html.Node, error) {
	expr, err := translateSelector(selector)
	if err != nil {
		return nil, err
	}
	return htmlquery.QueryAll(d.root, expr)
}

// SelectFirst returns the first match, or nil when nothing matches.
func (d *Document) SelectFirst(selector string) (*html.Node, error) {
	expr, err := translateSelector(selector)
	if err != nil {
		return nil, err
	}
	return htmlquery.Query(d.root, expr)
}

// SelectIn returns the nodes matching the selector within n's subtree.
// Row-by-row extraction uses it to scope cell queries to one row.
func SelectIn(n *html.Node, selector string) ([]*html.Node, error) {
	expr, err := translateSelector(selector)
	if err != nil {
		return nil, err
	}
	return htmlquery.QueryAll(n, relativize(expr))
}

// SelectFirstIn returns the first match within n's subtree, or nil.
func SelectFirstIn(n *html.Node, selector string) (*html.Node, error) {
	expr, err := translateSelector(selector)
	if err != nil {
		return nil, err
	}
	return htmlquery.Query(n, relativize(expr))
}

// relativize anchors every alternative of a translated expression at the
// context node instead of the document root.
func relativize(expr string) string {
	parts := strings.Split(expr, " | ")
	for i, p := range parts {
		parts[i] = "." + p
	}
	return strings.Join(parts, " | ")
}

// Has reports whether the selector matches anything. Malformed selectors
// count as no match; Has exists for page heuristics where a shrug is the
// right failure mode.
func (d *Document) Has(selector string) bool {
	node, err := d.SelectFirst(selector)
	return err == nil && node != nil
}

// QueryXPath runs a raw XPath expression against the snapshot.
func (d *Document) QueryXPath(expr string) ([]*html.Node, error) {
	return htmlquery.QueryAll(d.root, expr)
}

// Text returns the node's inner text with whitespace collapsed to single
// spaces, the way it reads on screen.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	return strings.Join(strings.Fields(htmlquery.InnerText(n)), " ")
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, name)
}

// Table flattens the rows under a table-like node into cell texts. Header
// and data cells are treated alike; rows without cells are dropped.
func Table(n *html.Node) [][]string {
	if n == nil {
		return nil
	}
	rowNodes, err := htmlquery.QueryAll(n, ".//tr")
	if err != nil {
		return nil
	}
	var rows [][]string
	for _, row := range rowNodes {
		cellNodes, err := htmlquery.QueryAll(row, "./td|./th")
		if err != nil || len(cellNodes) == 0 {
			continue
		}
		cells := make([]string, 0, len(cellNodes))
		for _, cell := range cellNodes {
			cells = append(cells, Text(cell))
		}
		rows = append(rows, cells)
	}
	return rows
}
