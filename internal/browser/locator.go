// internal/browser/locator.go
package browser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StrategyKind selects the query language a Strategy is written in.
type StrategyKind string

const (
	KindCSS   StrategyKind = "css"
	KindXPath StrategyKind = "xpath"
)

// Strategy is one way of locating an element on the page.
type Strategy struct {
	Kind  StrategyKind
	Query string
}

// String renders the strategy for logs and error messages.
func (st Strategy) String() string {
	return fmt.Sprintf("%s:%s", st.Kind, st.Query)
}

// CSS builds a CSS selector strategy.
func CSS(query string) Strategy { return Strategy{Kind: KindCSS, Query: query} }

// XPath builds an XPath strategy.
func XPath(query string) Strategy { return Strategy{Kind: KindXPath, Query: query} }

// Locator names an element and lists the strategies for finding it, in
// preference order. The page under automation regenerates most of its
// class names on every deploy, so locators carry several fallbacks and
// operations walk them until one matches.
type Locator struct {
	Name       string
	Strategies []Strategy

	// Timeout overrides the session's default wait budget when positive.
	Timeout time.Duration
}

// NewLocator builds a locator from strategies in preference order.
func NewLocator(name string, strategies ...Strategy) Locator {
	return Locator{Name: name, Strategies: strategies}
}

// WithTimeout returns a copy of the locator with an explicit wait budget.
func (l Locator) WithTimeout(d time.Duration) Locator {
	l.Timeout = d
	return l
}

// String renders the locator name for logs.
func (l Locator) String() string { return l.Name }

// probeExpr builds a JS expression that checks every strategy in order
// and evaluates to the 1-based index of the first one matching at least
// minCount nodes, or null when none do. The index is 1-based because
// chromedp's Poll treats falsy values, zero included, as "keep waiting".
func probeExpr(strategies []Strategy, minCount int) string {
	var sb strings.Builder
	sb.WriteString("(() => {\n\tconst probes = [\n")
	for _, st := range strategies {
		sb.WriteString("\t\t() => ")
		sb.WriteString(countExpr(st))
		sb.WriteString(",\n")
	}
	fmt.Fprintf(&sb, "\t];\n\tfor (let i = 0; i < probes.length; i++) {\n\t\ttry { if (probes[i]() >= %d) { return i + 1; } } catch (e) {}\n\t}\n\treturn null;\n})()", minCount)
	return sb.String()
}

// countExpr builds a JS expression counting the nodes a strategy matches.
func countExpr(st Strategy) string {
	switch st.Kind {
	case KindXPath:
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength", jsonEncode(st.Query))
	default:
		return fmt.Sprintf("document.querySelectorAll(%s).length", jsonEncode(st.Query))
	}
}

// nodeExpr builds a JS expression resolving to the first node a strategy
// matches, or null. Script-driven interactions embed it to reach the
// element chromedp cannot click natively.
func nodeExpr(st Strategy) string {
	switch st.Kind {
	case KindXPath:
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", jsonEncode(st.Query))
	default:
		return fmt.Sprintf("document.querySelector(%s)", jsonEncode(st.Query))
	}
}

// jsonEncode safely encodes a value, strings especially, for embedding
// in injected JavaScript.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
