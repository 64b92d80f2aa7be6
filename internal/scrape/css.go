package scrape

import (
	"fmt"
	"regexp"
	"strings"
)

// The locator tables only use a narrow slice of CSS: tag, #id, .class,
// [attr='value'], [attr*='value'] and bare [attr] filters, the descendant
// and child combinators, and comma-separated alternatives. That subset
// translates mechanically to XPath, which is what the query engine runs.

var simpleSelectorRe = regexp.MustCompile(
	`^([a-zA-Z][a-zA-Z0-9-]*|\*)?` + // tag
		`((?:[.#][^.#\[\]]+)*)` + // id and class filters
		`((?:\[[^\[\]]+\])*)$`) // attribute filters

var filterTokenRe = regexp.MustCompile(`[.#][^.#\[\]]+|\[[^\[\]]+\]`)

func translateSelector(selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", fmt.Errorf("empty selector")
	}

	var alternatives []string
	for _, alt := range strings.Split(selector, ",") {
		expr, err := translateCompound(strings.TrimSpace(alt))
		if err != nil {
			return "", err
		}
		alternatives = append(alternatives, expr)
	}
	return strings.Join(alternatives, " | "), nil
}

// translateCompound handles one comma-free selector: simple parts joined
// by descendant (whitespace) or child (>) combinators.
func translateCompound(selector string) (string, error) {
	if selector == "" {
		return "", fmt.Errorf("empty selector alternative")
	}

	var b strings.Builder
	childNext := false
	for _, token := range strings.Fields(selector) {
		if token == ">" {
			if b.Len() == 0 || childNext {
				return "", fmt.Errorf("misplaced child combinator in %q", selector)
			}
			childNext = true
			continue
		}

		step, err := translateSimple(token)
		if err != nil {
			return "", fmt.Errorf("selector %q: %w", selector, err)
		}
		if childNext {
			b.WriteString("/")
			childNext = false
		} else {
			b.WriteString("//")
		}
		b.WriteString(step)
	}
	if childNext {
		return "", fmt.Errorf("dangling child combinator in %q", selector)
	}
	return b.String(), nil
}

// translateSimple turns one simple selector such as input[type='email'] or
// tr.invoice-item into an XPath step.
func translateSimple(token string) (string, error) {
	m := simpleSelectorRe.FindStringSubmatch(token)
	if m == nil {
		return "", fmt.Errorf("unsupported selector part %q", token)
	}
	tag, filters, attrs := m[1], m[2], m[3]
	if tag == "" {
		tag = "*"
	}
	if filters == "" && attrs == "" && tag == "*" && token != "*" {
		return "", fmt.Errorf("unsupported selector part %q", token)
	}

	var predicates []string
	for _, f := range filterTokenRe.FindAllString(filters+attrs, -1) {
		switch {
		case strings.HasPrefix(f, "#"):
			predicates = append(predicates, fmt.Sprintf("@id=%s", xpathString(f[1:])))
		case strings.HasPrefix(f, "."):
			predicates = append(predicates, fmt.Sprintf(
				"contains(concat(' ', normalize-space(@class), ' '), %s)", xpathString(" "+f[1:]+" ")))
		default: // [attr], [attr=value] or [attr*=value]
			inner := strings.TrimSuffix(strings.TrimPrefix(f, "["), "]")
			name, value, found := strings.Cut(inner, "=")
			name = strings.TrimSpace(name)
			substring := strings.HasSuffix(name, "*")
			name = strings.TrimSuffix(name, "*")
			if name == "" {
				return "", fmt.Errorf("attribute filter %q has no name", f)
			}
			if !found {
				predicates = append(predicates, "@"+name)
				continue
			}
			value = strings.Trim(strings.TrimSpace(value), `'"`)
			if substring {
				predicates = append(predicates, fmt.Sprintf("contains(@%s, %s)", name, xpathString(value)))
			} else {
				predicates = append(predicates, fmt.Sprintf("@%s=%s", name, xpathString(value)))
			}
		}
	}

	step := tag
	for _, p := range predicates {
		step += "[" + p + "]"
	}
	return step, nil
}

// xpathString quotes a literal for use inside an XPath expression. XPath
// 1.0 has no escape sequences, so values containing both quote kinds need
// a concat().
func xpathString(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	for i, p := range parts {
		parts[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(parts, `, "'", `) + ")"
}
