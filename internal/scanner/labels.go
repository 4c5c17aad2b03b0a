package scanner

import (
	"strings"
	"unicode/utf8"

	"github.com/jonathan/job-autofill/internal/dom"
)

// maxLabelLen caps text harvested from surrounding markup.
const maxLabelLen = 200

// precedingDepth bounds how many ancestors are searched for preceding text.
const precedingDepth = 4

// resolveLabel applies the label priority: label[for], ancestor label,
// aria-label / aria-labelledby, then the nearest preceding text.
func resolveLabel(n dom.Node, sc *scope) string {
	if id := dom.AttrOr(n, "id"); id != "" {
		if text := sc.labelFor[id]; text != "" {
			return text
		}
	}
	if label := dom.Closest(n, func(a dom.Node) bool { return a.Tag() == "label" }); label != nil {
		if text := labelText(label); text != "" {
			return text
		}
	}
	if text := ariaLabel(n, sc); text != "" {
		return text
	}
	return precedingText(n, sc)
}

func ariaLabel(n dom.Node, sc *scope) string {
	if text := cleanLabel(dom.AttrOr(n, "aria-label")); text != "" {
		return text
	}
	var parts []string
	for _, id := range strings.Fields(dom.AttrOr(n, "aria-labelledby")) {
		if ref, ok := sc.byID[id]; ok {
			if text := labelText(ref); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return cleanLabel(strings.Join(parts, " "))
}

// ownLabel is the label of a single radio member: its own label element,
// aria-label or the text that follows it.
func ownLabel(n dom.Node, sc *scope) string {
	if id := dom.AttrOr(n, "id"); id != "" {
		if text := sc.labelFor[id]; text != "" {
			return text
		}
	}
	if label := dom.Closest(n, func(a dom.Node) bool { return a.Tag() == "label" }); label != nil {
		if text := labelText(label); text != "" {
			return text
		}
	}
	if text := ariaLabel(n, sc); text != "" {
		return text
	}
	return followingText(n)
}

// groupLabel is the question text of a radio group.
func groupLabel(n dom.Node, sc *scope) string {
	container := dom.Closest(n, func(a dom.Node) bool {
		return dom.AttrOr(a, "role") == "radiogroup" || a.Tag() == "fieldset"
	})
	if container != nil {
		if text := ariaLabel(container, sc); text != "" {
			return text
		}
		if container.Tag() == "fieldset" {
			for _, c := range container.Children() {
				if c.Tag() == "legend" {
					if text := labelText(c); text != "" {
						return text
					}
				}
			}
		}
		if text := precedingText(container, sc); text != "" {
			return text
		}
	}

	start := n
	if label := dom.Closest(n, func(a dom.Node) bool { return a.Tag() == "label" }); label != nil {
		start = label
	}
	if text := precedingText(start, sc); text != "" {
		return text
	}
	return ""
}

// labelText returns the text of a label-like element without the text of
// controls nested inside it.
func labelText(n dom.Node) string {
	var sb strings.Builder
	dom.Walk(n, func(c dom.Node) bool {
		switch c.Type() {
		case dom.TextNode:
			sb.WriteString(c.Text())
			sb.WriteByte(' ')
			return false
		case dom.ElementNode:
			switch c.Tag() {
			case "script", "style", "select", "textarea", "option", "input", "button":
				return false
			}
			if c.Key() != n.Key() && IsCandidate(c) {
				return false
			}
		}
		return true
	})
	return cleanLabel(sb.String())
}

// precedingText finds the nearest non-empty text before n, climbing a few
// ancestors. The search stops at a sibling that holds another control so that
// one field never borrows the label of the previous one.
func precedingText(n dom.Node, sc *scope) string {
	cur := n
	for depth := 0; depth < precedingDepth && cur != nil && cur.Key() != sc.root.Key(); depth++ {
		parent := cur.Parent()
		if parent == nil {
			return ""
		}
		siblings := parent.Children()
		idx := indexOf(siblings, cur)
		for i := idx - 1; i >= 0; i-- {
			sib := siblings[i]
			if containsControl(sib) {
				return ""
			}
			if text := labelText(sib); text != "" {
				return truncate(text)
			}
		}
		cur = parent
	}
	return ""
}

func followingText(n dom.Node) string {
	parent := n.Parent()
	if parent == nil {
		return ""
	}
	siblings := parent.Children()
	for i := indexOf(siblings, n) + 1; i < len(siblings); i++ {
		if containsControl(siblings[i]) {
			return ""
		}
		if text := labelText(siblings[i]); text != "" {
			return truncate(text)
		}
	}
	return ""
}

func containsControl(n dom.Node) bool {
	found := false
	dom.Walk(n, func(c dom.Node) bool {
		if found {
			return false
		}
		if IsCandidate(c) {
			found = true
			return false
		}
		return true
	})
	return found
}

func indexOf(nodes []dom.Node, n dom.Node) int {
	for i, c := range nodes {
		if c.Key() == n.Key() {
			return i
		}
	}
	return len(nodes)
}

// cleanLabel collapses whitespace and strips required markers and trailing colons.
func cleanLabel(s string) string {
	s = dom.CollapseSpace(s)
	s = strings.TrimLeft(s, "* ")
	s = strings.TrimRight(s, "*: ")
	return strings.TrimSpace(s)
}

func truncate(s string) string {
	if len(s) <= maxLabelLen {
		return s
	}
	end := maxLabelLen
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	cut := s[:end]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}
