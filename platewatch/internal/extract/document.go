package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a rendered page seen through the only lens extraction needs.
type Document interface {
	// FindTable returns the detection table, if present.
	FindTable() (Table, bool)
}

// Table is the detection table.
type Table interface {
	// Headers returns the header cells in document order.
	Headers() []Cell
	// Body returns the direct rows of the table body; false if the table
	// has no body.
	Body() ([]Row, bool)
}

// Row is one table body row.
type Row interface {
	Hidden() bool
	// Cells returns the direct data cells in document order.
	Cells() []Cell
}

// Cell is one header or data cell.
type Cell interface {
	// Text returns the trimmed text content.
	Text() string
	Hidden() bool
	// ImageSource returns the src of the first <img> inside the cell.
	ImageSource() (string, bool)
}

// DefaultTableClass is the class list of the Vaxreader detection table.
const DefaultTableClass = "table table-bordered table-hover table-condensed"

// ParseHTML parses rendered HTML into a Document. tableClass is the
// space-separated class list identifying the detection table; every class
// must be present on the element.
func ParseHTML(raw []byte, tableClass string) (Document, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("extract: parse HTML: %w", err)
	}
	if tableClass == "" {
		tableClass = DefaultTableClass
	}
	return &htmlDocument{root: root, classes: strings.Fields(tableClass)}, nil
}

type htmlDocument struct {
	root    *html.Node
	classes []string
}

func (d *htmlDocument) FindTable() (Table, bool) {
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.DataAtom == atom.Table && hasClasses(n, d.classes)
	})
	if n == nil {
		return nil, false
	}
	return &htmlTable{node: n}, true
}

type htmlTable struct {
	node *html.Node
}

func (t *htmlTable) Headers() []Cell {
	thead := findFirst(t.node, func(n *html.Node) bool { return n.DataAtom == atom.Thead })
	if thead == nil {
		return nil
	}
	var cells []Cell
	walk(thead, func(n *html.Node) {
		if n.DataAtom == atom.Th {
			cells = append(cells, htmlCell{node: n})
		}
	})
	return cells
}

func (t *htmlTable) Body() ([]Row, bool) {
	tbody := findFirst(t.node, func(n *html.Node) bool { return n.DataAtom == atom.Tbody })
	if tbody == nil {
		return nil, false
	}
	var rows []Row
	for c := tbody.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Tr {
			rows = append(rows, htmlRow{node: c})
		}
	}
	return rows, true
}

type htmlRow struct {
	node *html.Node
}

func (r htmlRow) Hidden() bool { return hasAttr(r.node, "hidden") }

func (r htmlRow) Cells() []Cell {
	var cells []Cell
	for c := r.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Td {
			cells = append(cells, htmlCell{node: c})
		}
	}
	return cells
}

type htmlCell struct {
	node *html.Node
}

func (c htmlCell) Text() string { return collectText(c.node) }
func (c htmlCell) Hidden() bool { return hasAttr(c.node, "hidden") }

func (c htmlCell) ImageSource() (string, bool) {
	img := findFirst(c.node, func(n *html.Node) bool { return n.DataAtom == atom.Img })
	if img == nil {
		return "", false
	}
	src := strings.TrimSpace(getAttr(img, "src"))
	return src, src != ""
}

// findFirst returns the first element in document order matching fn.
func findFirst(root *html.Node, fn func(*html.Node) bool) *html.Node {
	var found *html.Node
	var f func(*html.Node)
	f = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && fn(n) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(root)
	return found
}

func walk(root *html.Node, fn func(*html.Node)) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}
		walk(c, fn)
	}
}

// collectText concatenates the text nodes of a subtree, trimmed.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.TrimSpace(sb.String())
}

func hasClasses(n *html.Node, want []string) bool {
	have := strings.Fields(getAttr(n, "class"))
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}
