package rules

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// EncodeYAML writes specs back out as a multi-document rule file that Load
// accepts. Spammer-derived filters are written as ordinary named filters;
// repeated names get a numeric suffix.
func EncodeYAML(w io.Writer, specs []Spec) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, s := range specs {
		if err := enc.Encode(specNode(s)); err != nil {
			return fmt.Errorf("encode spec %q: %w", s.Name, err)
		}
	}
	return enc.Close()
}

func specNode(s Spec) *yaml.Node {
	doc := mapping()
	appendPair(doc, "name", str(s.Name))
	if s.Query != "" {
		appendPair(doc, "query", str(s.Query))
	}
	if s.MaxResults > 0 {
		appendPair(doc, "max_results", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(s.MaxResults)})
	}
	if s.Default != nil {
		appendPair(doc, "default", filterNode(*s.Default))
	}
	filters := mapping()
	seen := map[string]int{}
	for _, f := range s.Filters {
		name := f.Name
		if n := seen[f.Name]; n > 0 {
			name = fmt.Sprintf("%s-%d", f.Name, n+1)
		}
		seen[f.Name]++
		appendPair(filters, name, filterNode(f))
	}
	appendPair(doc, "filters", filters)
	return doc
}

func filterNode(f Filter) *yaml.Node {
	n := mapping()
	if len(f.Criteria) > 0 {
		headers := mapping()
		for _, c := range f.Criteria {
			if c.Plural || len(c.Values) != 1 {
				appendPair(headers, c.Header, seq(c.Values))
				continue
			}
			appendPair(headers, c.Header, str(c.Values[0]))
		}
		appendPair(n, "headers", headers)
	}
	appendPair(n, "actions", seq(f.Actions))
	return n
}

func mapping() *yaml.Node { return &yaml.Node{Kind: yaml.MappingNode} }

func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func seq(vs []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range vs {
		n.Content = append(n.Content, str(v))
	}
	return n
}

func appendPair(m *yaml.Node, key string, val *yaml.Node) {
	m.Content = append(m.Content, str(key), val)
}
