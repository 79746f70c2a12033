package toolsconfig

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Node builds the order-preserving YAML tree of the document.
func (d *Document) Node() (*yaml.Node, error) {
	if d == nil {
		return nil, fmt.Errorf("nil document")
	}

	sources := mappingNode()
	for _, s := range d.Sources {
		mappingAppend(sources, s.Key, connectionNode(s.Connection))
	}

	tools := mappingNode()
	for _, t := range d.Tools {
		n, err := toolNode(t)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Key, err)
		}
		mappingAppend(tools, t.Key, n)
	}

	toolsets := mappingNode()
	for _, ts := range d.Toolsets {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, key := range ts.Tools {
			seq.Content = append(seq.Content, strNode(key))
		}
		mappingAppend(toolsets, ts.Key, seq)
	}

	top := mappingNode()
	mappingAppend(top, "sources", sources)
	mappingAppend(top, "metadata_source", connectionNode(d.MetadataSource))
	mappingAppend(top, "tools", tools)
	mappingAppend(top, "toolsets", toolsets)
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{top}}, nil
}

// Encode renders the document as YAML with two-space indentation.
func (d *Document) Encode() ([]byte, error) {
	n, err := d.Node()
	if err != nil {
		return nil, err
	}
	return encodeYAML(n)
}

func encodeYAML(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func connectionNode(c Connection) *yaml.Node {
	m := mappingNode()
	if c.Kind != "" {
		mappingAppend(m, "kind", strNode(c.Kind))
	}
	mappingAppend(m, "host", strNode(c.Host))
	mappingAppend(m, "port", intNode(c.Port))
	mappingAppend(m, "database", strNode(c.Database))
	mappingAppend(m, "user", strNode(c.User))
	mappingAppend(m, "password", strNode(c.Password))
	return m
}

func toolNode(t Tool) (*yaml.Node, error) {
	params := t.Parameters
	if params == nil {
		params = emptySeq()
	}

	m := mappingNode()
	mappingAppend(m, "kind", strNode(t.Kind))
	mappingAppend(m, "source", strNode(t.Source))
	mappingAppend(m, "description", strNode(t.Description))
	mappingAppend(m, "parameters", params)
	mappingAppend(m, "statement", &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Style: yaml.LiteralStyle,
		Value: t.Statement,
	})
	if t.DatasourceIDs != "" {
		mappingAppend(m, "datasource_ids", strNode(t.DatasourceIDs))
	}
	return m, nil
}

// YAML helpers (order-preserving)

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func mappingAppend(m *yaml.Node, key string, val *yaml.Node) {
	m.Content = append(m.Content, strNode(key), val)
}

func mappingGet(m *yaml.Node, key string) (*yaml.Node, bool) {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		k := m.Content[i]
		if k != nil && k.Value == key {
			return m.Content[i+1], true
		}
	}
	return nil, false
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}
