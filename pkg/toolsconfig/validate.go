package toolsconfig

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidateDocument checks the structure of an externally supplied worker
// document: top-level mapping, mapping-valued sections, tools pointing at
// declared sources and toolsets pointing at declared tools. Tool semantics
// are not checked.
func ValidateDocument(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		return validationIssue("document", "", errors.New("empty document"))
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return validationIssue("document", "", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return validationIssue("document", "", errors.New("top level must be a mapping"))
	}
	root := doc.Content[0]

	sources, err := sectionKeys(root, "sources")
	if err != nil {
		return err
	}
	tools, err := validateTools(root, sources)
	if err != nil {
		return err
	}
	return validateToolsets(root, tools)
}

func sectionKeys(root *yaml.Node, section string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	n, ok := mappingGet(root, section)
	if !ok || isNull(n) {
		return out, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, validationIssue(section, "", errors.New("must be a mapping"))
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if _, dup := out[key]; dup {
			return nil, validationIssue(section, key, errors.New("duplicate key"))
		}
		if n.Content[i+1].Kind != yaml.MappingNode && section == "sources" {
			return nil, validationIssue(section, key, errors.New("must be a mapping"))
		}
		out[key] = struct{}{}
	}
	return out, nil
}

func validateTools(root *yaml.Node, sources map[string]struct{}) (map[string]struct{}, error) {
	keys, err := sectionKeys(root, "tools")
	if err != nil {
		return nil, err
	}
	n, ok := mappingGet(root, "tools")
	if !ok || isNull(n) {
		return keys, nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		tool := n.Content[i+1]
		if tool.Kind != yaml.MappingNode {
			return nil, validationIssue("tools", key, errors.New("must be a mapping"))
		}
		if src, ok := mappingGet(tool, "source"); ok {
			if _, declared := sources[src.Value]; !declared {
				return nil, validationIssue("tools", key, fmt.Errorf("unknown source %q", src.Value))
			}
		}
		stmt, ok := mappingGet(tool, "statement")
		if !ok || strings.TrimSpace(stmt.Value) == "" {
			return nil, validationIssue("tools", key, errors.New("statement is required"))
		}
	}
	return keys, nil
}

func validateToolsets(root *yaml.Node, tools map[string]struct{}) error {
	n, ok := mappingGet(root, "toolsets")
	if !ok || isNull(n) {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return validationIssue("toolsets", "", errors.New("must be a mapping"))
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		seq := n.Content[i+1]
		if seq.Kind != yaml.SequenceNode {
			return validationIssue("toolsets", key, errors.New("must be a list of tool names"))
		}
		for _, item := range seq.Content {
			if _, declared := tools[item.Value]; !declared {
				return validationIssue("toolsets", key, fmt.Errorf("unknown tool %q", item.Value))
			}
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}
