package toolsconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oneplace-ai/toolbox-provisioner/pkg/slug"
)

const (
	DefaultPort = 5432

	dialectSuffix    = "-sql"
	nullConnectionID = "<null>"
)

// Compiler turns joined rows into a worker Document. It holds no state
// between calls and is safe for concurrent use.
type Compiler struct {
	// MetadataSource is injected into every document unchanged.
	MetadataSource Connection
}

type toolEntry struct {
	tool        Tool
	datasources map[string]struct{}
}

type toolsetEntry struct {
	tools []string
	seen  map[string]struct{}
}

func (e *toolsetEntry) add(toolKey string) {
	if _, ok := e.seen[toolKey]; ok {
		return
	}
	e.seen[toolKey] = struct{}{}
	e.tools = append(e.tools, toolKey)
}

// Compile builds the document for rows. Row order decides first-seen
// naming, descriptor selection and toolset membership order; the caller is
// expected to pass rows ordered by toolset, tool and datasource name.
//
// Compile fails without returning a partial document when a connection
// being recorded for the first time is malformed.
func (c *Compiler) Compile(rows []JoinedRow) (*Document, error) {
	conns := slug.NewUnique()
	sources := newOrderedMap[Connection]()

	for _, row := range rows {
		connID, ok := deref(row.ConnectionID)
		if !ok {
			return nil, &MalformedConnectionError{ConnectionID: nullConnectionID, Missing: []string{"connection_id"}}
		}
		if _, seen := conns.Lookup(connID); seen {
			continue
		}
		conn, err := connectionFromRow(connID, row)
		if err != nil {
			return nil, err
		}
		name, _ := deref(row.ConnectionName)
		key := conns.Claim(connID, name, "conn-"+strconv.Itoa(conns.Len()+1))
		sources.Set(key, conn)
	}

	toolSlugs := slug.NewUnique()
	tools := newOrderedMap[*toolEntry]()
	toolsetSlugs := slug.NewUnique()
	toolsets := newOrderedMap[*toolsetEntry]()

	for _, row := range rows {
		connID, _ := deref(row.ConnectionID)
		srcKey, _ := conns.Lookup(connID)

		toolKey, seen := toolSlugs.Lookup(row.ToolID)
		if !seen {
			toolKey = toolSlugs.Claim(row.ToolID, row.ToolName, "tool-"+strconv.Itoa(toolSlugs.Len()+1))
			params, err := paramsNode(row.ToolParams)
			if err != nil {
				return nil, fmt.Errorf("tool %q parameters: %w", row.ToolID, err)
			}
			tools.Set(toolKey, &toolEntry{
				tool: Tool{
					Key:         toolKey,
					Kind:        qualifyKind(row.Kind),
					Source:      srcKey,
					Description: row.ToolDescription,
					Parameters:  params,
					Statement:   normalizeStatement(row.SQLQuery),
				},
				datasources: map[string]struct{}{},
			})
		}
		if ds, ok := deref(row.DatasourceID); ok && ds != "" {
			entry, _ := tools.Get(toolKey)
			entry.datasources[ds] = struct{}{}
		}

		tsKey := toolsetSlugs.Claim(row.ToolsetID, row.ToolsetName, "toolset-"+strconv.Itoa(toolsetSlugs.Len()+1))
		ts, ok := toolsets.Get(tsKey)
		if !ok {
			ts = &toolsetEntry{seen: map[string]struct{}{}}
			toolsets.Set(tsKey, ts)
		}
		ts.add(toolKey)
	}

	doc := &Document{
		Sources:        make([]Source, 0, sources.Len()),
		MetadataSource: c.MetadataSource,
		Tools:          make([]Tool, 0, tools.Len()),
		Toolsets:       make([]Toolset, 0, toolsets.Len()),
	}
	sources.Each(func(key string, conn Connection) {
		doc.Sources = append(doc.Sources, Source{Key: key, Connection: conn})
	})
	tools.Each(func(_ string, e *toolEntry) {
		t := e.tool
		t.DatasourceIDs = joinSorted(e.datasources)
		doc.Tools = append(doc.Tools, t)
	})
	toolsets.Each(func(key string, e *toolsetEntry) {
		doc.Toolsets = append(doc.Toolsets, Toolset{Key: key, Tools: append([]string(nil), e.tools...)})
	})
	return doc, nil
}

// Render compiles rows and encodes the result.
func (c *Compiler) Render(rows []JoinedRow) ([]byte, error) {
	doc, err := c.Compile(rows)
	if err != nil {
		return nil, err
	}
	return doc.Encode()
}

func connectionFromRow(connID string, row JoinedRow) (Connection, error) {
	params := row.ConnectionParams
	bad := &MalformedConnectionError{ConnectionID: connID}

	kind := strings.TrimSpace(row.Kind)
	if kind == "" {
		bad.Missing = append(bad.Missing, "kind")
	}
	host, ok := stringParam(params, "host")
	if !ok {
		bad.Missing = append(bad.Missing, "host")
	}
	database, ok := stringParam(params, "database")
	if !ok {
		bad.Missing = append(bad.Missing, "database")
	}
	user, ok := stringParam(params, "user")
	if !ok {
		user, ok = stringParam(params, "username")
	}
	if !ok {
		bad.Missing = append(bad.Missing, "user")
	}
	password, ok := params["password"]
	if !ok || password == nil {
		bad.Missing = append(bad.Missing, "password")
	}
	port, ok := portParam(params)
	if !ok {
		bad.Invalid = append(bad.Invalid, "port")
	}
	if len(bad.Missing) > 0 || len(bad.Invalid) > 0 {
		return Connection{}, bad
	}
	return Connection{
		Kind:     kind,
		Host:     host,
		Port:     port,
		Database: database,
		User:     user,
		Password: scalarString(password),
	}, nil
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	s := strings.TrimSpace(scalarString(v))
	return s, s != ""
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func portParam(params map[string]any) (int, bool) {
	v, ok := params["port"]
	if !ok || v == nil {
		return DefaultPort, true
	}
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, false
		}
		n = i
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return DefaultPort, true
		}
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n <= 0 || n > 65535 {
		return 0, false
	}
	return int(n), true
}

func qualifyKind(kind string) string {
	kind = strings.TrimSpace(kind)
	if strings.HasSuffix(kind, dialectSuffix) {
		return kind
	}
	return kind + dialectSuffix
}

func normalizeStatement(sql string) string {
	return strings.TrimRight(sql, " \t\r\n\v\f") + "\n"
}

// paramsNode decodes raw JSON into a node tree so mapping keys keep their
// stored order. Flow and quoting styles from the JSON source are dropped so
// the encoder emits block style.
func paramsNode(raw json.RawMessage) (*yaml.Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return emptySeq(), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid JSON")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return emptySeq(), nil
	}
	n := doc.Content[0]
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return emptySeq(), nil
	}
	resetStyle(n)
	return n, nil
}

func resetStyle(n *yaml.Node) {
	n.Style = 0
	n.Line, n.Column = 0, 0
	for _, c := range n.Content {
		resetStyle(c)
	}
}

func emptySeq() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

func joinSorted(set map[string]struct{}) string {
	if len(set) == 0 {
		return ""
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func deref(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}
