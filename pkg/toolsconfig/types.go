package toolsconfig

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// JoinedRow is one (toolset, tool, datasource) combination for a tenant
// server, as produced by the server/toolset/tool/datasource/connection join.
// Nullable columns of the left joins are pointers.
type JoinedRow struct {
	ServerID        string
	ServerURL       string
	ToolsetID       string
	ToolsetName     string
	ToolID          string
	ToolName        string
	ToolDescription string
	DatasourceID    *string
	DatasourceName  *string
	ConnectionID    *string
	ConnectionName  *string
	// ConnectionParams holds host/port/database/user(name)/password.
	ConnectionParams map[string]any
	// Kind is the database dialect tag, e.g. "postgres".
	Kind string
	// ToolParams is the raw JSON parameter list. Key order is kept as
	// stored.
	ToolParams json.RawMessage
	SQLQuery   string
}

// Connection describes one database connection of the worker document.
// Kind is omitted from the rendered output when empty.
type Connection struct {
	Kind     string
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

type Source struct {
	Key string
	Connection
}

type Tool struct {
	Key         string
	Kind        string
	Source      string
	Description string
	// Parameters is the decoded parameter list in source key order. Nil
	// renders as an empty sequence.
	Parameters *yaml.Node
	// Statement always ends with exactly one newline and is rendered as a
	// literal block scalar.
	Statement string
	// DatasourceIDs is the sorted, comma-joined set of datasource ids; empty
	// means the field is not rendered.
	DatasourceIDs string
}

type Toolset struct {
	Key   string
	Tools []string
}

// Document is the compiled worker configuration. Every section keeps the
// first-seen order of the input rows.
type Document struct {
	Sources        []Source
	MetadataSource Connection
	Tools          []Tool
	Toolsets       []Toolset
}
