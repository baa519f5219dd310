// Package catalog describes the dataset a process answers questions about:
// the SQL dialect and the tables with their sources.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"tableqa/internal/errs"
)

// Supported table formats.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
	FormatJSON    = "json"
)

// Table is one queryable table.
type Table struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source"`
	Format      string `yaml:"format,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Catalog is the parsed catalog file.
type Catalog struct {
	Name    string  `yaml:"name"`
	Dialect string  `yaml:"dialect"`
	Tables  []Table `yaml:"tables"`

	dir string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Load reads and validates a catalog file. Relative local sources resolve
// against the file's directory.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "catalog", "catalog file "+path+" does not exist", err)
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errs.Wrap(errs.Config, "catalog", "invalid YAML", err)
	}
	if len(c.Tables) == 0 {
		return nil, errs.New(errs.Config, "catalog", "no tables listed")
	}
	seen := make(map[string]bool)
	for i := range c.Tables {
		t := &c.Tables[i]
		t.Name = strings.TrimSpace(t.Name)
		t.Source = strings.TrimSpace(t.Source)
		if !tableName.MatchString(t.Name) {
			return nil, errs.New(errs.Config, "catalog", fmt.Sprintf("table %d: invalid name %q", i+1, t.Name))
		}
		if seen[t.Name] {
			return nil, errs.New(errs.Config, "catalog", "duplicate table "+t.Name)
		}
		seen[t.Name] = true
		if t.Source == "" {
			return nil, errs.New(errs.Config, "catalog", "table "+t.Name+" has no source")
		}
		format, err := resolveFormat(t.Format, t.Source)
		if err != nil {
			return nil, errs.Wrap(errs.Config, "catalog", "table "+t.Name, err)
		}
		t.Format = format
	}
	return &c, nil
}

// TableNames lists table names in catalog order.
func (c *Catalog) TableNames() []string {
	out := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = t.Name
	}
	return out
}

// Table looks a table up by name.
func (c *Catalog) Table(name string) (Table, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// LocalPath is where the engine reads t from. Remote sources map to a file
// in dataDir named after the table.
func (c *Catalog) LocalPath(t Table, dataDir string) string {
	if t.Remote() {
		return filepath.Join(dataDir, t.Name+"."+t.Format)
	}
	if filepath.IsAbs(t.Source) || c.dir == "" {
		return t.Source
	}
	return filepath.Join(c.dir, t.Source)
}

// Remote reports whether the source must be fetched before querying.
func (t Table) Remote() bool {
	return strings.HasPrefix(t.Source, "https://") ||
		strings.HasPrefix(t.Source, "http://") ||
		strings.HasPrefix(t.Source, "s3://")
}

func resolveFormat(format, source string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		lower := strings.ToLower(source)
		if i := strings.IndexAny(lower, "?#"); i >= 0 {
			lower = lower[:i]
		}
		lower = strings.TrimSuffix(lower, ".gz")
		switch {
		case strings.HasSuffix(lower, ".parquet"):
			format = FormatParquet
		case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".tsv"):
			format = FormatCSV
		case strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".ndjson"):
			format = FormatJSON
		default:
			return "", fmt.Errorf("cannot infer format of %q; set format explicitly", source)
		}
	}
	switch format {
	case FormatParquet, FormatCSV, FormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}
