package storage

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/lib/pq"
)

// Statement identifiers.
const (
	UpsertEnergy     = "upsert_energy"
	UpsertProduction = "upsert_production"
	SelectEnergy     = "select_energy"
	SelectProduction = "select_production"
	CleanEnergy      = "clean_energy"
	CleanProduction  = "clean_production"
)

// ErrUnknownStatement is returned for a statement identifier with no template
var ErrUnknownStatement = errors.New("unknown statement")

//go:embed schema.sql.tmpl
var schemaTemplate string

//nolint:gochecknoglobals // Bundled statement templates
var defaultStatements = map[string]string{
	UpsertEnergy: `INSERT INTO {{ ident .Schema }}.energy_data (ts, value) VALUES ($1, $2)
ON CONFLICT (ts) DO UPDATE SET value = EXCLUDED.value`,
	UpsertProduction: `INSERT INTO {{ ident .Schema }}.production_data (ts, value) VALUES ($1, $2)
ON CONFLICT (ts) DO UPDATE SET value = EXCLUDED.value`,
	SelectEnergy:     `SELECT id, ts, value FROM {{ ident .Schema }}.get_energy($1, $2)`,
	SelectProduction: `SELECT id, ts, value FROM {{ ident .Schema }}.get_production($1, $2)`,
	CleanEnergy:      `DELETE FROM {{ ident .Schema }}.energy_data`,
	CleanProduction:  `DELETE FROM {{ ident .Schema }}.production_data`,
}

// templateEngine renders SQL templates with Sprig functions plus identifier quoting.
type templateEngine struct {
	funcMap template.FuncMap
}

func newTemplateEngine() *templateEngine {
	funcMap := sprig.TxtFuncMap()
	funcMap["ident"] = pq.QuoteIdentifier
	funcMap["literal"] = pq.QuoteLiteral

	return &templateEngine{funcMap: funcMap}
}

func (t *templateEngine) render(name, content string, vars any) (string, error) {
	tmpl, err := template.New(name).Funcs(t.funcMap).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

type templateVars struct {
	Schema string
}

// Catalog maps statement identifiers to rendered SQL.
type Catalog map[string]string

// NewCatalog renders the bundled statements, with overrides from cfg taking precedence.
func NewCatalog(cfg *Config) (Catalog, error) {
	sources := maps.Clone(defaultStatements)
	maps.Copy(sources, cfg.Statements)

	engine := newTemplateEngine()
	vars := templateVars{Schema: cfg.Schema}
	catalog := make(Catalog, len(sources))

	for id, src := range sources {
		rendered, err := engine.render(id, src, vars)
		if err != nil {
			return nil, err
		}

		catalog[id] = rendered
	}

	return catalog, nil
}

// Get returns the SQL of a statement.
func (c Catalog) Get(id string) (string, error) {
	stmt, ok := c[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStatement, id)
	}

	return stmt, nil
}

// RenderSchema renders the bundled schema for cfg.
func RenderSchema(cfg *Config) (string, error) {
	return newTemplateEngine().render("schema", schemaTemplate, templateVars{Schema: cfg.Schema})
}
