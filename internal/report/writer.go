package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	md "github.com/nao1215/markdown"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
)

// Format is a report output format.
type Format string

// Output formats.
const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name. Empty selects the table format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FormatTable, nil
	case "md":
		return FormatMarkdown, nil
	case FormatTable, FormatJSON, FormatYAML, FormatHTML, FormatMarkdown:
		return f, nil
	default:
		return "", errors.NewValidationError("format", s, "must be one of: table, json, yaml, html, markdown")
	}
}

// FormatForPath infers the format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".html", ".htm":
		return FormatHTML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatTable
	}
}

// Write renders r in format f.
func Write(w io.Writer, r *Report, f Format) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	case FormatHTML:
		return WriteHTML(w, r)
	case FormatMarkdown:
		return WriteMarkdown(w, r)
	default:
		return WriteTable(w, r)
	}
}

// WriteFile renders r to path, creating parent directories.
func WriteFile(path string, r *Report, f Format) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
			return errors.WrapIO("create", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.FilePermissions)
	if err != nil {
		return errors.WrapIO("open", path, err)
	}
	if err := Write(file, r, f); err != nil {
		_ = file.Close()
		return err
	}
	return errors.WrapIO("close", path, file.Close())
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes r as YAML.
func WriteYAML(w io.Writer, r *Report) error {
	data, err := yaml.MarshalWithOptions(r, yaml.Indent(2), yaml.IndentSequence(false))
	if err != nil {
		return errors.WrapParse("yaml", "report", err)
	}
	_, err = w.Write(data)
	return err
}

var tableColumns = []string{"domain", "accounts", "total", "high", "medium", "low", "categories", "synced"}

// WriteTable writes one row per domain followed by the run totals.
func WriteTable(w io.Writer, r *Report) error {
	caser := cases.Title(language.English)
	headers := make([]any, len(tableColumns))
	for i, c := range tableColumns {
		headers[i] = caser.String(c)
	}

	table := tablewriter.NewTable(w)
	table.Header(headers...)
	for _, d := range r.Domains {
		cats := make([]string, 0, len(d.Rollup.Categories))
		for _, name := range d.Rollup.ActiveCategories() {
			cats = append(cats, fmt.Sprintf("%s (%d)", name, d.Rollup.Categories[name]))
		}
		row := []any{
			d.Name,
			strconv.Itoa(len(d.Accounts)),
			strconv.Itoa(d.Rollup.Total),
			strconv.Itoa(d.Rollup.High),
			strconv.Itoa(d.Rollup.Medium),
			strconv.Itoa(d.Rollup.Low),
			strings.Join(cats, ", "),
			strconv.FormatBool(d.Synced),
		}
		if err := table.Append(row...); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	t := r.Summary()
	_, err := fmt.Fprintf(w, "Summary: %d account(s), %d risk(s) (%d high), %d domain(s).\n",
		t.Accounts, t.Risks, t.High, t.Domains)
	if err == nil && r.Aborted {
		_, err = fmt.Fprintln(w, "Catalog sync aborted: missing write permission.")
	}
	return err
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"tier": func(high, total int) string {
		switch {
		case high > 0:
			return "issue"
		case total > 0:
			return "warning"
		default:
			return "information"
		}
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>TrustLogix Governance Report</title>
<style>
body{font-family:sans-serif;margin:2em}
.issue{color:#BF1B1B}.warning{color:#B7791F}.information{color:#047960}
table{border-collapse:collapse}td,th{border:1px solid #ddd;padding:4px 8px}
</style></head>
<body>
<h1>TrustLogix Governance Report</h1>
<p>Run {{.RunID}} generated {{.GeneratedAt.Format "Jan 02, 2006 15:04 UTC"}}{{if .Aborted}} (catalog sync aborted){{end}}</p>
{{range .Domains}}
<h2 class="{{tier .Rollup.High .Rollup.Total}}">{{.Name}}: {{.Rollup.Total}} risk(s), {{.Rollup.High}} high</h2>
<table>
<tr><th>Account</th><th>Platform</th><th>Databases</th><th>Total</th><th>High</th><th>Medium</th><th>Low</th></tr>
{{range .Accounts}}{{$s := .Summary}}<tr><td>{{.Name}}</td><td>{{.Subtype}}</td><td>{{len .Databases}}</td><td>{{$s.Total}}</td><td>{{$s.High}}</td><td>{{$s.Medium}}</td><td>{{$s.Low}}</td></tr>
{{end}}</table>
{{end}}
</body>
</html>
`))

// WriteHTML writes r as a standalone HTML page.
func WriteHTML(w io.Writer, r *Report) error {
	return htmlTemplate.Execute(w, r)
}

// WriteMarkdown writes r as a Markdown document with a domain table and
// one account table per domain.
func WriteMarkdown(w io.Writer, r *Report) error {
	doc := md.NewMarkdown(w)
	doc.H1("TrustLogix Governance Report").LF()
	doc.PlainTextf("Run %s generated %s.", r.RunID, r.GeneratedAt.Format("Jan 02, 2006 15:04 UTC")).LF()
	if r.Aborted {
		doc.PlainText("Catalog sync aborted: missing write permission.").LF()
	}

	caser := cases.Title(language.English)
	headers := make([]string, len(tableColumns))
	for i, c := range tableColumns {
		headers[i] = caser.String(c)
	}
	rows := make([][]string, 0, len(r.Domains))
	for _, d := range r.Domains {
		rows = append(rows, []string{
			d.Name,
			strconv.Itoa(len(d.Accounts)),
			strconv.Itoa(d.Rollup.Total),
			strconv.Itoa(d.Rollup.High),
			strconv.Itoa(d.Rollup.Medium),
			strconv.Itoa(d.Rollup.Low),
			strings.Join(d.Rollup.ActiveCategories(), ", "),
			strconv.FormatBool(d.Synced),
		})
	}
	doc.H2("Domains").LF()
	doc.Table(md.TableSet{Header: headers, Rows: rows}).LF()

	for _, d := range r.Domains {
		doc.H2(d.Name).LF()
		accounts := make([][]string, 0, len(d.Accounts))
		for _, a := range d.Accounts {
			s := a.Summary()
			accounts = append(accounts, []string{
				a.Name,
				a.Subtype,
				strconv.Itoa(len(a.Databases())),
				strconv.Itoa(s.Total),
				strconv.Itoa(s.High),
				strconv.Itoa(s.Medium),
				strconv.Itoa(s.Low),
			})
		}
		doc.Table(md.TableSet{
			Header: []string{"Account", "Platform", "Databases", "Total", "High", "Medium", "Low"},
			Rows:   accounts,
		}).LF()
	}

	t := r.Summary()
	doc.PlainTextf("Summary: %d account(s), %d risk(s) (%d high), %d domain(s).", t.Accounts, t.Risks, t.High, t.Domains).LF()
	return doc.Build()
}
