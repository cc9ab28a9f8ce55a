package export

import (
	"bytes"
	"html/template"
	"time"
)

var sheetTemplate = template.Must(template.New("sheet").Parse(sheetTemplateHTML))

// SheetData holds data for study sheet rendering
type SheetData struct {
	Title       string
	Category    string
	Difficulty  string
	Tags        []string
	Description string
	Problem     string
	Solution    string
	BadCode     string
	GoodCode    string
	TestHint    string
	Testing     string
	Examples    string
	References  string
	ExportedAt  time.Time
}

// RenderSheetHTML renders the study sheet template with provided data
func RenderSheetHTML(data SheetData) (string, error) {
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const sheetTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1f2937; }
    h1 { border-bottom: 2px solid #16a34a; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; color: #166534; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .tag { display: inline-block; background: #f0fdf4; border: 1px solid #bbf7d0; border-radius: 4px; padding: 0 6px; margin-right: 4px; font-size: 0.85em; }
    pre { background: #f5f5f5; padding: 1rem; border-radius: 4px; overflow-x: auto; font-size: 0.85em; }
    .bad { border-left: 3px solid #dc2626; }
    .good { border-left: 3px solid #16a34a; }
    .hint { background: #fefce8; padding: 1rem; border-left: 3px solid #ca8a04; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    {{.Category}} | {{.Difficulty}} | exported {{.ExportedAt.Format "Jan 2, 2006"}}
    {{if .Tags}}<div>{{range .Tags}}<span class="tag">{{.}}</span>{{end}}</div>{{end}}
  </div>

  {{if .Description}}<p>{{.Description}}</p>{{end}}

  {{if .Problem}}
  <h2>Why it hurts</h2>
  <p>{{.Problem}}</p>
  {{end}}

  {{if .BadCode}}
  <h2>Smelly code</h2>
  <pre class="bad"><code>{{.BadCode}}</code></pre>
  {{end}}

  {{if .GoodCode}}
  <h2>Refactored</h2>
  <pre class="good"><code>{{.GoodCode}}</code></pre>
  {{end}}

  {{if .Solution}}
  <h2>How to fix it</h2>
  <p>{{.Solution}}</p>
  {{end}}

  {{if .TestHint}}
  <div class="hint"><strong>Testing hint:</strong> {{.TestHint}}</div>
  {{end}}

  {{if .Testing}}
  <h2>Testing strategy</h2>
  <p>{{.Testing}}</p>
  {{end}}

  {{if .Examples}}
  <h2>Real-world examples</h2>
  <p>{{.Examples}}</p>
  {{end}}

  {{if .References}}
  <h2>Further reading</h2>
  <p>{{.References}}</p>
  {{end}}
</body>
</html>`
