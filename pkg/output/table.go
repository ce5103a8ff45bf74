package output

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/mcpkit/mcpkit/pkg/mcp"
)

// EndpointSummary contains data for the endpoints table printed at serve
// startup.
type EndpointSummary struct {
	Path      string
	Transport string // http, ws, sse, ops
	Purpose   string
}

// Tools prints the registered tools table with amber styling.
func (p *Printer) Tools(tools []mcp.Tool) {
	if len(tools) == 0 {
		p.Println("No tools registered.")
		return
	}

	p.Section("TOOLS")

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	t.AppendHeader(table.Row{"Name", "Version", "Tags", "Description"})

	for _, tool := range tools {
		version := tool.Version
		if version == "" {
			version = "-"
		}
		t.AppendRow(table.Row{tool.Name, version, strings.Join(tool.Tags, ","), tool.Description})
	}

	t.Render()
	p.Println()
}

// Endpoints prints the endpoint summary table.
func (p *Printer) Endpoints(endpoints []EndpointSummary) {
	if len(endpoints) == 0 {
		return
	}

	p.Section("ENDPOINTS")

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	t.AppendHeader(table.Row{"Path", "Transport", "Purpose"})

	for _, e := range endpoints {
		transport := e.Transport
		if p.isTTY {
			transport = lipgloss.NewStyle().Foreground(ColorGreen).Render(transport)
		}
		t.AppendRow(table.Row{e.Path, transport, e.Purpose})
	}

	t.Render()
	p.Println()
}

// tableStyle returns the standard amber-themed table style.
func (p *Printer) tableStyle() table.Style {
	style := table.StyleRounded
	if p.isTTY {
		style.Color.Header = text.Colors{text.FgHiYellow, text.Bold}
		style.Color.Border = text.Colors{text.FgHiBlack}
	}
	style.Options.SeparateRows = false
	return style
}

// Section prints a section header.
func (p *Printer) Section(title string) {
	if p.isTTY {
		style := lipgloss.NewStyle().Foreground(ColorAmber).Bold(true)
		p.Println(style.Render(title))
	} else {
		p.Println(title)
	}
}
