package xdisplay

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// TemplateDevice is the per-GPU data available to a display template.
type TemplateDevice struct {
	Index int
	UUID  string
	Name  string
	BusID string
}

// TemplateData is passed to a user supplied xorg.conf template.
type TemplateData struct {
	// EDID is the path of an EDID blob used to fake a connected monitor.
	EDID    string
	Devices []TemplateDevice
}

// RenderTemplateFile renders the text/template at path with data.
//
// Example template section:
//
//	{{range .Devices}}
//	Section "Device"
//	    Identifier "Device{{.Index}}"
//	    Driver     "nvidia"
//	    BusID      "PCI:{{.BusID}}"
//	    Option     "CustomEDID" "DFP-0:{{$.EDID}}"
//	EndSection
//	{{end}}
func RenderTemplateFile(path string, data TemplateData) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("xdisplay: read template: %w", err)
	}
	return RenderTemplate(string(b), data)
}

func RenderTemplate(text string, data TemplateData) ([]byte, error) {
	if data.EDID != "" {
		if _, err := os.Stat(data.EDID); err != nil {
			return nil, fmt.Errorf("xdisplay: edid file: %w", err)
		}
	}
	tmpl, err := template.New("xorg.conf").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("xdisplay: parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("xdisplay: render template: %w", err)
	}
	return buf.Bytes(), nil
}
