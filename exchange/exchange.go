// Package exchange reads and writes the portable canvas file format:
//
//	{"metadata": {"name", "exportTime", "version"}, "canvas": {"nodes", "edges"}}
package exchange

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/meikuraledutech/canvas"
)

const (
	FormatVersion = "1.0.0"
	DefaultName   = "Untitled Canvas"
)

// exportTimeLayout matches millisecond ISO-8601 timestamps in UTC.
const exportTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Metadata describes an exported file.
type Metadata struct {
	Name       string `json:"name"`
	ExportTime string `json:"exportTime"`
	Version    string `json:"version"`
}

// File is a decoded canvas file.
type File struct {
	Metadata Metadata     `json:"metadata"`
	Canvas   canvas.Graph `json:"canvas"`
}

// ExportedAt parses the export timestamp. A missing or malformed value yields the zero time.
func (f *File) ExportedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, f.Metadata.ExportTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Export writes g to w as an indented canvas file.
func Export(w io.Writer, name string, g *canvas.Graph, now time.Time) error {
	if name == "" {
		name = DefaultName
	}
	f := File{
		Metadata: Metadata{
			Name:       name,
			ExportTime: now.UTC().Format(exportTimeLayout),
			Version:    FormatVersion,
		},
		Canvas: *g.Clone(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("exchange: encode: %w", err)
	}
	return nil
}

// wire keeps nodes as a pointer so a missing key can be told apart from an empty list.
type wire struct {
	Metadata Metadata `json:"metadata"`
	Canvas   *struct {
		Nodes *[]canvas.Node `json:"nodes"`
		Edges []canvas.Edge  `json:"edges"`
	} `json:"canvas"`
}

// Import decodes a canvas file. A file without canvas.nodes is rejected with
// canvas.ErrInvalidFormat; missing edges default to empty. Edges that
// reference missing nodes are dropped. Duplicate ids or unknown node types
// are a ValidationError wrapping canvas.ErrInvalidFormat.
func Import(r io.Reader) (*File, error) {
	var in wire
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", canvas.ErrInvalidFormat, err)
	}
	if in.Canvas == nil || in.Canvas.Nodes == nil {
		return nil, canvas.ErrInvalidFormat
	}

	g := (&canvas.Graph{Nodes: *in.Canvas.Nodes, Edges: in.Canvas.Edges}).Prune()
	if err := g.Validate(); err != nil {
		var v *canvas.ValidationError
		if errors.As(err, &v) {
			return nil, &canvas.ValidationError{Field: v.Field, Reason: v.Reason, Err: canvas.ErrInvalidFormat}
		}
		return nil, err
	}
	return &File{Metadata: in.Metadata, Canvas: *g}, nil
}

// FileName is the suggested file name for an export of name.
func FileName(name string) string {
	if name == "" {
		name = DefaultName
	}
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	return name + ".json"
}
