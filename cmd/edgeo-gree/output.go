package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/edgeo/drivers/gree/gree"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatRaw   OutputFormat = "raw"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Printf formats and prints output
func (f *Formatter) Printf(format string, args ...any) {
	fmt.Fprintf(f.writer, format, args...)
}

// Println prints a line
func (f *Formatter) Println(args ...any) {
	fmt.Fprintln(f.writer, args...)
}

// PrintJSON prints v as one line of JSON
func (f *Formatter) PrintJSON(v any) error {
	return json.NewEncoder(f.writer).Encode(v)
}

// PrintCSV prints a header and rows as CSV
func (f *Formatter) PrintCSV(headers []string, rows [][]string) error {
	w := csv.NewWriter(f.writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)

	for i := range headers {
		for j := 0; j < widths[i]; j++ {
			fmt.Fprint(f.writer, "-")
		}
		fmt.Fprint(f.writer, " ")
	}
	fmt.Fprintln(f.writer)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}

// PrintKeyValue prints key-value pairs
func (f *Formatter) PrintKeyValue(pairs map[string]any, order []string) {
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}

	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", maxKeyLen, key, val)
		}
	}
}

// PrintProperties prints appliance properties in the selected format.
func (f *Formatter) PrintProperties(props gree.Properties) error {
	order := propertyOrder(props)

	switch f.format {
	case FormatJSON:
		return f.PrintJSON(props)
	case FormatCSV:
		rows := make([][]string, 0, len(order))
		for _, name := range order {
			rows = append(rows, []string{name, fmt.Sprint(props[name])})
		}
		return f.PrintCSV([]string{"property", "value"}, rows)
	case FormatRaw:
		wire, err := gree.ToWire(writable(props))
		if err != nil {
			return err
		}
		return f.PrintJSON(wire)
	default:
		f.PrintKeyValue(props, order)
		return nil
	}
}

// propertyOrder lists known properties in wire order, then unknown codes.
func propertyOrder(props gree.Properties) []string {
	var order []string
	for _, name := range gree.PropertyNames() {
		if _, ok := props[name]; ok {
			order = append(order, name)
		}
	}
	var extra []string
	for name := range props {
		if !slices.Contains(order, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// writable drops read-only and unknown properties.
func writable(props gree.Properties) gree.Properties {
	out := make(gree.Properties, len(props))
	for name, v := range props {
		if _, ok := gree.WireCode(name); ok && !gree.IsReadOnlyProperty(name) {
			out[name] = v
		}
	}
	return out
}
