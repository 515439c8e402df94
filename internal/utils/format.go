package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/iancoleman/orderedmap"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

/**
 * Convert a struct into an ordered map keeping the field order of its json tags
 * @param {interface{}} v - Struct (or pointer) with json tags
 * @returns {(*orderedmap.OrderedMap, error)} Ordered map of the fields
 */
func StructToOrderedMap(v interface{}) (*orderedmap.OrderedMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := orderedmap.New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

/**
 * Render rows as a table
 * @param {io.Writer} w - Output
 * @param {[]*orderedmap.OrderedMap} rows - Rows sharing the keys of the first row
 * @description
 * - Column headers are the upper-cased keys of the first row
 */
func PrintFormat(w io.Writer, rows []*orderedmap.OrderedMap) {
	if len(rows) == 0 {
		return
	}
	keys := rows[0].Keys()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := table.Row{}
	for _, k := range keys {
		header = append(header, strings.ToUpper(k))
	}
	t.AppendHeader(header)
	for _, r := range rows {
		row := table.Row{}
		for _, k := range keys {
			v, _ := r.Get(k)
			row = append(row, formatCell(v))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if val == "" {
			return "-"
		}
		return val
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return formatCell(strings.Join(parts, ","))
	case []string:
		return formatCell(strings.Join(val, ","))
	default:
		return fmt.Sprint(val)
	}
}

// PrintYaml writes v as YAML.
func PrintYaml(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
