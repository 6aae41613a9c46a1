package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Formatter renders command results.
type Formatter interface {
	Format(data any) string
}

// NewFormatter returns a Formatter for "table" (default), "json" or "yaml".
func NewFormatter(format string) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{}
	case "yaml":
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// TableFormatter prints struct fields as aligned "Name: value" rows. Slice
// fields are listed one element per line below their name.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		fmt.Fprintln(w, data)
		w.Flush()
		return buf.String()
	}

	t := v.Type()
	var lists []int
	for i := 0; i < t.NumField(); i++ {
		if v.Field(i).Kind() == reflect.Slice {
			lists = append(lists, i)
			continue
		}
		fmt.Fprintf(w, "%s:\t%v\n", t.Field(i).Name, v.Field(i).Interface())
	}
	w.Flush()

	for _, i := range lists {
		field := v.Field(i)
		fmt.Fprintf(&buf, "%s:\n", t.Field(i).Name)
		if field.Len() == 0 {
			buf.WriteString("  (none)\n")
		}
		for j := 0; j < field.Len(); j++ {
			fmt.Fprintf(&buf, "  %v\n", field.Index(j).Interface())
		}
	}
	return buf.String()
}

type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v\n", err)
	}
	return string(b) + "\n"
}

type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	return string(b)
}
