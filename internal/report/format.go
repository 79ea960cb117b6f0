package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Format selects a report renderer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatProm Format = "prom"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatProm:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or prom)", s)
	}
}

// Write renders the report in the given format.
func Write(w io.Writer, r *Report, f Format) error {
	switch f {
	case FormatText, "":
		return WriteText(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatProm:
		return WriteProm(w, r)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders a table with one row per triple followed by any
// ambiguities.
func WriteText(w io.Writer, r *Report) error {
	fmt.Fprintf(w, "realm %s: %d checks, %d ok, %d failing\n",
		r.Status, r.Summary.Total, r.Summary.Success, r.Summary.Failure)
	if r.Summary.Total > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SERVICE\tCHECK\tHOST\tRESULT\tDETAIL")
		for _, sr := range r.Services {
			for _, cr := range sr.Checks {
				for _, hr := range cr.Hosts {
					result, detail := "OK", ""
					if !hr.Outcome.Success {
						result, detail = "FAIL", hr.Outcome.Reason
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sr.Name, cr.Name, displayHost(hr.Host), result, detail)
				}
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	for _, a := range r.Ambiguities {
		if _, err := fmt.Fprintf(w, "warning: %s\n", a); err != nil {
			return err
		}
	}
	return nil
}

func displayHost(h string) string {
	if h == "" {
		return `""`
	}
	return h
}
