package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"schema-migration-service/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printDrift(w io.Writer, d domain.Drift) {
	switch d.Kind {
	case domain.DriftChecksumMismatch:
		color.New(color.FgYellow).Fprintf(w, "⚠ %s: checksum mismatch (recorded %s, current %s)\n",
			d.Version, shortChecksum(d.RecordedChecksum), shortChecksum(d.CurrentChecksum))
	case domain.DriftMissingDefinition:
		color.New(color.FgYellow).Fprintf(w, "⚠ %s: applied but definition file is missing\n", d.Version)
	default:
		color.New(color.FgYellow).Fprintf(w, "⚠ %s: %s\n", d.Version, d.Kind)
	}
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
