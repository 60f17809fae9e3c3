package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Lllllllleong/sheetupdater/internal/fields"
	"github.com/Lllllllleong/sheetupdater/internal/gcp"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/Lllllllleong/sheetupdater/internal/services"
	"github.com/spf13/cobra"
)

var (
	inspectMinSize int64
	inspectRemote  bool
	fieldMapFile   string
	assignments    []string
	documentID     string
	listLimit      int
)

var errInspectFailed = errors.New("inspection found errors")

var inspectCmd = &cobra.Command{
	Use:   "inspect <file | document-id>",
	Short: "Report on the structure of a workbook",
	Long: `Checks that a workbook is a valid container with the required parts and
reports macro and custom metadata content. With --remote the argument is a
document id that is downloaded from the configured backend first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var report *services.Report
		if inspectRemote {
			f, err := services.NewSheetUpdater(cmd.Context())
			if err != nil {
				return err
			}
			defer f.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if report, err = f.InspectRemote(ctx, args[0]); err != nil {
				return err
			}
		} else {
			report = services.Inspect(args[0], inspectMinSize)
		}

		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.OK {
			return errInspectFailed
		}
		return nil
	},
}

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Show the field to cell table",
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := loadMapping()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sheet: %s\n", mapping.Sheet())
		for _, name := range mapping.Fields() {
			cell, _ := mapping.Resolve(name)
			fmt.Fprintf(out, "  %-16s %s\n", name, cell)
		}
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Write field values into a local workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := loadMapping()
		if err != nil {
			return err
		}
		values, err := parseAssignments(assignments)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		mutation, err := services.NewMutator(mapping, nil).Mutate(ctx, args[0], values)
		if err != nil {
			return err
		}
		if mutation.Status == services.MutationNoOp {
			fmt.Fprintln(cmd.OutOrStdout(), "No updates were made")
			return nil
		}
		for _, w := range mutation.Written {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s = %q\n", w.Field, w.Cell, w.Value)
		}
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run the update pipeline against a remote document",
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseAssignments(assignments)
		if err != nil {
			return err
		}
		f, err := services.NewSheetUpdater(cmd.Context())
		if err != nil {
			return err
		}
		defer f.Close()

		res := f.Process(cmd.Context(), models.UpdateRequest{DocumentID: documentID, Fields: values})
		if err := printJSON(cmd.OutOrStdout(), map[string]any{
			"runId":    res.RunID,
			"outcome":  res.Outcome,
			"written":  res.Written,
			"states":   res.States,
			"remote":   res.Remote,
			"warnings": res.Warnings,
		}); err != nil {
			return err
		}
		return res.Err
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List documents visible to the configured backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := services.NewSheetUpdater(cmd.Context())
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		docs, err := f.ListDocuments(ctx, listLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), models.ListFilesResponse{Files: docs})
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <document-id>",
	Short: "Check that a document is reachable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := services.NewSheetUpdater(cmd.Context())
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		doc, err := f.CheckAccess(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

func init() {
	inspectCmd.Flags().Int64Var(&inspectMinSize, "min-size", 4096, "Minimum plausible workbook size in bytes")
	inspectCmd.Flags().BoolVar(&inspectRemote, "remote", false, "Treat the argument as a remote document id")

	for _, c := range []*cobra.Command{fieldsCmd, applyCmd} {
		c.Flags().StringVar(&fieldMapFile, "map", "", "YAML field table (defaults to FIELD_MAP_FILE or the built-in table)")
	}
	for _, c := range []*cobra.Command{applyCmd, updateCmd} {
		c.Flags().StringArrayVar(&assignments, "set", nil, "Field value as field=value (repeatable)")
	}

	updateCmd.Flags().StringVar(&documentID, "doc", "", "Remote document id")
	_ = updateCmd.MarkFlagRequired("doc")

	filesCmd.Flags().IntVar(&listLimit, "limit", 10, "Maximum number of documents to list")
}

func loadMapping() (fields.Mapping, error) {
	path := fieldMapFile
	if path == "" {
		path = gcp.GetEnv("FIELD_MAP_FILE", "")
	}
	if path == "" {
		return fields.Default(), nil
	}
	return fields.Load(path)
}

// parseAssignments turns repeated field=value flags into a field map.
func parseAssignments(raw []string) (map[string]string, error) {
	values := make(map[string]string, len(raw))
	for _, a := range raw {
		k, v, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --set %q, want field=value", a)
		}
		values[strings.TrimSpace(k)] = v
	}
	return values, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
