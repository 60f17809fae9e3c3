package services

import (
	"archive/zip"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Severity grades an inspection issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityInfo  Severity = "info"
)

// Issue is one finding of an inspection.
type Issue struct {
	Severity Severity `json:"severity"`
	Check    string   `json:"check"`
	Message  string   `json:"message"`
}

// Report is the structural health of a local workbook. OK is false when any
// issue has SeverityError.
type Report struct {
	Path              string   `json:"path"`
	Size              int64    `json:"size"`
	Entries           int      `json:"entries"`
	Sheets            []string `json:"sheets,omitempty"`
	HasMacros         bool     `json:"hasMacros"`
	HasCustomMetadata bool     `json:"hasCustomMetadata"`
	Issues            []Issue  `json:"issues,omitempty"`
	OK                bool     `json:"ok"`
}

const (
	manifestEntry   = "[Content_Types].xml"
	workbookEntry   = "xl/workbook.xml"
	worksheetDir    = "xl/worksheets"
	macroEntry      = "xl/vbaProject.bin"
	customMetaEntry = "docProps/custom.xml"
)

func (r *Report) fail(check, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Severity: SeverityError, Check: check, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) note(check, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Severity: SeverityInfo, Check: check, Message: fmt.Sprintf(format, args...)})
}

// Inspect reports on the container structure of the workbook at p. It only
// reads the file, and every problem is captured in the report.
func Inspect(p string, minSize int64) *Report {
	r := &Report{Path: p}
	defer func() {
		r.OK = true
		for _, issue := range r.Issues {
			if issue.Severity == SeverityError {
				r.OK = false
			}
		}
	}()

	info, err := os.Stat(p)
	if err != nil {
		r.fail("exists", "cannot stat file: %v", err)
		return r
	}
	if info.IsDir() {
		r.fail("exists", "path is a directory")
		return r
	}
	r.Size = info.Size()
	if r.Size < minSize {
		r.fail("size", "file is %d bytes, minimum is %d", r.Size, minSize)
	}

	zr, err := zip.OpenReader(p)
	if err != nil {
		r.fail("container", "not a valid zip archive: %v", err)
		return r
	}
	defer zr.Close()
	r.Entries = len(zr.File)

	var hasManifest, hasWorkbook bool
	worksheets := 0
	for _, f := range zr.File {
		switch name := f.Name; {
		case name == manifestEntry:
			hasManifest = true
		case name == workbookEntry:
			hasWorkbook = true
		case path.Dir(name) == worksheetDir && strings.HasSuffix(name, ".xml"):
			worksheets++
		case name == macroEntry:
			r.HasMacros = true
		case name == customMetaEntry:
			r.HasCustomMetadata = true
		}
	}

	if !hasManifest {
		r.fail("manifest", "missing %s", manifestEntry)
	}
	if !hasWorkbook {
		r.fail("workbook", "missing %s", workbookEntry)
	}
	if worksheets == 0 {
		r.fail("worksheets", "no entries under %s/", worksheetDir)
	}
	if r.HasMacros {
		r.note("macros", "workbook contains %s", macroEntry)
	}
	if r.HasCustomMetadata {
		r.note("metadata", "workbook contains %s", customMetaEntry)
	}

	if hasWorkbook {
		r.Sheets = sheetNames(r, p)
	}
	return r
}

// sheetNames lists the sheets declared by the workbook. A workbook excelize
// cannot parse is reported rather than returned as an error.
func sheetNames(r *Report, p string) []string {
	wb, err := excelize.OpenFile(p)
	if err != nil {
		r.fail("sheets", "workbook cannot be parsed: %v", err)
		return nil
	}
	defer wb.Close()
	return wb.GetSheetList()
}
