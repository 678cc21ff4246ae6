package datagateway

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// ImportSpreadsheet loads one worksheet of an .xlsx workbook. There is no
// ecosystem spreadsheet library in scope for this build, so the OOXML
// package (a zip of XML parts) is read directly with archive/zip and
// encoding/xml; see the design notes for why this is a deliberate stdlib
// exception rather than an oversight.
func (g *Gateway) ImportSpreadsheet(ctx context.Context, path, sheet string) (domain.SourceInfo, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportSpreadsheet path=%s: %w", path, domain.NewTaxonomyError("E-4002", err.Error()))
	}
	defer zr.Close()

	shared, err := readSharedStrings(&zr.Reader)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportSpreadsheet.sharedStrings path=%s: %w", path, domain.NewTaxonomyError("E-1003", err.Error()))
	}

	sheetPath, err := resolveSheetPath(&zr.Reader, sheet)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportSpreadsheet.resolveSheet path=%s sheet=%s: %w", path, sheet, err)
	}

	grid, err := readSheetGrid(&zr.Reader, sheetPath, shared)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportSpreadsheet.readSheet path=%s: %w", path, domain.NewTaxonomyError("E-1003", err.Error()))
	}
	if len(grid) == 0 {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportSpreadsheet path=%s: %w", path, domain.NewTaxonomyError("E-1002", path))
	}

	columns := grid[0]
	records := make([]map[string]string, 0, len(grid)-1)
	for _, line := range grid[1:] {
		rec := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(line) {
				rec[col] = line[i]
			}
		}
		records = append(records, rec)
	}

	return g.loadRecords(ctx, columns, records, "spreadsheet", path+"#"+sheet)
}

func zipFile(zr *zip.Reader, name string) (io.ReadCloser, bool) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, false
			}
			return rc, true
		}
	}
	return nil, false
}

type sharedStringsXML struct {
	SI []struct {
		T string `xml:"t"`
		R []struct {
			T string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	rc, ok := zipFile(zr, "xl/sharedStrings.xml")
	if !ok {
		return nil, nil
	}
	defer rc.Close()

	var parsed sharedStringsXML
	if err := xml.NewDecoder(rc).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]string, len(parsed.SI))
	for i, si := range parsed.SI {
		if si.T != "" {
			out[i] = si.T
			continue
		}
		for _, r := range si.R {
			out[i] += r.T
		}
	}
	return out, nil
}

type workbookXML struct {
	Sheets []struct {
		Name    string `xml:"name,attr"`
		SheetID string `xml:"sheetId,attr"`
		RID     string `xml:"id,attr"`
	} `xml:"sheets>sheet"`
}

func resolveSheetPath(zr *zip.Reader, sheetName string) (string, error) {
	rc, ok := zipFile(zr, "xl/workbook.xml")
	if !ok {
		return "", fmt.Errorf("workbook.xml missing")
	}
	defer rc.Close()

	var wb workbookXML
	if err := xml.NewDecoder(rc).Decode(&wb); err != nil {
		return "", err
	}
	if len(wb.Sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}

	idx := 0
	if sheetName != "" {
		found := false
		for i, s := range wb.Sheets {
			if s.Name == sheetName {
				idx, found = i, true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("sheet %q not found", sheetName)
		}
	}
	return fmt.Sprintf("xl/worksheets/sheet%d.xml", idx+1), nil
}

type sheetXML struct {
	Rows []struct {
		Cells []struct {
			Ref string `xml:"r,attr"`
			T   string `xml:"t,attr"`
			V   string `xml:"v"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

func readSheetGrid(zr *zip.Reader, sheetPath string, shared []string) ([][]string, error) {
	rc, ok := zipFile(zr, sheetPath)
	if !ok {
		return nil, fmt.Errorf("%s missing", sheetPath)
	}
	defer rc.Close()

	var sheet sheetXML
	if err := xml.NewDecoder(rc).Decode(&sheet); err != nil {
		return nil, err
	}

	grid := make([][]string, 0, len(sheet.Rows))
	width := 0
	for _, row := range sheet.Rows {
		line := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			val := cell.V
			if cell.T == "s" {
				if idx, err := strconv.Atoi(cell.V); err == nil && idx >= 0 && idx < len(shared) {
					val = shared[idx]
				}
			}
			line = append(line, val)
		}
		if len(line) > width {
			width = len(line)
		}
		grid = append(grid, line)
	}
	for i := range grid {
		for len(grid[i]) < width {
			grid[i] = append(grid[i], "")
		}
	}
	return grid, nil
}
