package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopdf "github.com/ledongthuc/pdf"
)

const (
	fileReadMaxBytes    = 4 * 1024 * 1024 // whole-file reads larger than this are refused
	fileReadMaxPDFPages = 20              // max pages per PDF read
)

// ReadFileTool returns a file's contents verbatim.
type ReadFileTool struct {
	Root string
}

func (f *ReadFileTool) Name() string { return "read_file" }

func (f *ReadFileTool) Description() string {
	return "Read the contents of a file. Optional offset/limit select a line range; PDF files are returned as extracted text."
}

func (f *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file",
			},
			"offset": map[string]any{
				"type":        "number",
				"description": "The line number to start reading from (1-indexed)",
			},
			"limit": map[string]any{
				"type":        "number",
				"description": "The number of lines to read",
			},
			"pages": map[string]any{
				"type":        "string",
				"description": "Page range for PDF files (e.g. \"1-5\", \"3\"). Max 20 pages per request.",
			},
		},
		"required": []string{"path"},
	}
}

func (f *ReadFileTool) SideEffect() SideEffectType { return SideEffectNone }

func (f *ReadFileTool) Execute(_ context.Context, input map[string]any) (ToolOutput, error) {
	p, ok := stringArg(input, "path")
	if !ok {
		return errorOutput("path is required"), nil
	}
	path := resolvePath(f.Root, p)

	if strings.ToLower(filepath.Ext(path)) == ".pdf" {
		return f.readPDF(path, input)
	}

	file, err := os.Open(path)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if info.IsDir() {
		return errorOutput("%s is a directory", p), nil
	}

	offset, hasOffset := intArg(input, "offset")
	limit, hasLimit := intArg(input, "limit")
	if !hasOffset && !hasLimit {
		if info.Size() > fileReadMaxBytes {
			return errorOutput("%s is %d bytes (max %d); use offset and limit to read a range", p, info.Size(), fileReadMaxBytes), nil
		}
		data, err := io.ReadAll(file)
		if err != nil {
			return errorOutput("reading file: %s", err), nil
		}
		return ToolOutput{Content: string(data)}, nil
	}

	if !hasOffset {
		offset = 1
	}
	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), fileReadMaxBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if hasLimit && len(lines) >= limit {
			break
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errorOutput("reading file: %s", err), nil
	}
	return ToolOutput{Content: strings.Join(lines, "\n")}, nil
}

// readPDF extracts text from a PDF file with optional page range.
func (f *ReadFileTool) readPDF(path string, input map[string]any) (ToolOutput, error) {
	pdfFile, reader, err := gopdf.Open(path)
	if err != nil {
		return errorOutput("opening PDF: %s", err), nil
	}
	defer pdfFile.Close()

	totalPages := reader.NumPage()
	if totalPages == 0 {
		return ToolOutput{Content: ""}, nil
	}

	startPage, endPage := 1, totalPages
	if pages, ok := stringArg(input, "pages"); ok {
		s, e, err := parsePDFPageRange(pages, totalPages)
		if err != nil {
			return errorOutput("%s", err), nil
		}
		startPage, endPage = s, e
	} else if totalPages > fileReadMaxPDFPages {
		return errorOutput("PDF has %d pages (max %d); use the pages argument to select a range", totalPages, fileReadMaxPDFPages), nil
	}
	if n := endPage - startPage + 1; n > fileReadMaxPDFPages {
		return errorOutput("requested %d pages (max %d per request)", n, fileReadMaxPDFPages), nil
	}

	var b strings.Builder
	for p := startPage; p <= endPage; p++ {
		page := reader.Page(p)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			fmt.Fprintf(&b, "[page %d: %s]\n", p, err)
			continue
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}
	return ToolOutput{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// parsePDFPageRange parses a page range string like "1-5", "3", or "10-20".
func parsePDFPageRange(pages string, totalPages int) (start, end int, err error) {
	pages = strings.TrimSpace(pages)

	if before, after, found := strings.Cut(pages, "-"); found {
		start, err = strconv.Atoi(strings.TrimSpace(before))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid page range start: %s", before)
		}
		end, err = strconv.Atoi(strings.TrimSpace(after))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid page range end: %s", after)
		}
	} else {
		start, err = strconv.Atoi(pages)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid page number: %s", pages)
		}
		end = start
	}

	if start < 1 {
		start = 1
	}
	if end > totalPages {
		end = totalPages
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid page range: %d-%d", start, end)
	}
	return start, end, nil
}
