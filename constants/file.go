package constants

import (
	"bytes"
	"path/filepath"
	"strings"
)

// FileFormat is the tabular format tag stored alongside each blob.
type FileFormat string

const (
	FormatCSV  FileFormat = "CSV"
	FormatXLSX FileFormat = "XLSX"
)

// FileFormats holds the allowed format values for the format field in transform_job.
var FileFormats = []string{string(FormatCSV), string(FormatXLSX)}

// extFormats maps normalized file extensions to formats.
var extFormats = map[string]FileFormat{
	"csv":  FormatCSV,
	"xlsx": FormatXLSX,
	"xlsm": FormatXLSX,
}

// xlsxMagic is the ZIP local-file-header signature; XLSX files are ZIP containers.
var xlsxMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DetectFormat resolves the format of an uploaded file from an explicit hint,
// the file name extension, or the content itself, in that order.
// Returns "" when the format cannot be determined.
func DetectFormat(hint, name string, data []byte) FileFormat {
	if f, ok := extFormats[NormalizeExt(hint)]; ok {
		return f
	}
	if strings.EqualFold(hint, "excel") {
		return FormatXLSX
	}
	if f, ok := extFormats[NormalizeExt(filepath.Ext(name))]; ok {
		return f
	}
	if bytes.HasPrefix(data, xlsxMagic) {
		return FormatXLSX
	}
	if len(data) > 0 && looksDelimited(data) {
		return FormatCSV
	}
	return ""
}

// Ext returns the canonical file extension for a format, without the dot.
func (f FileFormat) Ext() string {
	if f == FormatXLSX {
		return "xlsx"
	}
	return "csv"
}

// ContentType returns the MIME type served for downloads of this format.
func (f FileFormat) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// looksDelimited is a cheap sniff: the first line contains a comma and no NUL bytes.
func looksDelimited(data []byte) bool {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	return bytes.IndexByte(line, ',') >= 0 && bytes.IndexByte(line, 0x00) < 0
}
