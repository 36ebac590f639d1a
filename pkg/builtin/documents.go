package builtin

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/mentat-ai/mentat/pkg/skills"
)

// MaxDocumentChars bounds read_full_document output.
const MaxDocumentChars = 50000

// DocumentTruncatedNotice is appended to oversized documents.
const DocumentTruncatedNotice = "\n\n[System: File too large, truncated at 50k chars.]"

// DocumentParser turns an uploaded file into text.
type DocumentParser interface {
	Parse(path string) (string, error)
}

// PlainTextParser reads UTF-8 text files. CSV files are rendered as a
// markdown table.
type PlainTextParser struct{}

// Parse implements DocumentParser.
func (PlainTextParser) Parse(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return parseCSV(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
	return string(data), nil
}

func parseCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("\n--- Sheet: CSV ---\n")
	writeRow := func(cells []string) {
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}
	writeRow(rows[0])
	sep := make([]string, len(rows[0]))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return b.String(), nil
}

// GlobalDir is where account-wide uploads live.
func GlobalDir(root, accountID string) string {
	return filepath.Join(root, accountID, "global")
}

// SessionDir is where uploads of one session live.
func SessionDir(root, accountID, sessionID string) string {
	return filepath.Join(root, accountID, "sessions", sessionID)
}

// SaveDocument copies content under the upload layout so read_full_document
// can find it later. An empty sessionID stores the file globally.
func SaveDocument(root, accountID, sessionID, filename string, content []byte) (string, error) {
	if err := checkFilename(filename); err != nil {
		return "", err
	}
	dir := GlobalDir(root, accountID)
	if sessionID != "" {
		dir = SessionDir(root, accountID, sessionID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveSessionDocuments deletes the upload directory of a session.
func RemoveSessionDocuments(root, accountID, sessionID string) error {
	if root == "" || sessionID == "" {
		return nil
	}
	return os.RemoveAll(SessionDir(root, accountID, sessionID))
}

func checkFilename(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid filename %q", name)
	}
	return nil
}

type documentReader struct {
	root   string
	parser DocumentParser
}

func (h *documentReader) Handle(_ context.Context, args skills.Args, sc skills.Context) (string, error) {
	filename, err := args.String("filename")
	if err != nil {
		return "", err
	}
	notFound := fmt.Sprintf("Error: File '%s' not found in current session or global knowledge base.", filename)
	if h.root == "" || checkFilename(filename) != nil {
		return notFound, nil
	}

	var candidates []string
	if sc.SessionID != "" {
		candidates = append(candidates, filepath.Join(SessionDir(h.root, sc.AccountID, sc.SessionID), filename))
	}
	candidates = append(candidates, filepath.Join(GlobalDir(h.root, sc.AccountID), filename))

	target := ""
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			target = p
			break
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Sprintf("Read Error: %v", err), nil
		}
	}
	if target == "" {
		return notFound, nil
	}

	content, err := h.parser.Parse(target)
	if err != nil {
		return fmt.Sprintf("Read Error: %v", err), nil
	}
	if utf8.RuneCountInString(content) > MaxDocumentChars {
		return string([]rune(content)[:MaxDocumentChars]) + DocumentTruncatedNotice, nil
	}
	return content, nil
}
