package app

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"charachat/pkg/domain"
)

// Block is one parsed unit of a document (a page, a section, the whole
// file). Chunking runs per block so metadata survives down to the chunk.
type Block struct {
	Text     string
	Metadata map[string]string
}

// Parser extracts plain text from uploaded documents. Dispatch is MIME-first
// with the file extension as fallback.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(data []byte, contentType, name string) ([]Block, error) {
	switch format(contentType, name) {
	case "pdf":
		return p.parsePDF(data)
	case "docx":
		return p.parseDOCX(data)
	case "csv":
		return p.parseCSV(data)
	case "json":
		return p.parseJSON(data)
	case "html":
		return p.parseHTML(data)
	case "text":
		return p.parseText(data)
	case "doc":
		return nil, fmt.Errorf("%w: legacy .doc is not supported, convert to .docx or PDF", domain.ErrUnsupportedFormat)
	case "ppt":
		return nil, fmt.Errorf("%w: presentations are not supported, export the content as PDF or text", domain.ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s (supported: pdf, docx, csv, json, html, txt, markdown)",
			domain.ErrUnsupportedFormat, describeInput(contentType, name))
	}
}

func format(contentType, name string) string {
	mime := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "application/pdf":
		return "pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "text/csv", "application/csv":
		return "csv"
	case "application/json":
		return "json"
	case "text/html", "application/xhtml+xml":
		return "html"
	case "text/plain", "text/markdown":
		return "text"
	case "application/msword":
		return "doc"
	case "application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return "ppt"
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	case ".html", ".htm", ".xhtml":
		return "html"
	case ".txt", ".md", ".markdown", ".log":
		return "text"
	case ".doc":
		return "doc"
	case ".ppt", ".pptx":
		return "ppt"
	}
	return ""
}

func describeInput(contentType, name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return ext
	}
	if contentType != "" {
		return contentType
	}
	return "unknown format"
}

func (p *Parser) parsePDF(data []byte) ([]Block, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", domain.ErrParse, err)
	}
	var blocks []Block
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip unextractable pages instead of failing the file
			continue
		}
		text = normalizeText(text)
		if text == "" {
			continue
		}
		blocks = append(blocks, Block{
			Text:     text,
			Metadata: map[string]string{"page": strconv.Itoa(i)},
		})
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: pdf has no extractable text", domain.ErrEmptyContent)
	}
	return blocks, nil
}

func (p *Parser) parseDOCX(data []byte) ([]Block, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", domain.ErrParse, err)
	}
	var doc *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: docx missing word/document.xml", domain.ErrParse)
	}
	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: read docx: %v", domain.ErrParse, err)
	}
	defer rc.Close()

	text, err := extractDocxText(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse docx xml: %v", domain.ErrParse, err)
	}
	return []Block{{Text: text}}, nil
}

// extractDocxText walks the WordprocessingML token stream collecting text
// runs, with paragraph ends as newlines.
func extractDocxText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var buf strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				buf.WriteString("\n")
			case "tab":
				buf.WriteString(" ")
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func (p *Parser) parseCSV(data []byte) ([]Block, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse csv: %v", domain.ErrParse, err)
	}
	var lines []string
	for _, record := range records {
		line := strings.TrimSpace(strings.Join(record, ", "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return []Block{{Text: strings.Join(lines, "\n")}}, nil
}

func (p *Parser) parseJSON(data []byte) ([]Block, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v", domain.ErrParse, err)
	}
	var lines []string
	flattenJSON("", payload, &lines)
	return []Block{{Text: strings.Join(lines, "\n")}}, nil
}

// flattenJSON renders a decoded JSON value as "path: value" lines so nested
// structures stay searchable as text.
func flattenJSON(path string, value any, out *[]string) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			flattenJSON(joinPath(path, key), v[key], out)
		}
	case []any:
		for i, item := range v {
			flattenJSON(joinPath(path, strconv.Itoa(i)), item, out)
		}
	case nil:
		*out = append(*out, path+": null")
	case string:
		*out = append(*out, path+": "+v)
	default:
		*out = append(*out, fmt.Sprintf("%s: %v", path, v))
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func (p *Parser) parseHTML(data []byte) ([]Block, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", domain.ErrParse, err)
	}
	return []Block{{Text: normalizeText(extractHTMLText(doc))}}, nil
}

func extractHTMLText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "tr":
				buf.WriteString("\n")
			}
		}
	}
	walk(n)
	return buf.String()
}

func (p *Parser) parseText(data []byte) ([]Block, error) {
	return []Block{{Text: strings.TrimSpace(strings.ToValidUTF8(string(data), ""))}}, nil
}

// normalizeText collapses runs of spaces and tabs while keeping newlines, so
// the chunker can still see paragraph structure.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ToValidUTF8(text, "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
