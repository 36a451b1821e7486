package source

import (
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WXR (WordPress eXtended RSS) export structures. Only the fields the
// converter reads are mapped.
type wxrDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Channel wxrChannel `xml:"channel"`
}

type wxrChannel struct {
	Title string    `xml:"title"`
	Items []wxrItem `xml:"item"`
}

type wxrItem struct {
	Title      string   `xml:"title"`
	PostName   string   `xml:"post_name"`
	PostType   string   `xml:"post_type"`
	Status     string   `xml:"status"`
	PostDate   string   `xml:"post_date"`
	Content    string   `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Categories []string `xml:"category"`
}

// ConvertWordPressExports rewrites every WXR export file found in dir into
// markdown documents alongside it, then removes the export files. Returns
// the number of posts written.
func ConvertWordPressExports(dir string) (int, error) {
	exports, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return 0, err
	}
	if len(exports) == 0 {
		return 0, fmt.Errorf("no WordPress export file found in source")
	}

	total := 0
	for _, export := range exports {
		n, err := convertExport(export, dir)
		if err != nil {
			return total, fmt.Errorf("convert %s: %w", filepath.Base(export), err)
		}
		total += n
		if err := os.Remove(export); err != nil {
			return total, err
		}
	}
	log.Printf("wordpress import: converted %d posts from %d export file(s)", total, len(exports))
	return total, nil
}

func convertExport(path, destDir string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return convertWXR(f, destDir)
}

func convertWXR(r io.Reader, destDir string) (int, error) {
	var doc wxrDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("parse WXR: %w", err)
	}

	written := 0
	for _, item := range doc.Channel.Items {
		if !importable(item) {
			continue
		}
		name := item.PostName
		if name == "" {
			continue
		}
		doc, err := renderWXRItem(item)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(filepath.Join(destDir, name+".md"), doc, 0o644); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// importable keeps published posts and pages; attachments, revisions and
// drafts are dropped
func importable(item wxrItem) bool {
	if item.Status != "publish" {
		return false
	}
	return item.PostType == "post" || item.PostType == "page"
}

func renderWXRItem(item wxrItem) ([]byte, error) {
	fm := map[string]any{
		"title": item.Title,
		"slug":  item.PostName,
		"type":  item.PostType,
	}
	if item.PostDate != "" {
		fm["date"] = item.PostDate
	}
	if len(item.Categories) > 0 {
		fm["categories"] = item.Categories
	}

	block, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(block)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(item.Content))
	b.WriteString("\n")
	return []byte(b.String()), nil
}
