package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleWXR = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"
    xmlns:content="http://purl.org/rss/1.0/modules/content/"
    xmlns:wp="http://wordpress.org/export/1.2/">
  <channel>
    <title>Example Blog</title>
    <item>
      <title>Hello World</title>
      <wp:post_name>hello-world</wp:post_name>
      <wp:post_type>post</wp:post_type>
      <wp:status>publish</wp:status>
      <wp:post_date>2024-03-01 10:00:00</wp:post_date>
      <content:encoded><![CDATA[<p>First post body.</p>]]></content:encoded>
      <category>news</category>
      <category>intro</category>
    </item>
    <item>
      <title>Unfinished</title>
      <wp:post_name>unfinished</wp:post_name>
      <wp:post_type>post</wp:post_type>
      <wp:status>draft</wp:status>
      <content:encoded><![CDATA[draft body]]></content:encoded>
    </item>
    <item>
      <title>logo.png</title>
      <wp:post_name>logo</wp:post_name>
      <wp:post_type>attachment</wp:post_type>
      <wp:status>publish</wp:status>
    </item>
    <item>
      <title>About</title>
      <wp:post_name>about</wp:post_name>
      <wp:post_type>page</wp:post_type>
      <wp:status>publish</wp:status>
      <content:encoded><![CDATA[About page body.]]></content:encoded>
    </item>
  </channel>
</rss>`

func TestConvertWordPressExports(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "export.xml"), []byte(sampleWXR), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := ConvertWordPressExports(dir)
	if err != nil {
		t.Fatalf("ConvertWordPressExports: %v", err)
	}
	if n != 2 {
		t.Errorf("converted %d posts, want 2 (drafts and attachments dropped)", n)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hello-world.md"))
	if err != nil {
		t.Fatalf("post not written: %v", err)
	}
	doc := string(data)
	if !strings.HasPrefix(doc, "---\n") {
		t.Errorf("document missing frontmatter: %q", doc)
	}
	for _, want := range []string{"title: Hello World", "slug: hello-world", "First post body."} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q:\n%s", want, doc)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "unfinished.md")); !os.IsNotExist(err) {
		t.Error("draft must not be converted")
	}
	if _, err := os.Stat(filepath.Join(dir, "export.xml")); !os.IsNotExist(err) {
		t.Error("export file must be removed after conversion")
	}
}

func TestConvertWordPressExportsRequiresExport(t *testing.T) {
	if _, err := ConvertWordPressExports(t.TempDir()); err == nil {
		t.Error("missing export file must error")
	}
}
