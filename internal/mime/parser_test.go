package mime

import (
	"strings"
	"testing"
)

func plainMessage(body string) []byte {
	return []byte("Message-ID: <m1@example.com>\r\nSubject: hello\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + body)
}

func TestParsePlainText(t *testing.T) {
	content, err := Parse(plainMessage("first line\r\nsecond line\r\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(content.BodyLines) != 2 {
		t.Fatalf("Expected 2 body lines, got %d: %v", len(content.BodyLines), content.BodyLines)
	}
	if content.BodyLines[0] != "first line" || content.BodyLines[1] != "second line" {
		t.Errorf("Unexpected body lines: %v", content.BodyLines)
	}
}

func TestParseSkipsQuotedAndBlankLines(t *testing.T) {
	content, err := Parse(plainMessage("reply text\r\n\r\n> quoted original\r\n> more quote\r\nmore reply\r\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(content.BodyLines) != 2 {
		t.Fatalf("Expected 2 body lines, got %v", content.BodyLines)
	}
	for _, line := range content.BodyLines {
		if strings.HasPrefix(line, ">") {
			t.Errorf("Quoted line survived: %q", line)
		}
	}
}

func TestParseAttachmentNames(t *testing.T) {
	raw := []byte("Message-ID: <m2@example.com>\r\n" +
		"Subject: with attachment\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUND\r\n\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"see attached\r\n" +
		"--BOUND\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n\r\n" +
		"%PDF-1.4 fake\r\n" +
		"--BOUND--\r\n")
	content, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(content.AttachmentNames) != 1 || content.AttachmentNames[0] != "report.pdf" {
		t.Errorf("Expected [report.pdf], got %v", content.AttachmentNames)
	}
	if len(content.BodyLines) == 0 || content.BodyLines[0] != "see attached" {
		t.Errorf("Expected body text, got %v", content.BodyLines)
	}
}

func TestParseHTMLOnlyFallsBackToStrippedTags(t *testing.T) {
	raw := []byte("Message-ID: <m3@example.com>\r\n" +
		"Subject: html\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		"<html><body><p>hello &amp; welcome</p></body></html>\r\n")
	content, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	joined := strings.Join(content.BodyLines, " ")
	if !strings.Contains(joined, "hello & welcome") {
		t.Errorf("Expected stripped HTML text, got %q", joined)
	}
	if strings.Contains(joined, "<") {
		t.Errorf("Tags survived stripping: %q", joined)
	}
}

func TestParseGarbage(t *testing.T) {
	// enmime is forgiving; headerless bytes still come back as a body.
	content, err := Parse([]byte("not a mime message at all"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if content == nil {
		t.Fatal("Expected content")
	}
}
