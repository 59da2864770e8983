// Package mime extracts the indexable text of a message from its raw
// RFC822 bytes.
package mime

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"
)

// Content is the text a message contributes to the fulltext index.
type Content struct {
	// BodyLines is the plaintext body, one entry per non-empty line, with
	// quoted reply material dropped.
	BodyLines []string
	// AttachmentNames lists the filenames of real (non-inline) attachments.
	AttachmentNames []string
}

// Parse extracts indexable content from raw message bytes using enmime.
func Parse(raw []byte) (*Content, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message body: %w", err)
	}

	content := &Content{}

	text := envelope.Text
	if text == "" && envelope.HTML != "" {
		// Crude but serviceable when a message has no text part at all.
		text = stripTags(envelope.HTML)
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r ")
		if line == "" {
			continue
		}
		// Quoted reply content is already indexed on the message it came
		// from.
		if strings.HasPrefix(line, ">") {
			continue
		}
		content.BodyLines = append(content.BodyLines, line)
	}

	for _, part := range envelope.Attachments {
		if part.FileName == "" {
			continue
		}
		content.AttachmentNames = append(content.AttachmentNames, part.FileName)
	}

	return content, nil
}

// stripTags removes HTML tags and collapses entities enough for indexing
// purposes.  It is not a sanitizer.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for entity, repl := range map[string]string{
		"&nbsp;": " ", "&amp;": "&", "&lt;": "<", "&gt;": ">", "&quot;": `"`,
	} {
		out = strings.ReplaceAll(out, entity, repl)
	}
	return out
}
