package indexer

import (
	"fmt"
	"strconv"

	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/mime"
	"github.com/mattmanj17/msgindex/internal/models"
)

// Attributor extracts searchable attributes from a message while it is
// being indexed.  Attributors may fill the message's transient scratch
// (body lines, attachment names, notability) as a side effect; the
// fulltext row is built from that scratch after they all ran.
type Attributor interface {
	Name() string
	Process(m *models.Message, hdr mailstore.Header, raw []byte) ([]datastore.Attribute, error)
}

func (i *Indexer) runAttributors(m *models.Message, hdr mailstore.Header, raw []byte) ([]datastore.Attribute, error) {
	var out []datastore.Attribute
	for _, a := range i.attributors {
		attrs, err := a.Process(m, hdr, raw)
		if err != nil {
			return nil, fmt.Errorf("attributor %s: %w", a.Name(), err)
		}
		out = append(out, attrs...)
	}
	return out, nil
}

// fulltextAttributor parses the raw message and stages body text and
// attachment names for the fulltext index.
type fulltextAttributor struct{}

func (a *fulltextAttributor) Name() string { return "fulltext" }

func (a *fulltextAttributor) Process(m *models.Message, hdr mailstore.Header, raw []byte) ([]datastore.Attribute, error) {
	if raw == nil {
		return nil, nil
	}
	content, err := mime.Parse(raw)
	if err != nil {
		return nil, err
	}
	m.BodyLines = content.BodyLines
	m.AttachmentNames = content.AttachmentNames

	var attrs []datastore.Attribute
	for _, name := range content.AttachmentNames {
		attrs = append(attrs, datastore.Attribute{Name: "attachmentName", Value: name})
	}
	if len(content.AttachmentNames) > 0 {
		m.Notability += 1
	}
	return attrs, nil
}

// statusAttributor records user-visible message status: starred, junk.
type statusAttributor struct{}

func (a *statusAttributor) Name() string { return "status" }

func (a *statusAttributor) Process(m *models.Message, hdr mailstore.Header, raw []byte) ([]datastore.Attribute, error) {
	var attrs []datastore.Attribute
	if hdr.Flags()&mailstore.FlagFlagged != 0 {
		attrs = append(attrs, datastore.Attribute{Name: "flagged", Value: "true"})
		m.Notability += 2
	}
	if score := hdr.JunkScore(); score != "" {
		attrs = append(attrs, datastore.Attribute{Name: "junkScore", Value: score})
	}
	if m.Notability != 0 {
		attrs = append(attrs, datastore.Attribute{Name: "notability", Value: strconv.Itoa(m.Notability)})
	}
	return attrs, nil
}
