// Package mail moves messages between mail servers and the triage
// pipeline: an SMTP content filter for ingest, a reply sender for approved
// drafts, and RFC 5322 parsing shared with the IMAP source.
package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"golang.org/x/text/encoding/htmlindex"
)

func init() {
	message.CharsetReader = charsetReader
}

// charsetReader decodes non UTF-8 parts and encoded words
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// Parsed is the part of an RFC 5322 message the pipeline uses
type Parsed struct {
	MessageID string
	ThreadID  string
	From      string
	To        []string
	Subject   string
	Date      time.Time
	Text      string
}

// Parse reads a raw message. Unknown charsets are tolerated; the affected
// text is kept undecoded.
func Parse(raw []byte) (*Parsed, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	h := &mr.Header
	p := &Parsed{}

	if subject, err := h.Subject(); err == nil {
		p.Subject = subject
	} else {
		p.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = from[0].String()
	} else {
		p.From = h.Get("From")
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			p.To = append(p.To, a.Address)
		}
	}
	if date, err := h.Date(); err == nil {
		p.Date = date.UTC()
	}
	if id, err := h.MessageID(); err == nil {
		p.MessageID = id
	}
	p.ThreadID = threadID(h, p.MessageID)

	p.Text = bodyText(mr)
	return p, nil
}

// threadID is the root of the References chain, falling back to the
// parent and then to the message itself
func threadID(h *gomail.Header, messageID string) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if parents, err := h.MsgIDList("In-Reply-To"); err == nil && len(parents) > 0 {
		return parents[0]
	}
	return messageID
}

// bodyText returns the text/plain parts, or the tag-stripped HTML parts
// when a message has no plain text
func bodyText(mr *gomail.Reader) string {
	var plain, html strings.Builder
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}
		h, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case contentType == "" || strings.HasPrefix(contentType, "text/plain"):
			plain.Write(body)
			plain.WriteString("\n")
		case strings.HasPrefix(contentType, "text/html"):
			html.Write(body)
			html.WriteString("\n")
		}
	}
	if plain.Len() > 0 {
		return strings.TrimSpace(plain.String())
	}
	return stripHTML(html.String())
}

var (
	htmlTagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlBlockPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
)

func stripHTML(html string) string {
	if html == "" {
		return ""
	}
	result := htmlBlockPattern.ReplaceAllString(html, "")
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>"} {
		result = strings.ReplaceAll(result, tag, "\n")
	}
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(result)
	return strings.TrimSpace(result)
}

// ToMessage converts a parsed message for storage. Messages without a
// Message-ID get a stable id derived from their raw bytes.
func ToMessage(p *Parsed, raw []byte, tp *utils.TextProcessor) *core.Message {
	externalID := p.MessageID
	if externalID == "" {
		externalID = uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
	}
	threadID := p.ThreadID
	if threadID == "" {
		threadID = externalID
	}
	received := p.Date
	if received.IsZero() {
		received = time.Now().UTC()
	}
	return &core.Message{
		ExternalID: externalID,
		ThreadID:   threadID,
		From:       p.From,
		To:         p.To,
		Subject:    tp.SanitizeUTF8(p.Subject),
		Snippet:    tp.Snippet(p.Text),
		ReceivedAt: received,
	}
}
