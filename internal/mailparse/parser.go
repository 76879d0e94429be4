// Package mailparse turns raw RFC 822 messages into normalized
// InboxMessage records. All charset handling lives here: whatever encoding
// the sender declared, the rest of the pipeline only ever sees valid,
// NFKC-normalized UTF-8.
package mailparse

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"mailbot/internal/models"

	_ "github.com/emersion/go-message/charset" // register non-UTF-8 charset decoding
	gomail "github.com/emersion/go-message/mail"
	"golang.org/x/text/unicode/norm"
)

// ParseError marks a single malformed message. The orchestrator logs and
// skips it; it never aborts a batch.
type ParseError struct {
	UID uint32
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message uid %d: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	scriptPattern  = regexp.MustCompile(`(?is)<script.*?</script>`)
	stylePattern   = regexp.MustCompile(`(?is)<style.*?</style>`)
	brPattern      = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockEnd       = regexp.MustCompile(`(?i)</(p|div|tr|li|h[1-6])>`)
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)

	exoticSpaces = strings.NewReplacer(
		" ", " ", // no-break space
		" ", " ", // figure space
		" ", " ", // narrow no-break space
		"​", "", // zero-width space
	)
)

// Parser converts raw mailbox messages into InboxMessages.
type Parser struct {
	maxSizeBytes int64
}

// New creates a parser that rejects messages larger than maxSizeMB.
func New(maxSizeMB float64) *Parser {
	if maxSizeMB <= 0 {
		maxSizeMB = 5.0
	}
	return &Parser{maxSizeBytes: int64(maxSizeMB * 1024 * 1024)}
}

// Parse decodes a raw message. Character-set problems are repaired, never
// fatal; only a structurally unreadable or oversized message yields a
// ParseError.
func (p *Parser) Parse(uid uint32, raw []byte) (*models.InboxMessage, error) {
	if int64(len(raw)) > p.maxSizeBytes {
		return nil, &ParseError{UID: uid, Err: fmt.Errorf("message too large: %d bytes", len(raw))}
	}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{UID: uid, Err: fmt.Errorf("reading message: %w", err)}
	}
	defer mr.Close()

	msg := &models.InboxMessage{UID: uid}

	header := mr.Header
	if id, err := header.MessageID(); err == nil {
		msg.MessageID = id
	}

	msg.SenderName, msg.SenderEmail = senderInfo(&header)
	msg.Subject = Normalize(subjectOf(&header))

	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date
	} else {
		msg.ReceivedAt = time.Now().UTC()
	}

	plain, htmlBody, attachments := walkParts(mr)
	msg.AttachmentCount = attachments

	body := plain
	if body == "" && htmlBody != "" {
		body = StripHTML(htmlBody)
	}
	msg.Body = strings.TrimSpace(Normalize(body))
	msg.LinkCount = countLinks(msg.Body)

	return msg, nil
}

// senderInfo extracts the display name and address of the first From entry.
func senderInfo(header *gomail.Header) (name, addr string) {
	addrs, err := header.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return "Unknown", "unknown@example.com"
	}

	from := addrs[0]
	addr = from.Address
	name = Normalize(from.Name)
	if name == "" {
		name = addr
	}
	return name, addr
}

func subjectOf(header *gomail.Header) string {
	subject, err := header.Subject()
	if err != nil || subject == "" {
		// Decoding failed; fall back to the raw header value.
		if subject = header.Get("Subject"); subject == "" {
			return "No Subject"
		}
	}
	return subject
}

// walkParts collects the first text/plain and text/html bodies and counts
// attachments. Attachment payloads are not decoded.
func walkParts(mr *gomail.Reader) (plain, htmlBody string, attachments int) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part is skipped; the rest of the message still counts.
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			content, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && plain == "":
				plain = string(content)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(content)
			}
		case *gomail.AttachmentHeader:
			attachments++
		}
	}
	return plain, htmlBody, attachments
}

// Normalize repairs invalid UTF-8, applies NFKC composition, and collapses
// non-breaking and zero-width spaces so downstream matching and logging are
// encoding-safe.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "�")
	s = norm.NFKC.String(s)
	s = exoticSpaces.Replace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	return s
}

// StripHTML reduces an HTML body to readable plain text.
func StripHTML(s string) string {
	s = scriptPattern.ReplaceAllString(s, "")
	s = stylePattern.ReplaceAllString(s, "")
	s = brPattern.ReplaceAllString(s, "\n")
	s = blockEnd.ReplaceAllString(s, "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}

// countLinks counts distinct URLs in the body.
func countLinks(body string) int {
	matches := urlPattern.FindAllString(body, -1)
	if len(matches) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[strings.TrimRight(m, ".,;")] = struct{}{}
	}
	return len(seen)
}
