// Package eml reads RFC 5322 .eml files into domain emails.
package eml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"triage_worker/core/domain"

	"github.com/google/uuid"
)

// MaxMessageBytes caps how much of one file is read.
const MaxMessageBytes = 25 << 20

// GeneratedIDPrefix marks message ids derived from file content.
const GeneratedIDPrefix = "generated_"

// LoadError is a file that could not be parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e LoadError) Unwrap() error { return e.Err }

// LoadDir parses every .eml file directly under dir, in name order. Files
// that fail to parse are returned separately and do not stop the load.
func LoadDir(dir string, limit int) ([]domain.Email, []LoadError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read eml dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	emails := make([]domain.Email, 0, len(paths))
	var failed []LoadError
	for _, p := range paths {
		email, err := ParseFile(p)
		if err != nil {
			failed = append(failed, LoadError{Path: p, Err: err})
			continue
		}
		emails = append(emails, email)
	}
	return emails, failed, nil
}

func ParseFile(path string) (domain.Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Email{}, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads one message. A message without a Message-ID header gets an id
// derived from its bytes, so re-reading the same file yields the same id.
func Parse(r io.Reader) (domain.Email, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxMessageBytes))
	if err != nil {
		return domain.Email{}, fmt.Errorf("read message: %w", err)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return domain.Email{}, fmt.Errorf("parse headers: %w", err)
	}

	messageID := strings.Trim(strings.TrimSpace(msg.Header.Get("Message-ID")), "<>")
	if messageID == "" {
		id := uuid.NewSHA1(uuid.NameSpaceOID, raw)
		messageID = GeneratedIDPrefix + strings.ReplaceAll(id.String(), "-", "")
	}

	body, err := extractBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return domain.Email{}, fmt.Errorf("read body: %w", err)
	}

	return domain.Email{
		MessageID:     messageID,
		Subject:       decodeHeader(msg.Header.Get("Subject")),
		Body:          body,
		SenderAddress: domain.CleanSender(decodeHeader(msg.Header.Get("From"))),
	}, nil
}

func decodeHeader(s string) string {
	if decoded, err := (&mime.WordDecoder{}).DecodeHeader(s); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(s)
}

// extractBody prefers the first text/plain part and falls back to the first
// text/html part with markup removed. Attachments are skipped.
func extractBody(contentType, transferEncoding string, body io.Reader) (string, error) {
	var plain, htmlText string
	if err := walkPart(contentType, transferEncoding, "", body, &plain, &htmlText); err != nil {
		return "", err
	}
	text := plain
	if strings.TrimSpace(text) == "" {
		text = htmlText
	}
	return strings.TrimSpace(strings.ToValidUTF8(text, "")), nil
}

func walkPart(contentType, transferEncoding, disposition string, body io.Reader, plain, htmlText *string) error {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(disposition)), "attachment") {
		return nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := walkPart(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"),
				part.Header.Get("Content-Disposition"), part, plain, htmlText); err != nil {
				return err
			}
		}
	}

	switch mediaType {
	case "text/plain":
		if *plain != "" {
			return nil
		}
		data, err := decodeTransfer(transferEncoding, body)
		if err != nil {
			return err
		}
		*plain = string(data)
	case "text/html":
		if *htmlText != "" {
			return nil
		}
		data, err := decodeTransfer(transferEncoding, body)
		if err != nil {
			return err
		}
		*htmlText = stripHTML(string(data))
	}
	return nil
}

func decodeTransfer(encoding string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, newlineStripper{r}))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// newlineStripper drops CR and LF so wrapped base64 decodes.
type newlineStripper struct{ r io.Reader }

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		if c == 0 {
			return 0, err
		}
		j := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[j] = b
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	breakPattern  = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blankPattern  = regexp.MustCompile(`\n\s*\n+`)
)

func stripHTML(s string) string {
	s = scriptPattern.ReplaceAllString(s, "")
	s = breakPattern.ReplaceAllString(s, "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spacePattern.ReplaceAllString(s, " ")
	s = blankPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
