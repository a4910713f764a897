package mailsink

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Part is a decoded attachment of a captured message.
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

// parse decodes a raw message into r. Multipart bodies are walked
// recursively; the first text/plain and text/html parts become the bodies
// and every other leaf part is an attachment.
func parse(raw []byte, r *Received) error {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	r.Header = msg.Header
	r.Subject = decodeHeader(msg.Header.Get("Subject"))

	contentType := msg.Header.Get("Content-Type")
	transferEncoding := msg.Header.Get("Content-Transfer-Encoding")
	if contentType == "" {
		body, err := readBody(msg.Body, transferEncoding)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		r.TextBody = string(body)
		return nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("parse content type: %w", err)
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		if params["boundary"] == "" {
			return fmt.Errorf("multipart message missing boundary")
		}
		return walkMultipart(msg.Body, params["boundary"], r)
	}

	body, err := readBody(msg.Body, transferEncoding)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if mediaType == "text/html" {
		r.HTMLBody = string(body)
	} else {
		r.TextBody = string(body)
	}
	return nil
}

func walkMultipart(body io.Reader, boundary string, r *Received) error {
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read next part: %w", err)
		}

		mediaType := "text/plain"
		var params map[string]string
		if ct := part.Header.Get("Content-Type"); ct != "" {
			mediaType, params, err = mime.ParseMediaType(ct)
			if err != nil {
				mediaType = "application/octet-stream"
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if params["boundary"] == "" {
				continue
			}
			if err := walkMultipart(part, params["boundary"], r); err != nil {
				return err
			}
			continue
		}

		// multipart.Part decodes quoted-printable itself and drops the header.
		content, err := readBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return fmt.Errorf("read part body: %w", err)
		}

		filename := part.FileName()
		switch {
		case filename == "" && mediaType == "text/plain" && r.TextBody == "":
			r.TextBody = string(content)
		case filename == "" && mediaType == "text/html" && r.HTMLBody == "":
			r.HTMLBody = string(content)
		default:
			if filename == "" {
				filename = params["name"]
			}
			r.Parts = append(r.Parts, Part{Filename: filename, ContentType: mediaType, Content: content})
		}
	}
}

func readBody(r io.Reader, transferEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	if s, err := dec.DecodeHeader(v); err == nil {
		return s
	}
	return v
}
