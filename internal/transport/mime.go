package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"time"
)

// email is an outgoing message before MIME encoding.
type email struct {
	From        mail.Address
	To          mail.Address
	Subject     string
	MessageID   string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []file
}

type file struct {
	Name        string
	ContentType string
	Data        []byte
}

// bytes encodes e as multipart/mixed with a multipart/alternative body.
func (e *email) bytes() ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	writeHeader(&buf, "From", e.From.String())
	writeHeader(&buf, "To", e.To.String())
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	writeHeader(&buf, "Date", e.Date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", "<"+e.MessageID+">")
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mixed.Boundary()}))
	buf.WriteString("\r\n")

	var altBuf bytes.Buffer
	alt := multipart.NewWriter(&altBuf)
	if err := writeText(alt, "text/plain", e.Text); err != nil {
		return nil, err
	}
	if e.HTML != "" {
		if err := writeText(alt, "text/html", e.HTML); err != nil {
			return nil, err
		}
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}

	pw, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": alt.Boundary()})},
	})
	if err != nil {
		return nil, err
	}
	if _, err := pw.Write(altBuf.Bytes()); err != nil {
		return nil, err
	}

	for _, f := range e.Attachments {
		if err := writeAttachment(mixed, f); err != nil {
			return nil, fmt.Errorf("attachment %q: %w", f.Name, err)
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeText(w *multipart.Writer, mediaType, text string) error {
	pw, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(mediaType, map[string]string{"charset": "utf-8"})},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qw := quotedprintable.NewWriter(pw)
	if _, err := qw.Write([]byte(text)); err != nil {
		return err
	}
	return qw.Close()
}

func writeAttachment(w *multipart.Writer, f file) error {
	contentType := "application/octet-stream"
	if mediaType, params, err := mime.ParseMediaType(f.ContentType); err == nil {
		if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
			contentType = formatted
		}
	}
	pw, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": f.Name})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(f.Data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(pw, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = fmt.Fprintf(pw, "%s\r\n", encoded)
	return err
}
