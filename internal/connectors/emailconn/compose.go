package emailconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
)

// defaultDialTimeout bounds how long composeMessage's caller waits to
// establish the SMTP connection when ctx carries no deadline of its own.
const defaultDialTimeout = 30 * time.Second

// composeMessage builds a complete RFC 5322 MIME message with body
// rendered into both text/plain and text/html parts of a
// multipart/alternative structure, the way a markdown-authored rule
// notification or outbound message needs to look in an inbox.
func composeMessage(from string, to []string, subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("email: generate message-id: %w", err)
	}
	h.SetSubject(subject)

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("email: parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddrs, err := parseAddressList(to)
	if err != nil {
		return nil, fmt.Errorf("email: parse to addresses: %w", err)
	}
	h.SetAddressList("To", toAddrs)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("email: create mail writer: %w", err)
	}

	alt, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("email: create alternative writer: %w", err)
	}

	htmlBody, err := markdownToHTML(body)
	if err != nil {
		return nil, fmt.Errorf("email: render markdown to html: %w", err)
	}

	writePart := func(contentType, content string) error {
		var header mail.InlineHeader
		header.Set("Content-Type", contentType)
		part, err := alt.CreatePart(header)
		if err != nil {
			return fmt.Errorf("email: create %s part: %w", contentType, err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			part.Close()
			return fmt.Errorf("email: write %s part: %w", contentType, err)
		}
		return part.Close()
	}

	if err := writePart("text/plain; charset=utf-8", markdownToPlain(body)); err != nil {
		return nil, err
	}
	if err := writePart("text/html; charset=utf-8", htmlBody); err != nil {
		return nil, err
	}

	if err := alt.Close(); err != nil {
		return nil, fmt.Errorf("email: close alternative writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("email: close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parseAddressList(addrs []string) ([]*mail.Address, error) {
	result := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		result = append(result, parsed)
	}
	return result, nil
}

// markdownToHTML renders md to a minimal standalone HTML document
// suitable for an email client's HTML part.
func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head>\n")
	doc.WriteString("<body style=\"font-family: sans-serif; font-size: 14px; line-height: 1.5;\">\n")
	doc.Write(buf.Bytes())
	doc.WriteString("\n</body></html>")
	return doc.String(), nil
}

// markdown patterns stripped when rendering the text/plain counterpart
// of an HTML email; only the inline forms a rule notification or short
// status message realistically uses.
var (
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*(.+?)\*`)
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
)

// markdownToPlain degrades md to plain text for clients (and the
// text/plain MIME part) that won't render HTML, preserving link targets
// and list markers rather than just discarding formatting.
func markdownToPlain(md string) string {
	s := mdImage.ReplaceAllString(md, "$1")
	s = mdLink.ReplaceAllString(s, "$1 ($2)")
	s = mdBold.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// sendMail delivers msg over a fresh SMTP connection addressed to host:port,
// using implicit TLS when startTLS is false and a STARTTLS upgrade otherwise.
func sendMail(ctx context.Context, host string, port int, startTLS bool, username, password, from string, to []string, msg []byte) error {
	conn, err := dialSMTP(ctx, host, port, !startTLS)
	if err != nil {
		return fmt.Errorf("email: dial %s:%d: %w", host, port, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: smtp handshake with %s: %w", host, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("email: HELO: %w", err)
	}
	if startTLS {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("email: STARTTLS: %w", err)
		}
	}
	if username != "" {
		if err := client.Auth(smtp.PlainAuth("", username, password, host)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("email: MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("email: RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("email: write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: close message body: %w", err)
	}
	return client.Quit()
}

// dialSMTP opens the transport connection for sendMail: an implicit TLS
// handshake when useImplicitTLS is set, a plain TCP dial otherwise (the
// caller then upgrades via STARTTLS). The dial itself is bounded by
// ctx's deadline when it has one, and defaultDialTimeout otherwise.
func dialSMTP(ctx context.Context, host string, port int, useImplicitTLS bool) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeoutFor(ctx)}

	if !useImplicitTLS {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host})
}

func dialTimeoutFor(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultDialTimeout
	}
	if remaining := time.Until(deadline); remaining < defaultDialTimeout {
		return remaining
	}
	return defaultDialTimeout
}
