// Package message assembles the outbound MIME message for one send.
//
// Building reads the body source to completion exactly once and loads
// every attachment from disk up front; a send never starts with a
// partially readable attachment set. The assembled message converts to a
// go-mail Msg for delivery.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"os"
	"path/filepath"
	"strings"

	mail "github.com/wneessen/go-mail"

	"github.com/junxit/tmail/internal/identity"
)

// fallbackContentType is used when the extension maps to no known type.
const fallbackContentType = "application/octet-stream"

// ErrEmptyMessage signals that the discard-empty flag is set and there is
// nothing to send: a clean no-op, not an operational failure.
var ErrEmptyMessage = errors.New("message body is empty, discarding")

// AttachmentError reports an attachment that could not be read. It is
// fatal for the whole send; attachments are never silently dropped.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment unreadable: %s: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// Attachment is one file attached to the message.
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// Outbound is the fully assembled message: recipients, subject, body and
// attachments, plus the effective reply-to list.
type Outbound struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	ReplyTo     []string
	Attachments []Attachment
}

// Recipients returns all envelope recipients (to + cc + bcc) in order.
func (o *Outbound) Recipients() []string {
	out := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	out = append(out, o.To...)
	out = append(out, o.Cc...)
	return append(out, o.Bcc...)
}

// Input carries everything the caller supplies for one build.
// Body holds literal text; BodyReader, when non-nil, takes precedence and
// is consumed exactly once. ReplyToOverride, when non-empty, fully
// replaces the identity's reply-to list.
type Input struct {
	To              []string
	Cc              []string
	Bcc             []string
	Subject         string
	Body            string
	BodyReader      io.Reader
	AttachmentPaths []string
	ReplyToOverride string
	DiscardEmpty    bool
}

// Build assembles an Outbound message for the given profile.
func Build(profile *identity.SendProfile, in Input) (*Outbound, error) {
	body := in.Body
	if in.BodyReader != nil {
		data, err := io.ReadAll(in.BodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		body = string(data)
	}

	attachments, err := loadAttachments(in.AttachmentPaths)
	if err != nil {
		return nil, err
	}

	if in.DiscardEmpty && strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	replyTo := profile.Identity.ReplyTo
	if in.ReplyToOverride != "" {
		replyTo = []string{in.ReplyToOverride}
	}

	return &Outbound{
		To:          in.To,
		Cc:          in.Cc,
		Bcc:         in.Bcc,
		Subject:     in.Subject,
		Body:        body,
		ReplyTo:     replyTo,
		Attachments: attachments,
	}, nil
}

// MailMsg converts the outbound message into a go-mail Msg with From,
// recipient and Reply-To headers, date, message ID, text body and
// attachments set.
func (o *Outbound) MailMsg(profile *identity.SendProfile) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if profile.DisplayName != "" {
		if err := msg.FromFormat(profile.DisplayName, profile.Identity.Email); err != nil {
			return nil, fmt.Errorf("invalid from address: %w", err)
		}
	} else {
		if err := msg.From(profile.Identity.Email); err != nil {
			return nil, fmt.Errorf("invalid from address: %w", err)
		}
	}

	if len(o.To) == 0 {
		return nil, fmt.Errorf("no recipients specified")
	}
	if err := msg.To(o.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	if len(o.Cc) > 0 {
		if err := msg.Cc(o.Cc...); err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
	}
	if len(o.Bcc) > 0 {
		if err := msg.Bcc(o.Bcc...); err != nil {
			return nil, fmt.Errorf("invalid bcc address: %w", err)
		}
	}
	if len(o.ReplyTo) > 0 {
		replyTo := make([]string, 0, len(o.ReplyTo))
		for _, addr := range o.ReplyTo {
			parsed, err := netmail.ParseAddress(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid reply-to address: %w", err)
			}
			replyTo = append(replyTo, parsed.String())
		}
		msg.SetGenHeader(mail.HeaderReplyTo, replyTo...)
	}

	msg.Subject(o.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, o.Body)

	for _, att := range o.Attachments {
		msg.AttachReader(att.Filename, bytes.NewReader(att.Content),
			mail.WithFileContentType(mail.ContentType(att.ContentType)))
	}

	return msg, nil
}

// loadAttachments reads every attachment at build time, not at send time.
// A missing or unreadable file fails the whole send.
func loadAttachments(paths []string) ([]Attachment, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	attachments := make([]Attachment, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, &AttachmentError{Path: path, Err: err}
		}
		attachments = append(attachments, Attachment{
			Filename:    filepath.Base(path),
			Content:     content,
			ContentType: detectContentType(path),
		})
	}
	return attachments, nil
}

// detectContentType infers the MIME type from the filename extension,
// falling back to a generic binary type.
func detectContentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return fallbackContentType
}
