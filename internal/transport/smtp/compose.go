package smtp

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/vvka-141/mailq/internal/attachment"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// signatureSeparator goes between the body and the configured signature.
const signatureSeparator = "<br/><br/>"

// Compose renders msg as an RFC 5322 message for cfg. The body is sent as
// HTML; attachments turn the message into multipart/mixed. The audit BCC
// address never appears in the headers.
func Compose(cfg *mailq.DeliveryConfig, msg *mailq.Message, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: cfg.FromName, Address: cfg.FromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	if cfg.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: cfg.ReplyTo}})
	}
	if msg.ID != "" {
		domain := domainOf(cfg.FromAddress)
		if domain == "" {
			domain = "mailq.local"
		}
		h.SetMessageID(msg.ID + "@" + domain)
	}

	body := msg.HTMLBody
	if cfg.Signature != "" {
		body += signatureSeparator + cfg.Signature
	}

	var buf bytes.Buffer
	if msg.Attachments.Kind != mailq.AttachmentsInline || len(msg.Attachments.Items) == 0 {
		setHTMLContent(&h.Header)
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message writer: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("write body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close body: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if err := writeInlineBody(mw, body); err != nil {
		return nil, err
	}
	for i, att := range msg.Attachments.Items {
		if err := writeAttachment(mw, att); err != nil {
			return nil, fmt.Errorf("attachment %d (%s): %w", i, att.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

type headerSetter interface {
	SetContentType(t string, params map[string]string)
	Set(k, v string)
}

func setHTMLContent(h headerSetter) {
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
}

func writeInlineBody(mw *mail.Writer, body string) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline part: %w", err)
	}
	var ih mail.InlineHeader
	setHTMLContent(&ih)
	pw, err := iw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return iw.Close()
}

func writeAttachment(mw *mail.Writer, att mailq.Attachment) error {
	mediaType := strings.TrimSpace(att.MediaType)
	if mediaType == "" {
		mediaType = attachment.DefaultMediaType
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(mediaType, nil)
	ah.SetFilename(att.Name)
	ah.Set("Content-Transfer-Encoding", "base64")

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := w.Write(att.Content); err != nil {
		return err
	}
	return w.Close()
}
