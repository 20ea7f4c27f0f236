package cli

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/pkg/mailq"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Add a message to the queue",
	Long: `Enqueue persists one message as a pending entry and prints its id.

The message is delivered by 'mailq run' (or 'mailq drain') through the
delivery configuration of its scope. The body is HTML; the scope signature is
appended at delivery time.

Examples:
  mailq enqueue --to user@example.com --subject "Welcome" --body "<p>Hi</p>"
  mailq enqueue --to ops@example.com --subject "Report" --body-file report.html \
    --scope billing --category Reports --attach report.pdf
  render-invoice | mailq enqueue --to a@example.com --subject Invoice --body-file -`,
	Args: cobra.NoArgs,
	RunE: runEnqueue,
}

type enqueueFlagValues struct {
	to, subject, body, bodyFile string
	category, scope, ref        string
	attach                      []string
	maxAttempts                 int
}

var enqueueFlags enqueueFlagValues

func init() {
	rootCmd.AddCommand(enqueueCmd)
	addConnectionFlags(enqueueCmd, &connFlags)
	registerFlagCompletions(enqueueCmd)

	f := enqueueCmd.Flags()
	f.StringVar(&enqueueFlags.to, "to", "", "Recipient address (required)")
	f.StringVar(&enqueueFlags.subject, "subject", "", "Subject line (required)")
	f.StringVar(&enqueueFlags.body, "body", "", "HTML body")
	f.StringVar(&enqueueFlags.bodyFile, "body-file", "", "Read the HTML body from a file, or '-' for stdin")
	f.StringVar(&enqueueFlags.category, "category", "", "Free-form category for reporting (default: General)")
	f.StringVar(&enqueueFlags.scope, "scope", "", "Scope whose delivery configuration sends the message")
	f.StringVar(&enqueueFlags.ref, "ref", "", "Opaque reference id from the producing system")
	f.StringSliceVar(&enqueueFlags.attach, "attach", nil,
		"File to attach (can be specified multiple times)")
	f.IntVar(&enqueueFlags.maxAttempts, "max-attempts", 0,
		"Attempt budget for this entry (default: queue.max_attempts)")
	enqueueCmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

// buildEnqueueRequest turns the flags into a request. stdin is read when
// --body-file is '-'.
func buildEnqueueRequest(flags enqueueFlagValues, stdin io.Reader) (mailq.EnqueueRequest, error) {
	body := flags.body
	if flags.bodyFile != "" {
		var (
			data []byte
			err  error
		)
		if flags.bodyFile == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(flags.bodyFile)
		}
		if err != nil {
			return mailq.EnqueueRequest{}, fmt.Errorf("failed to read body file '%s': %w", flags.bodyFile, err)
		}
		body = string(data)
	}

	attachments := make([]mailq.Attachment, 0, len(flags.attach))
	for _, path := range flags.attach {
		a, err := readAttachment(path)
		if err != nil {
			return mailq.EnqueueRequest{}, err
		}
		attachments = append(attachments, a)
	}

	return mailq.EnqueueRequest{
		Recipient:   flags.to,
		Subject:     flags.subject,
		Body:        body,
		Category:    flags.category,
		Scope:       flags.scope,
		ReferenceID: flags.ref,
		Attachments: attachments,
		MaxAttempts: flags.maxAttempts,
	}, nil
}

func readAttachment(path string) (mailq.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return mailq.Attachment{}, fmt.Errorf("failed to read attachment '%s': %w", path, err)
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return mailq.Attachment{
		Name:      filepath.Base(path),
		Content:   content,
		MediaType: mediaType,
	}, nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	req, err := buildEnqueueRequest(enqueueFlags, os.Stdin)
	if err != nil {
		return err
	}

	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := h.service.Enqueue(env.ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
