package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/submitkit/mailsubmit"
)

// CommandTransport hands a message off to a local mail-submission program
// (spec.md §6 "Command transport"): the payload is written to the
// program's stdin, recipients are passed only as argv after "--", and no
// shell ever interprets any part of the command line. Every invocation is
// `<Program> -i [-f <reverse-path>] -- <rcpt1> <rcpt2> ...`; -i and the
// reverse path are derived per call from the envelope, not baked into a
// static argument list.
type CommandTransport struct {
	Program string
	Args    []string // extra fixed arguments placed before "-i" and the recipients.
}

// NewCommandTransport returns a CommandTransport invoking program, with
// any caller-supplied fixed leading arguments placed before the "-i
// [-f <reverse-path>] -- <recipients>" argv that Send derives from each
// envelope.
func NewCommandTransport(program string, args ...string) *CommandTransport {
	return &CommandTransport{Program: program, Args: args}
}

// NewSendmailTransport returns a CommandTransport invoking the sendmail
// binary resolved via PATH (spec.md §6 "Program path defaults to sendmail
// resolved via PATH").
func NewSendmailTransport() (*CommandTransport, error) {
	path, err := exec.LookPath("sendmail")
	if err != nil {
		return nil, fmt.Errorf("transport: resolving sendmail: %w", err)
	}
	return &CommandTransport{Program: path}, nil
}

// unsafeRecipient reports whether s contains a character that would be
// dangerous if a caller's argv ever passed through a shell later, or that
// simply cannot appear in a valid RFC 5321 mailbox (spec.md §8 property
// 10: reject ';', backtick, '$(' and control characters, including
// newline).
func unsafeRecipient(s string) bool {
	if strings.ContainsAny(s, ";`\n\r") {
		return true
	}
	if strings.Contains(s, "$(") {
		return true
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// Send validates every recipient, then execs Program with Args followed
// by "--" and the recipient addresses, streaming payload to its stdin.
// It never invokes a shell. Exit code 0 is success; non-zero maps to
// permanent failure with stderr captured in Report.Err.
func (c *CommandTransport) Send(ctx context.Context, env mailsubmit.Envelope, messageID string, payload []byte) (mailsubmit.Report, error) {
	for _, rcpt := range env.ForwardPaths {
		addr := rcpt.String()
		if unsafeRecipient(addr) {
			err := &mailsubmit.BuildError{
				Reason: "recipient",
				Err:    fmt.Errorf("transport: recipient %q contains disallowed characters", addr),
			}
			return mailsubmit.Report{Classification: mailsubmit.ClassificationPermanentFailure, Err: err}, err
		}
	}

	cmd := exec.CommandContext(ctx, c.Program, c.buildArgs(env)...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	recipients := make([]mailsubmit.RecipientStatus, len(env.ForwardPaths))
	for i, rcpt := range env.ForwardPaths {
		recipients[i] = mailsubmit.RecipientStatus{Recipient: rcpt, Accepted: true}
	}

	if err := cmd.Run(); err != nil {
		for i := range recipients {
			recipients[i].Accepted = false
		}
		wrapped := fmt.Errorf("transport: command %s exited: %w: %s", c.Program, err, stderr.String())
		return mailsubmit.Report{
			Classification: mailsubmit.ClassificationPermanentFailure,
			Recipients:     recipients,
			Err:            wrapped,
		}, wrapped
	}

	return mailsubmit.Report{
		Classification: mailsubmit.ClassificationSuccess,
		Recipients:     recipients,
	}, nil
}

// buildArgs constructs argv per spec.md §6: <program> -i [-f
// <reverse-path>] -- <rcpt1> <rcpt2> ... -i suppresses "." as
// end-of-input so the already-dot-stuffed payload passes through
// unmodified; -f carries the envelope's reverse path (the null sender,
// "<>", carries none).
func (c *CommandTransport) buildArgs(env mailsubmit.Envelope) []string {
	args := make([]string, 0, len(c.Args)+4+len(env.ForwardPaths))
	args = append(args, c.Args...)
	args = append(args, "-i")
	if env.ReversePath != nil {
		args = append(args, "-f", env.ReversePath.String())
	}
	args = append(args, "--")
	for _, rcpt := range env.ForwardPaths {
		args = append(args, rcpt.String())
	}
	return args
}
