package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/submitkit/mailsubmit"
)

// sidecarEnvelope is the nested "envelope" object of a sidecar file
// (spec.md:138). ReversePath is a pointer so a null reverse-path (the
// postmaster/bounce-suppression case) serializes as JSON null rather than
// being dropped from the object.
type sidecarEnvelope struct {
	ForwardPaths []string `json:"forward_path"`
	ReversePath  *string  `json:"reverse_path"`
}

// sidecar is the JSON companion written alongside every <message-id>.eml
// file (spec.md §4.9 "Directory": "a companion JSON sidecar describing
// the envelope"). The shape is part of the transport's external contract
// (spec.md:138) and must match byte-for-byte: any consumer written
// against that documented shape parses this file directly.
type sidecar struct {
	Envelope  sidecarEnvelope `json:"envelope"`
	MessageID string          `json:"message_id"`
}

// DirectoryTransport writes each message to Dir/<message-id>.eml
// (spec.md §4.9 "Directory") using a temp-file-then-rename sequence so a
// concurrent reader never observes a partially written file.
type DirectoryTransport struct {
	Dir string
}

// NewDirectoryTransport returns a DirectoryTransport rooted at dir. The
// directory must already exist.
func NewDirectoryTransport(dir string) *DirectoryTransport {
	return &DirectoryTransport{Dir: dir}
}

// Send atomically writes payload to <dir>/<messageID>.eml and its sidecar
// to <dir>/<messageID>.json.
func (d *DirectoryTransport) Send(ctx context.Context, env mailsubmit.Envelope, messageID string, payload []byte) (mailsubmit.Report, error) {
	if messageID == "" {
		messageID = uuid.NewString()
	}

	sc := sidecar{MessageID: messageID}
	if env.ReversePath != nil {
		rp := env.ReversePath.String()
		sc.Envelope.ReversePath = &rp
	}
	for _, rcpt := range env.ForwardPaths {
		sc.Envelope.ForwardPaths = append(sc.Envelope.ForwardPaths, rcpt.String())
	}
	sidecarJSON, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return failReport(env, fmt.Errorf("transport: marshaling sidecar: %w", err))
	}

	emlPath := filepath.Join(d.Dir, messageID+".eml")
	jsonPath := filepath.Join(d.Dir, messageID+".json")

	if err := atomicWriteFile(emlPath, payload); err != nil {
		return failReport(env, fmt.Errorf("transport: writing message file: %w", err))
	}
	if err := atomicWriteFile(jsonPath, sidecarJSON); err != nil {
		return failReport(env, fmt.Errorf("transport: writing sidecar: %w", err))
	}

	recipients := make([]mailsubmit.RecipientStatus, len(env.ForwardPaths))
	for i, rcpt := range env.ForwardPaths {
		recipients[i] = mailsubmit.RecipientStatus{Recipient: rcpt, Accepted: true}
	}
	return mailsubmit.Report{Classification: mailsubmit.ClassificationSuccess, Recipients: recipients}, nil
}

// atomicWriteFile writes data to a temp file in the same directory as
// path (so the rename stays on one filesystem) and renames it into
// place, giving readers an all-or-nothing view of path. The temp name's
// uuid suffix (DOMAIN STACK: "the command transport's temp-file names for
// atomic directory writes use a uuid suffix") avoids collisions between
// concurrent Send calls targeting the same message-id.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func failReport(env mailsubmit.Envelope, err error) (mailsubmit.Report, error) {
	recipients := make([]mailsubmit.RecipientStatus, len(env.ForwardPaths))
	for i, rcpt := range env.ForwardPaths {
		recipients[i] = mailsubmit.RecipientStatus{Recipient: rcpt, Accepted: false}
	}
	return mailsubmit.Report{
		Classification: mailsubmit.ClassificationTransientFailure,
		Recipients:     recipients,
		Err:            err,
	}, err
}
