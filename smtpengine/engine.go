package smtpengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/submitkit/mailsubmit"
)

// Submit drives conn through Mail → Rcpt(×n) → Data → Payload, following
// spec §4.7's transition rules, and returns the resulting Report. conn
// must already have completed Greeting/Ehlo/[StartTls]/[Auth] (see Open).
//
// Submit does not send QUIT; callers decide whether to keep conn (return
// it to a pool) or close it, per spec §4.7/§4.8's reuse rules.
func Submit(ctx context.Context, conn *Connection, cfg Config, env mailsubmit.Envelope, payload []byte) (mailsubmit.Report, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = conn.exts.MaxSize()
	}
	if cfg.MaxMessageSize > 0 && int64(len(payload)) > cfg.MaxMessageSize {
		err := &mailsubmit.BuildError{Reason: fmt.Sprintf("message size %d exceeds server SIZE limit %d", len(payload), cfg.MaxMessageSize)}
		logger.Warn("smtpengine: message exceeds server SIZE limit", "size", len(payload), "limit", cfg.MaxMessageSize)
		return mailsubmit.Report{Classification: mailsubmit.ClassificationPermanentFailure, Err: err}, err
	}

	pipelined := conn.exts.Has(mailsubmit.ExtPIPELINING) && len(env.ForwardPaths) > 0
	logger.Debug("smtpengine: submitting transaction", "recipients", len(env.ForwardPaths), "payload_bytes", len(payload), "pipelined", pipelined)

	var report mailsubmit.Report
	var err error
	if pipelined {
		report, err = submitPipelined(ctx, conn, cfg, env, payload)
	} else {
		report, err = submitSequential(ctx, conn, cfg, env, payload)
	}

	if err != nil {
		logger.Warn("smtpengine: transaction failed", "classification", report.Classification, "err", err)
	} else {
		logger.Debug("smtpengine: transaction complete", "classification", report.Classification)
	}
	return report, err
}

func submitSequential(ctx context.Context, conn *Connection, cfg Config, env mailsubmit.Envelope, payload []byte) (mailsubmit.Report, error) {
	conn.netConn.SetDeadline(time.Now().Add(cfg.WriteTimeout))

	mailCmd := buildMailCommand(conn, cfg, env, len(payload))
	reply, err := conn.wire.Cmd("%s", mailCmd)
	if err != nil {
		return mailsubmit.Report{}, &mailsubmit.ProtocolError{Reason: "MAIL", Err: err}
	}
	if reply.Code != int(mailsubmit.ReplyOK) {
		txErr := &mailsubmit.TransactionError{Err: replyToSMTPError(reply)}
		return mailsubmit.Report{
			Classification: classificationFor(txErr),
			LastReply:      txErr.Err,
			Err:            txErr,
		}, txErr
	}
	conn.state = StateMail
	conn.mailInFlight = true

	statuses, accepted, err := issueRecipients(conn, cfg, env.ForwardPaths)
	if err != nil {
		return mailsubmit.Report{Recipients: statuses, Err: err, Classification: mailsubmit.ClassificationPermanentFailure}, err
	}
	conn.state = StateRcpt

	return finishData(conn, cfg, statuses, accepted, payload)
}

// submitPipelined writes MAIL + all RCPTs before reading any reply
// (spec §4.7 "Pipelining": "the engine may write MAIL + all RCPTs + DATA
// back-to-back before reading replies, then consume replies in issue
// order... Payload and its terminator are still sent only after a 354 is
// seen").
func submitPipelined(ctx context.Context, conn *Connection, cfg Config, env mailsubmit.Envelope, payload []byte) (mailsubmit.Report, error) {
	conn.netConn.SetDeadline(time.Now().Add(cfg.WriteTimeout))

	lines := []string{buildMailCommand(conn, cfg, env, len(payload))}
	for _, rcpt := range env.ForwardPaths {
		lines = append(lines, "RCPT TO:<"+rcpt.String()+">")
	}
	lines = append(lines, "DATA")

	if err := conn.wire.WriteCommands(lines...); err != nil {
		return mailsubmit.Report{}, &mailsubmit.ProtocolError{Reason: "pipelined batch write", Err: err}
	}

	replies, err := conn.wire.ReadReplies(len(lines))
	if err != nil {
		return mailsubmit.Report{}, &mailsubmit.ProtocolError{Reason: "pipelined batch read", Err: err}
	}

	mailReply := replies[0]
	if mailReply.Code != int(mailsubmit.ReplyOK) {
		txErr := &mailsubmit.TransactionError{Err: replyToSMTPError(mailReply)}
		return mailsubmit.Report{Classification: classificationFor(txErr), LastReply: txErr.Err, Err: txErr}, txErr
	}
	conn.state = StateMail
	conn.mailInFlight = true

	rcptReplies := replies[1 : len(replies)-1]
	dataReply := replies[len(replies)-1]

	var statuses []mailsubmit.RecipientStatus
	var accepted []mailsubmit.Address
	for i, rcpt := range env.ForwardPaths {
		ok := rcptReplies[i].Code == int(mailsubmit.ReplyOK)
		status := mailsubmit.RecipientStatus{Recipient: rcpt, Accepted: ok}
		if !ok {
			status.Reply = replyToSMTPError(rcptReplies[i])
		} else {
			accepted = append(accepted, rcpt)
		}
		statuses = append(statuses, status)
	}
	conn.state = StateRcpt

	if len(accepted) == 0 {
		err := &mailsubmit.NoRecipientsError{Rejected: statuses}
		return mailsubmit.Report{Recipients: statuses, Classification: mailsubmit.ClassificationPermanentFailure, Err: err}, err
	}

	if dataReply.Code != int(mailsubmit.ReplyStartMailInput) {
		txErr := &mailsubmit.TransactionError{Err: replyToSMTPError(dataReply)}
		return mailsubmit.Report{Recipients: statuses, Classification: classificationFor(txErr), LastReply: txErr.Err, Err: txErr}, txErr
	}
	conn.state = StateData

	return streamPayload(conn, cfg, statuses, accepted, payload)
}

func buildMailCommand(conn *Connection, cfg Config, env mailsubmit.Envelope, size int) string {
	from := "<>"
	if env.ReversePath != nil {
		from = "<" + env.ReversePath.String() + ">"
	}
	cmd := "MAIL FROM:" + from
	if size > 0 && conn.exts.Has(mailsubmit.ExtSIZE) {
		cmd += fmt.Sprintf(" SIZE=%d", size)
	}
	if cfg.SMTPUTF8 && conn.exts.Has(mailsubmit.ExtSMTPUTF8) {
		cmd += " SMTPUTF8"
	}
	if conn.exts.Has(mailsubmit.Ext8BITMIME) {
		cmd += " BODY=8BITMIME"
	}
	return cmd
}

// issueRecipients sends one RCPT TO per recipient in caller order
// (spec §4.7 "Rcpt": "Recipients are issued in caller-supplied order").
func issueRecipients(conn *Connection, cfg Config, recipients []mailsubmit.Address) ([]mailsubmit.RecipientStatus, []mailsubmit.Address, error) {
	var statuses []mailsubmit.RecipientStatus
	var accepted []mailsubmit.Address
	for _, rcpt := range recipients {
		reply, err := conn.wire.Cmd("RCPT TO:<%s>", rcpt.String())
		if err != nil {
			return statuses, accepted, &mailsubmit.ProtocolError{Reason: "RCPT", Err: err}
		}
		ok := reply.Code == int(mailsubmit.ReplyOK)
		status := mailsubmit.RecipientStatus{Recipient: rcpt, Accepted: ok}
		if !ok {
			status.Reply = replyToSMTPError(reply)
		} else {
			accepted = append(accepted, rcpt)
		}
		statuses = append(statuses, status)
	}
	if len(accepted) == 0 {
		return statuses, accepted, &mailsubmit.NoRecipientsError{Rejected: statuses}
	}
	return statuses, accepted, nil
}

func finishData(conn *Connection, cfg Config, statuses []mailsubmit.RecipientStatus, accepted []mailsubmit.Address, payload []byte) (mailsubmit.Report, error) {
	reply, err := conn.wire.Cmd("DATA")
	if err != nil {
		return mailsubmit.Report{Recipients: statuses}, &mailsubmit.ProtocolError{Reason: "DATA", Err: err}
	}
	if reply.Code != int(mailsubmit.ReplyStartMailInput) {
		txErr := &mailsubmit.TransactionError{Err: replyToSMTPError(reply)}
		return mailsubmit.Report{Recipients: statuses, Classification: classificationFor(txErr), LastReply: txErr.Err, Err: txErr}, txErr
	}
	conn.state = StateData
	return streamPayload(conn, cfg, statuses, accepted, payload)
}

// streamPayload writes the message body through the dot-stuffing writer
// and reads DATA's final reply (spec §4.7 "Data").
func streamPayload(conn *Connection, cfg Config, statuses []mailsubmit.RecipientStatus, accepted []mailsubmit.Address, payload []byte) (mailsubmit.Report, error) {
	conn.state = StatePayload
	conn.netConn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))

	dw := conn.wire.DotWriter()
	if _, err := dw.Write(payload); err != nil {
		dw.Close()
		return mailsubmit.Report{Recipients: statuses}, &mailsubmit.ProtocolError{Reason: "writing DATA payload", Err: err}
	}
	if err := dw.Close(); err != nil {
		return mailsubmit.Report{Recipients: statuses}, &mailsubmit.ProtocolError{Reason: "closing DATA payload", Err: err}
	}

	conn.netConn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	reply, err := conn.wire.ReadReply()
	if err != nil {
		return mailsubmit.Report{Recipients: statuses}, &mailsubmit.ProtocolError{Reason: "reading DATA reply", Err: err}
	}
	conn.mailInFlight = false

	if reply.Code != int(mailsubmit.ReplyOK) {
		txErr := &mailsubmit.TransactionError{Err: replyToSMTPError(reply)}
		return mailsubmit.Report{Recipients: statuses, Classification: classificationFor(txErr), LastReply: txErr.Err, Err: txErr}, txErr
	}

	var rejected []mailsubmit.RecipientStatus
	for _, s := range statuses {
		if !s.Accepted {
			rejected = append(rejected, s)
		}
	}
	if len(rejected) > 0 {
		rcptErr := &mailsubmit.RecipientError{Rejected: rejected}
		return mailsubmit.Report{
			Classification: mailsubmit.ClassificationPartialSuccess,
			Recipients:     statuses,
			LastReply:      replyToSMTPError(reply),
			Err:            rcptErr,
		}, rcptErr
	}
	return mailsubmit.Report{
		Classification: mailsubmit.ClassificationSuccess,
		Recipients:     statuses,
		LastReply:      replyToSMTPError(reply),
	}, nil
}

// classificationFor maps a classified taxonomy error onto a Report
// Classification.
func classificationFor(err error) mailsubmit.Classification {
	if mailsubmit.IsTemporary(err) {
		return mailsubmit.ClassificationTransientFailure
	}
	return mailsubmit.ClassificationPermanentFailure
}

// Reset sends RSET to abort an open transaction before the connection is
// reused (spec §4.7, §4.8 "a connection holding an aborted transaction is
// RSET first; on RSET failure it is dropped").
func Reset(conn *Connection) error {
	reply, err := conn.wire.Cmd("RSET")
	if err != nil {
		return &mailsubmit.ProtocolError{Reason: "RSET", Err: err}
	}
	if reply.Code != int(mailsubmit.ReplyOK) {
		return &mailsubmit.ProtocolError{Reason: "RSET rejected", Err: replyToSMTPError(reply)}
	}
	conn.mailInFlight = false
	conn.state = StateEhlo
	return nil
}

// Noop sends NOOP, used by the pool as a liveness probe before reuse
// (spec §4.8 "optionally validating liveness with a NOOP").
func Noop(conn *Connection) error {
	reply, err := conn.wire.Cmd("NOOP")
	if err != nil {
		return &mailsubmit.ProtocolError{Reason: "NOOP", Err: err}
	}
	if reply.Code != int(mailsubmit.ReplyOK) {
		return &mailsubmit.ProtocolError{Reason: "NOOP rejected", Err: replyToSMTPError(reply)}
	}
	return nil
}

// Quit sends QUIT for a graceful close (spec §4.7 "Quit").
func Quit(conn *Connection) error {
	conn.wire.Cmd("QUIT")
	conn.state = StateQuit
	return nil
}
