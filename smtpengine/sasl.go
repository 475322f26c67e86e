package smtpengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/internal/textproto"
)

// authenticate selects a SASL mechanism by intersecting cfg.Mechanisms
// with the server's advertised AUTH list and runs the exchange
// (spec §4.6, §4.7 "Auth").
func authenticate(ctx context.Context, conn *Connection, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	advertised := conn.exts.AuthMechanisms()
	name, err := mailsubmit.SelectMechanism(cfg.Mechanisms, advertised)
	if err != nil {
		// No overlap is a configuration error caught before any I/O
		// (spec §4.6 "failure to intersect is a configuration error
		// before the transaction begins").
		logger.Warn("smtpengine: no acceptable SASL mechanism", "offered", cfg.Mechanisms, "advertised", advertised)
		return &mailsubmit.BuildError{Reason: "selecting SASL mechanism", Err: err}
	}
	mech, err := mailsubmit.MechanismFor(name, cfg.Credentials)
	if err != nil {
		return &mailsubmit.BuildError{Reason: "building SASL mechanism", Err: err}
	}
	logger.Debug("smtpengine: starting AUTH exchange", "mechanism", name)
	if err := runAuthExchange(conn, cfg, name, mech); err != nil {
		return err
	}
	conn.authenticatedAs = cfg.Credentials.Username
	return nil
}

// runAuthExchange drives the AUTH command/continuation loop, grounded on
// the teacher's smtpclient.Client.Auth, generalized to classify failures
// through the taxonomy instead of returning a bare *SMTPError.
func runAuthExchange(conn *Connection, cfg Config, mechName string, mech mailsubmit.SASLMechanism) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn.netConn.SetDeadline(time.Now().Add(cfg.WriteTimeout))

	_, initial, err := mech.Start()
	if err != nil {
		return &mailsubmit.AuthError{Mechanism: mechName, Err: &mailsubmit.SMTPError{Message: err.Error()}}
	}

	var cmd string
	if initial != nil {
		cmd = fmt.Sprintf("AUTH %s %s", mechName, base64.StdEncoding.EncodeToString(initial))
	} else {
		cmd = fmt.Sprintf("AUTH %s", mechName)
	}
	logger.Debug("smtpengine: AUTH command sent", "mechanism", mechName, "has_initial_response", initial != nil)
	if err := conn.wire.WriteLine(cmd); err != nil {
		return &mailsubmit.ProtocolError{Reason: "AUTH", Err: err}
	}

	for {
		reply, err := conn.wire.ReadReply()
		if err != nil {
			return &mailsubmit.ProtocolError{Reason: "AUTH reply", Err: err}
		}
		if reply.Code == int(mailsubmit.ReplyAuthOK) {
			logger.Debug("smtpengine: AUTH succeeded", "mechanism", mechName)
			return nil
		}
		if reply.Code != int(mailsubmit.ReplyAuthContinue) {
			logger.Warn("smtpengine: AUTH rejected", "mechanism", mechName, "code", reply.Code)
			return &mailsubmit.AuthError{Mechanism: mechName, Err: replyToSMTPError(reply)}
		}

		challengeText := ""
		if len(reply.Lines) > 0 {
			challengeText = reply.Lines[0]
		}
		challenge, err := base64.StdEncoding.DecodeString(challengeText)
		if err != nil {
			return &mailsubmit.ProtocolError{Reason: "AUTH: invalid base64 challenge", Err: err}
		}

		// LOGIN's continuation prompts are free-text ("Username:",
		// "Password:") rather than a structured challenge (spec §4.6).
		// Verify the server is actually asking for one of them,
		// case-insensitively, before answering with a credential — this
		// is the only ordering guarantee the wire format gives us.
		if strings.EqualFold(mechName, "LOGIN") {
			prompt := strings.ToLower(string(challenge))
			if !strings.Contains(prompt, "user") && !strings.Contains(prompt, "pass") {
				return &mailsubmit.AuthError{
					Mechanism: mechName,
					Err:       &mailsubmit.SMTPError{Message: "AUTH LOGIN: unrecognized prompt"},
				}
			}
			logger.Debug("smtpengine: AUTH LOGIN prompt", "mechanism", mechName, "asks_for", loginPromptKind(prompt))
		} else {
			logger.Debug("smtpengine: AUTH continuation received", "mechanism", mechName)
		}

		resp, err := mech.Next(challenge)
		if err != nil {
			conn.wire.WriteLine("*")
			conn.wire.ReadReply()
			return &mailsubmit.AuthError{Mechanism: mechName, Err: &mailsubmit.SMTPError{Message: err.Error()}}
		}
		if err := conn.wire.WriteLine(base64.StdEncoding.EncodeToString(resp)); err != nil {
			return &mailsubmit.ProtocolError{Reason: "AUTH response", Err: err}
		}
	}
}

// loginPromptKind classifies a lowercased LOGIN prompt for logging without
// ever emitting the raw prompt or the credential sent in response.
func loginPromptKind(lowerPrompt string) string {
	if strings.Contains(lowerPrompt, "user") {
		return "username"
	}
	return "password"
}

// replyToSMTPError converts a wire reply into an *mailsubmit.SMTPError,
// pulling out an RFC 2034 enhanced status code when the first line
// carries one. Grounded on the teacher's smtpclient.replyToError.
func replyToSMTPError(reply textproto.Reply) *mailsubmit.SMTPError {
	msg := strings.Join(reply.Lines, "\n")
	enhanced := mailsubmit.EnhancedCode{}
	if len(reply.Lines) > 0 {
		cl, su, de, rest := textproto.ParseEnhancedCode(reply.Lines[0])
		if cl != 0 {
			enhanced = mailsubmit.EnhancedCode{Class: cl, Subject: su, Detail: de}
			if len(reply.Lines) == 1 {
				msg = rest
			}
		}
	}
	return &mailsubmit.SMTPError{
		Code:         mailsubmit.ReplyCode(reply.Code),
		EnhancedCode: enhanced,
		Message:      msg,
	}
}
