// Package mailsubmit composes RFC 5322 email messages and submits them over
// RFC 5321 SMTP, with TLS, SASL authentication, connection pooling, and
// pluggable transports.
//
// This root package holds the shared vocabulary used across the module: the
// [Address] and [Mailbox] address types, [Envelope], SMTP [ReplyCode] and
// [EnhancedCode] constants, the [SMTPError] and taxonomy error types, EHLO
// [Extension] tracking, and SASL mechanism constructors. Message composition
// lives in the message subpackage; the SMTP client state machine lives in
// smtpengine; connection reuse lives in pool; and the pluggable send
// backends (SMTP relay, local command handoff, maildir-style directory,
// in-memory stub) live in transport.
//
// # Reply Codes
//
// [ReplyCode] constants cover the standard SMTP reply codes. [SMTPError]
// carries a reply code, an optional [EnhancedCode], and a human-readable
// message, and can render itself back to wire format with [SMTPError.WireLines].
//
// # Addresses
//
// [Address] is a validated local-part/domain pair; [Mailbox] adds an
// optional display name. [ParseAddress], [ParseMailbox], and
// [ParseMailboxList] parse from RFC 5322 text, including internationalized
// domains (RFC 5890) and UTF-8 local parts (RFC 6531). [Envelope] describes
// a submission's RFC 5321 envelope independent of the message body.
//
// # Authentication
//
// [SASLMechanism] is the client-side SASL contract. [PlainAuth], [LoginAuth],
// and [XOAuth2Auth] construct mechanisms directly; [MechanismFor] and
// [SelectMechanism] pick one from a server's advertised list.
//
// # Extensions
//
// [Extension] and [Extensions] track EHLO-advertised capabilities.
// [ParseEHLOResponse] parses a server's EHLO reply lines.
//
// # Reports and errors
//
// [Report] and [Classification] describe the outcome of a submission
// attempt. [IsTemporary] classifies any error in this package's taxonomy
// ([BuildError], [ConnectError], [ProtocolError], [AuthError],
// [RecipientError], [NoRecipientsError], [TransactionError], [TimeoutError],
// [CancelledError]) as retryable or not.
package mailsubmit
