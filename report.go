package mailsubmit

// Classification is the final outcome of a submission attempt (spec §7).
type Classification int

const (
	// ClassificationSuccess means every recipient was accepted and DATA
	// completed with a 2xx reply.
	ClassificationSuccess Classification = iota
	// ClassificationPartialSuccess means some recipients were accepted and
	// DATA completed, but at least one recipient was rejected.
	ClassificationPartialSuccess
	// ClassificationPermanentFailure means the send cannot succeed by
	// retrying unmodified (5xx, auth failure, all recipients rejected).
	ClassificationPermanentFailure
	// ClassificationTransientFailure means the send may succeed on retry
	// (4xx, timeout, connection failure).
	ClassificationTransientFailure
	// ClassificationCancelled means the caller cancelled the send.
	ClassificationCancelled
)

func (c Classification) String() string {
	switch c {
	case ClassificationSuccess:
		return "success"
	case ClassificationPartialSuccess:
		return "partial-success"
	case ClassificationPermanentFailure:
		return "permanent-failure"
	case ClassificationTransientFailure:
		return "transient-failure"
	case ClassificationCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RecipientStatus is the outcome of one RCPT TO within a transaction.
type RecipientStatus struct {
	Recipient Address
	Accepted  bool
	Reply     *SMTPError // nil when Accepted is true and no reply text was distinct.
}

// Report is the outcome the caller sees for every submission attempt,
// through every transport (spec §7 "A Report always carries").
type Report struct {
	Classification Classification
	Recipients     []RecipientStatus // populated once RCPT has been attempted.
	LastReply      *SMTPError        // the server's last reply, if any.
	Err            error             // the classified error, nil on full success.
	Log            []string          // optional full reply/command log for diagnostics.
}

// Accepted returns the subset of Recipients that were accepted.
func (r Report) Accepted() []Address {
	var out []Address
	for _, rs := range r.Recipients {
		if rs.Accepted {
			out = append(out, rs.Recipient)
		}
	}
	return out
}

// Rejected returns the subset of Recipients that were rejected.
func (r Report) Rejected() []RecipientStatus {
	var out []RecipientStatus
	for _, rs := range r.Recipients {
		if !rs.Accepted {
			out = append(out, rs)
		}
	}
	return out
}
