package domain

// Metadata is modeled as an opaque string bag rather than an untyped JSON
// blob (spec re-architecture note: "untyped JSON blobs in metadata"). The
// known extension points used by this system (cancelReason,
// reminderEmailSent) get typed accessors; anything else round-trips as
// opaque key/value pairs.
type Metadata map[string]string

const (
	metaCancelReason      = "cancelReason"
	metaReminderEmailSent = "reminderEmailSent"
)

// CancelReasonAbandonedCart is written by the reaper when it cancels a
// stale order.
const CancelReasonAbandonedCart = "ABANDONED_CART"

// WithCancelReason returns a copy of m with cancelReason set.
func (m Metadata) WithCancelReason(reason string) Metadata {
	return m.with(metaCancelReason, reason)
}

// CancelReason reads the cancelReason extension point, if present.
func (m Metadata) CancelReason() (string, bool) {
	v, ok := m[metaCancelReason]
	return v, ok
}

// WithReminderEmailSent marks that the abandoned-cart reminder email was
// delivered for this order.
func (m Metadata) WithReminderEmailSent() Metadata {
	return m.with(metaReminderEmailSent, "true")
}

// ReminderEmailSent reports whether a reminder email was already sent.
func (m Metadata) ReminderEmailSent() bool {
	return m[metaReminderEmailSent] == "true"
}

func (m Metadata) with(key, value string) Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}
