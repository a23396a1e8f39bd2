package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"courier/internal/domain"
)

// Job kinds. They are persisted in queued messages, so never rename one.
const (
	KindRefreshPreKeys        = "refresh_prekeys"
	KindAutomaticSessionReset = "automatic_session_reset"
	KindSendRetryReceipt      = "send_retry_receipt"
	KindDecryptionDrained     = "decryption_drained"
	KindResendMessage         = "resend_message"
)

// Queues. Jobs on the same queue run one at a time in enqueue order.
const (
	// QueueIncoming carries the side effects of decryption. The drained job
	// shares it so it only fires after every earlier recovery job ran.
	QueueIncoming = "incoming"
	QueuePreKeys  = "prekeys"
	QueueResend   = "resend"
)

// ErrUnknownKind is returned when decoding a job kind without a factory.
var ErrUnknownKind = errors.New("jobs: unknown job kind")

// RefreshPreKeysJob tops up one-time prekeys after a prekey message used one.
type RefreshPreKeysJob struct{}

func (RefreshPreKeysJob) Kind() string  { return KindRefreshPreKeys }
func (RefreshPreKeysJob) Queue() string { return QueuePreKeys }

// AutomaticSessionResetJob archives the session with a sender device and
// starts a new one.
type AutomaticSessionResetJob struct {
	Sender    domain.Username `json:"sender"`
	Device    domain.DeviceID `json:"device"`
	Timestamp int64           `json:"timestamp"`
}

func (AutomaticSessionResetJob) Kind() string  { return KindAutomaticSessionReset }
func (AutomaticSessionResetJob) Queue() string { return QueueIncoming }

// SendRetryReceiptJob asks the sender to resend an undecryptable message.
type SendRetryReceiptJob struct {
	Sender       domain.Username               `json:"sender"`
	Device       domain.DeviceID               `json:"device"`
	GroupID      domain.GroupID                `json:"group_id"`
	ContentHint  domain.ContentHint            `json:"content_hint"`
	ErrorMessage domain.DecryptionErrorMessage `json:"error_message"`
}

func (SendRetryReceiptJob) Kind() string  { return KindSendRetryReceipt }
func (SendRetryReceiptJob) Queue() string { return QueueIncoming }

// DecryptionDrainedJob signals that everything fetched so far has been
// decrypted and its side effects have run.
type DecryptionDrainedJob struct{}

func (DecryptionDrainedJob) Kind() string  { return KindDecryptionDrained }
func (DecryptionDrainedJob) Queue() string { return QueueIncoming }

// ResendMessageJob answers a peer's retry receipt for one of our messages.
type ResendMessageJob struct {
	Recipient     domain.Username `json:"recipient"`
	Device        domain.DeviceID `json:"device"`
	SentTimestamp int64           `json:"sent_timestamp"`
}

func (ResendMessageJob) Kind() string  { return KindResendMessage }
func (ResendMessageJob) Queue() string { return QueueResend }

type decoder func(json.RawMessage) (domain.Job, error)

func decodeInto[T domain.Job](raw json.RawMessage) (domain.Job, error) {
	var job T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

var decoders = map[string]decoder{
	KindRefreshPreKeys:        decodeInto[RefreshPreKeysJob],
	KindAutomaticSessionReset: decodeInto[AutomaticSessionResetJob],
	KindSendRetryReceipt:      decodeInto[SendRetryReceiptJob],
	KindDecryptionDrained:     decodeInto[DecryptionDrainedJob],
	KindResendMessage:         decodeInto[ResendMessageJob],
}

type wireJob struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serialises a job with its kind so Decode can rebuild it.
func Encode(id string, job domain.Job) ([]byte, error) {
	if _, ok := decoders[job.Kind()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind())
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode %s: %w", job.Kind(), err)
	}
	return json.Marshal(wireJob{ID: id, Kind: job.Kind(), Data: data})
}

// Decode rebuilds a job produced by Encode.
func Decode(b []byte) (string, domain.Job, error) {
	var w wireJob
	if err := json.Unmarshal(b, &w); err != nil {
		return "", nil, fmt.Errorf("jobs: decode: %w", err)
	}
	dec, ok := decoders[w.Kind]
	if !ok {
		return w.ID, nil, fmt.Errorf("%w: %s", ErrUnknownKind, w.Kind)
	}
	job, err := dec(w.Data)
	if err != nil {
		return w.ID, nil, fmt.Errorf("jobs: decode %s: %w", w.Kind, err)
	}
	return w.ID, job, nil
}
