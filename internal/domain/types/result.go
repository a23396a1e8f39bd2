package types

// MessageState is the outcome of attempting to decrypt one envelope.
type MessageState int

const (
	StateDecryptedOK MessageState = iota + 1
	StateInvalidVersion
	StateLegacyMessage
	StateDuplicateMessage
	StateUnsupportedDataMessage
	StateNoop
)

func (s MessageState) String() string {
	switch s {
	case StateDecryptedOK:
		return "DECRYPTED_OK"
	case StateInvalidVersion:
		return "INVALID_VERSION"
	case StateLegacyMessage:
		return "LEGACY_MESSAGE"
	case StateDuplicateMessage:
		return "DUPLICATE_MESSAGE"
	case StateUnsupportedDataMessage:
		return "UNSUPPORTED_DATA_MESSAGE"
	case StateNoop:
		return "NOOP"
	default:
		return "UNKNOWN"
	}
}

// IsError reports whether the state must carry ExceptionMetadata.
func (s MessageState) IsError() bool {
	switch s {
	case StateInvalidVersion, StateLegacyMessage, StateDuplicateMessage, StateUnsupportedDataMessage:
		return true
	}
	return false
}

// ExceptionMetadata attributes an error state to a sender.
type ExceptionMetadata struct {
	Sender       Username
	SenderDevice DeviceID
	GroupID      GroupID
}

// Job is a side effect produced by the pipeline and run by a job queue.
type Job interface {
	// Kind is the stable factory key used to serialise and dispatch the job.
	Kind() string
	// Queue orders jobs: jobs sharing a queue run one at a time in enqueue order.
	Queue() string
}

// DecryptionResult is created fresh for each envelope and handed to the
// processor. Use ForSuccess, ForError or ForNoop to build one.
type DecryptionResult struct {
	State     MessageState
	Content   *Content
	Exception *ExceptionMetadata
	Jobs      []Job
}

// ForSuccess wraps decrypted content.
func ForSuccess(content Content, jobs []Job) DecryptionResult {
	return DecryptionResult{State: StateDecryptedOK, Content: &content, Jobs: jobs}
}

// ForError records an error state attributed to meta.
func ForError(state MessageState, meta ExceptionMetadata, jobs []Job) DecryptionResult {
	return DecryptionResult{State: state, Exception: &meta, Jobs: jobs}
}

// ForNoop produces a result with nothing to store.
func ForNoop(jobs []Job) DecryptionResult {
	return DecryptionResult{State: StateNoop, Jobs: jobs}
}
