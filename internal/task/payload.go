package task

// Kind tags the payload variant of a task.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindVideo    Kind = "video"
	KindOther    Kind = "other"
)

// known reports whether the kind is one of the handled variants.
func (k Kind) known() bool {
	switch k {
	case KindText, KindPhoto, KindDocument, KindVideo, KindOther:
		return true
	}
	return false
}

// Normalize maps unknown kinds to KindOther so a malformed record
// renders as unhandled content instead of failing.
func (k Kind) Normalize() Kind {
	if !k.known() {
		return KindOther
	}
	return k
}

// Payload is the tagged message content of a task. Text tasks carry a
// body; attachment tasks carry an attachment reference plus an
// optional caption.
type Payload struct {
	Kind       Kind   `json:"kind"`
	Text       string `json:"text,omitempty"`
	Attachment string `json:"attachment,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

// TextPayload builds a plain text payload.
func TextPayload(body string) Payload {
	return Payload{Kind: KindText, Text: body}
}
