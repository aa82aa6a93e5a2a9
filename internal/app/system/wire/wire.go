// Package wire defines the JSON messages exchanged on a content channel.
//
// Every frame is an object with a "type" tag. Decode turns a frame into one
// of the concrete message structs below; handlers switch on the concrete
// type so that adding a kind forces every switch to be revisited.
package wire

import (
	"encoding/json"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind is the "type" tag of a frame.
type Kind string

const (
	KindPresence        Kind = "presence"
	KindOperation       Kind = "operation"
	KindContentUpdate   Kind = "content_update"
	KindCursorUpdate    Kind = "cursor_update"
	KindTitleUpdate     Kind = "title_update"
	KindSave            Kind = "save"
	KindCatchUp         Kind = "catchup"
	KindAck             Kind = "ack"
	KindError           Kind = "error"
	KindPresenceRemoved Kind = "presence_removed"
	KindPresenceList    Kind = "presence_list"
)

// Message is implemented by every frame type.
type Message interface {
	Kind() Kind
}

// Op is the wire form of an operation. Clients send drafts (no id, no
// appliedSequence); the server echoes stamped operations.
type Op struct {
	ID              string         `json:"id,omitempty"`
	ContentID       string         `json:"contentId,omitempty"`
	UserID          string         `json:"userId,omitempty"`
	Type            models.OpType  `json:"type"`
	Position        *int           `json:"position,omitempty"`
	Length          *int           `json:"length,omitempty"`
	Text            string         `json:"text,omitempty"`
	Version         int64          `json:"version"`
	AppliedSequence int64          `json:"appliedSequence,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
	ClientRef       string         `json:"clientRef,omitempty"`
	CreatedAt       *time.Time     `json:"createdAt,omitempty"`
}

// FromModel converts a stored operation.
func FromModel(o models.Operation) Op {
	w := Op{
		UserID:          o.UserID,
		Type:            o.Type,
		Position:        o.Position,
		Length:          o.Length,
		Text:            o.Text,
		Version:         o.Version,
		AppliedSequence: o.AppliedSequence,
		Meta:            o.Meta,
		ClientRef:       o.ClientRef,
	}
	if !o.ID.IsZero() {
		w.ID = o.ID.Hex()
	}
	if !o.ContentID.IsZero() {
		w.ContentID = o.ContentID.Hex()
	}
	if !o.CreatedAt.IsZero() {
		t := o.CreatedAt
		w.CreatedAt = &t
	}
	return w
}

// FromModels converts a slice of stored operations.
func FromModels(ops []models.Operation) []Op {
	out := make([]Op, 0, len(ops))
	for _, o := range ops {
		out = append(out, FromModel(o))
	}
	return out
}

// Draft converts a client op into an unstamped operation. Server-owned fields
// (id, contentId, userId, appliedSequence, createdAt) are ignored.
func (w Op) Draft() models.Operation {
	return models.Operation{
		Type:      w.Type,
		Position:  w.Position,
		Length:    w.Length,
		Text:      w.Text,
		Version:   w.Version,
		Meta:      w.Meta,
		ClientRef: w.ClientRef,
	}
}

// ToModel converts a stamped wire op back to the stored form. Used by the
// cross-node relay.
func (w Op) ToModel() (models.Operation, error) {
	o := w.Draft()
	o.UserID = w.UserID
	o.AppliedSequence = w.AppliedSequence
	if w.CreatedAt != nil {
		o.CreatedAt = *w.CreatedAt
	}
	var err error
	if w.ID != "" {
		if o.ID, err = primitive.ObjectIDFromHex(w.ID); err != nil {
			return models.Operation{}, err
		}
	}
	if w.ContentID != "" {
		if o.ContentID, err = primitive.ObjectIDFromHex(w.ContentID); err != nil {
			return models.Operation{}, err
		}
	}
	return o, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Frames                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

// Presence announces a session, or updates it.
type Presence struct {
	UserID       string `json:"userId"`
	Name         string `json:"name,omitempty"`
	Color        string `json:"color,omitempty"`
	Permission   string `json:"permission,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	State        string `json:"state,omitempty"`
	Cursor       *int   `json:"cursor,omitempty"`
}

// Operation carries one op. From clients it is a draft; from the server it
// is the stamped operation of another session.
type Operation struct {
	Ref    string `json:"ref,omitempty"`
	UserID string `json:"userId,omitempty"`
	Op     *Op    `json:"op"`
}

// ContentUpdate is the legacy name for Operation. Whole-document
// replacement through Content is refused; only Op is honoured.
type ContentUpdate struct {
	Ref     string  `json:"ref,omitempty"`
	UserID  string  `json:"userId,omitempty"`
	Op      *Op     `json:"op,omitempty"`
	Content *string `json:"content,omitempty"`
}

// AsOperation converts the legacy frame.
func (c ContentUpdate) AsOperation() (Operation, error) {
	if c.Content != nil {
		return Operation{}, syncerr.E(syncerr.InvalidOperation, "whole-content replacement is not accepted; send operations")
	}
	if c.Op == nil {
		return Operation{}, syncerr.E(syncerr.InvalidOperation, "content_update without op")
	}
	return Operation{Ref: c.Ref, UserID: c.UserID, Op: c.Op}, nil
}

// CursorUpdate moves a caret (Length nil) or selection.
type CursorUpdate struct {
	Ref      string `json:"ref,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Position int    `json:"position"`
	Length   *int   `json:"length,omitempty"`
}

// TitleUpdate renames the content item.
type TitleUpdate struct {
	Ref    string `json:"ref,omitempty"`
	UserID string `json:"userId,omitempty"`
	Title  string `json:"title"`
}

// Save asks for an explicit checkpoint.
type Save struct {
	Ref string `json:"ref,omitempty"`
}

// CatchUp is both the request (LastSeq) and the response (Operations,
// LastSequence).
type CatchUp struct {
	Ref          string `json:"ref,omitempty"`
	LastSeq      int64  `json:"lastSeq"`
	Operations   []Op   `json:"operations,omitempty"`
	LastSequence int64  `json:"lastSequence,omitempty"`
}

// Ack confirms a client request identified by Ref.
type Ack struct {
	Ref       string `json:"ref,omitempty"`
	Op        *Op    `json:"op,omitempty"`
	Version   int64  `json:"version,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// Error reports a rejected request.
type Error struct {
	Ref       string `json:"ref,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// PresenceRemoved announces that a session left or was evicted.
type PresenceRemoved struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

// PresenceList is sent to a session right after it joins.
type PresenceList struct {
	Sessions []Presence `json:"sessions"`
}

func (Presence) Kind() Kind        { return KindPresence }
func (Operation) Kind() Kind       { return KindOperation }
func (ContentUpdate) Kind() Kind   { return KindContentUpdate }
func (CursorUpdate) Kind() Kind    { return KindCursorUpdate }
func (TitleUpdate) Kind() Kind     { return KindTitleUpdate }
func (Save) Kind() Kind            { return KindSave }
func (CatchUp) Kind() Kind         { return KindCatchUp }
func (Ack) Kind() Kind             { return KindAck }
func (Error) Kind() Kind           { return KindError }
func (PresenceRemoved) Kind() Kind { return KindPresenceRemoved }
func (PresenceList) Kind() Kind    { return KindPresenceList }

// ErrorFrom builds an Error frame from any error using the syncerr taxonomy.
func ErrorFrom(ref string, err error) Error {
	return Error{
		Ref:       ref,
		Code:      syncerr.Code(err),
		Message:   syncerr.Message(err),
		Retryable: syncerr.Retryable(err),
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Codec                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// Decode parses a client frame. Server-only kinds (ack, error,
// presence_removed, presence_list) are rejected.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, syncerr.E(syncerr.Invalid, "malformed frame: %v", err)
	}

	var m Message
	var err error
	switch head.Type {
	case KindPresence:
		var v Presence
		err = json.Unmarshal(data, &v)
		m = v
	case KindOperation:
		var v Operation
		err = json.Unmarshal(data, &v)
		if err == nil && v.Op == nil {
			return nil, syncerr.E(syncerr.InvalidOperation, "operation frame without op")
		}
		m = v
	case KindContentUpdate:
		var v ContentUpdate
		err = json.Unmarshal(data, &v)
		m = v
	case KindCursorUpdate:
		var v CursorUpdate
		err = json.Unmarshal(data, &v)
		m = v
	case KindTitleUpdate:
		var v TitleUpdate
		err = json.Unmarshal(data, &v)
		m = v
	case KindSave:
		var v Save
		err = json.Unmarshal(data, &v)
		m = v
	case KindCatchUp:
		var v CatchUp
		err = json.Unmarshal(data, &v)
		m = v
	case "":
		return nil, syncerr.E(syncerr.Invalid, "frame without type")
	default:
		return nil, syncerr.E(syncerr.Invalid, "unsupported frame type %q", head.Type)
	}
	if err != nil {
		return nil, syncerr.E(syncerr.Invalid, "malformed %s frame: %v", head.Type, err)
	}
	return m, nil
}

// Encode renders m with its "type" tag.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(m.Kind())
	fields["type"] = tag
	return json.Marshal(fields)
}

// MustEncode is Encode for frames built by the server, which always marshal.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic("wire: encode " + string(m.Kind()) + ": " + err.Error())
	}
	return b
}
