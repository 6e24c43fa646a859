// Package profile holds the per-patient consultation record: identity
// fields, the append-only conversation history, and the saved context
// exchanged with the inference backend.
package profile

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wenzhenlab/wenzhen/internal/jsonval"
)

// ContextProfileKey is the reserved saved-context key holding the local
// identity projection. Only the record itself writes it; server payloads
// never overwrite it.
const ContextProfileKey = "profile"

// Record is one patient's identity and session state. Identity fields
// are locally owned and mutable only through the Set* methods, which
// keep the reserved context key in sync.
type Record struct {
	ID        string         `json:"user_id"`
	Name      string         `json:"name"`
	Sex       string         `json:"sex"`
	Age       int            `json:"age"`
	History   []Message      `json:"history"`
	Context   jsonval.Object `json:"saved_context"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// New creates a record with a fresh ID, both timestamps set to now, and
// the identity projection seeded into the saved context.
func New(name, sex string, age int) *Record {
	now := nowMillis()
	r := &Record{
		ID:        NewID(),
		Name:      name,
		Sex:       sex,
		Age:       age,
		History:   []Message{},
		Context:   jsonval.Object{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.Context[ContextProfileKey] = r.identityValue()
	return r
}

// NewID generates a profile identifier in the profile_xxxxxxxx_xxxxxxxx
// format. UUID-derived, collision-free by construction.
func NewID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "profile_" + hex[:8] + "_" + hex[8:16]
}

// identityValue projects {name, sex, age} as a context value.
func (r *Record) identityValue() jsonval.Value {
	return jsonval.Obj(jsonval.Object{
		"name": jsonval.String(r.Name),
		"sex":  jsonval.String(r.Sex),
		"age":  jsonval.Int(int64(r.Age)),
	})
}

// syncIdentity rewrites the reserved context key from the current
// identity fields and bumps the update timestamp.
func (r *Record) syncIdentity() {
	if r.Context == nil {
		r.Context = jsonval.Object{}
	}
	r.Context[ContextProfileKey] = r.identityValue()
	r.UpdatedAt = nowMillis()
}

// SetName updates the name and re-projects identity into the context.
func (r *Record) SetName(name string) {
	r.Name = name
	r.syncIdentity()
}

// SetSex updates the sex and re-projects identity into the context.
func (r *Record) SetSex(sex string) {
	r.Sex = sex
	r.syncIdentity()
}

// SetAge updates the age and re-projects identity into the context.
func (r *Record) SetAge(age int) {
	r.Age = age
	r.syncIdentity()
}

// AppendUserMessage appends a user message with the current timestamp.
// Content is not validated here; the sending layer enforces the
// non-empty-or-has-image rule.
func (r *Record) AppendUserMessage(content string) {
	r.History = append(r.History, NewUserMessage(content))
	r.UpdatedAt = nowMillis()
}

// AppendAssistantMessage appends an assistant message with the current
// timestamp.
func (r *Record) AppendAssistantMessage(content string) {
	r.History = append(r.History, NewAssistantMessage(content))
	r.UpdatedAt = nowMillis()
}

// RemoveLastMessage drops the most recent history entry. Used to roll a
// failed turn back out of the durable log. No-op on empty history.
func (r *Record) RemoveLastMessage() {
	if len(r.History) == 0 {
		return
	}
	r.History = r.History[:len(r.History)-1]
	r.UpdatedAt = nowMillis()
}

// HistoryRounds returns the raw message count used against the history
// limit. One user turn and its reply count individually, so the
// practical cap in exchanges is half the configured maximum.
func (r *Record) HistoryRounds() int {
	return len(r.History)
}

// ClearHistory empties the conversation log. Saved context is untouched.
func (r *Record) ClearHistory() {
	r.History = []Message{}
	r.UpdatedAt = nowMillis()
}

// ClearContext empties the saved context and immediately re-seeds the
// reserved identity key, which is never left absent.
func (r *Record) ClearContext() {
	r.Context = jsonval.Object{}
	r.syncIdentity()
}

// MergeContext folds a server-supplied context payload into the saved
// context. Every incoming key overwrites or inserts, except the reserved
// identity key, which is always ignored: local identity is authoritative.
// An empty or nil payload is a no-op and does not bump the timestamp.
func (r *Record) MergeContext(incoming jsonval.Object) {
	if len(incoming) == 0 {
		return
	}
	if r.Context == nil {
		r.Context = jsonval.Object{}
	}
	for k, v := range incoming {
		if k == ContextProfileKey {
			continue
		}
		r.Context[k] = v.Clone()
	}
	r.UpdatedAt = nowMillis()
}

// Clone returns a deep copy of the record. Store reads hand out clones
// so caller mutation cannot reach the canonical set.
func (r *Record) Clone() *Record {
	out := *r
	out.History = make([]Message, len(r.History))
	copy(out.History, r.History)
	out.Context = r.Context.Clone()
	return &out
}

// DisplayName returns the name, or a placeholder when it is blank.
func (r *Record) DisplayName() string {
	if strings.TrimSpace(r.Name) == "" {
		return "未命名"
	}
	return r.Name
}

// GenderAgeDesc returns the "sex · N岁" list-row description.
func (r *Record) GenderAgeDesc() string {
	return r.Sex + " · " + strconv.Itoa(r.Age) + "岁"
}
