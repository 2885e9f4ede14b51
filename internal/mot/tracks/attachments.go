package tracks

import (
	"fmt"
	"slices"
	"strings"
)

// AttachmentKind classifies metadata hanging off a detection.
type AttachmentKind int

const (
	KindClassification AttachmentKind = iota
	KindLandmarks
	KindDepthMask
	KindClassMask
	KindMatrix
	KindUniqueID
	KindUserMeta
)

var kindNames = map[AttachmentKind]string{
	KindClassification: "classification",
	KindLandmarks:      "landmarks",
	KindDepthMask:      "depth_mask",
	KindClassMask:      "class_mask",
	KindMatrix:         "matrix",
	KindUniqueID:       "unique_id",
	KindUserMeta:       "user_meta",
}

func (k AttachmentKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseAttachmentKind maps a config name such as "depth_mask" to its kind.
func ParseAttachmentKind(name string) (AttachmentKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, s := range kindNames {
		if s == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown attachment kind %q", name)
}

// Attachment is one piece of auxiliary metadata. Value is opaque to the
// tracker.
type Attachment struct {
	Kind  AttachmentKind
	Value any
}

// AttachmentID indexes an Attachment inside an Arena.
type AttachmentID uint64

// Arena owns every attachment referenced by the tracks of one engine.
// Tracks hold ids only; entries that no live track references are dropped
// by Retain at the end of each frame. Not safe for concurrent use.
type Arena struct {
	items map[AttachmentID]Attachment
	next  AttachmentID
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{items: make(map[AttachmentID]Attachment), next: 1}
}

// Add stores att and returns its id.
func (a *Arena) Add(att Attachment) AttachmentID {
	id := a.next
	a.next++
	a.items[id] = att
	return id
}

// Get looks up a single attachment.
func (a *Arena) Get(id AttachmentID) (Attachment, bool) {
	att, ok := a.items[id]
	return att, ok
}

// Resolve returns the attachments for ids in order, skipping stale ids.
func (a *Arena) Resolve(ids []AttachmentID) []Attachment {
	if len(ids) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(ids))
	for _, id := range ids {
		if att, ok := a.items[id]; ok {
			out = append(out, att)
		}
	}
	return out
}

// Retain drops every entry not present in live and returns how many were
// dropped.
func (a *Arena) Retain(live map[AttachmentID]struct{}) int {
	dropped := 0
	for id := range a.items {
		if _, ok := live[id]; !ok {
			delete(a.items, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of stored attachments.
func (a *Arena) Len() int { return len(a.items) }

// Reset empties the arena. Ids are not reused.
func (a *Arena) Reset() {
	a.items = make(map[AttachmentID]Attachment)
}

// AttachmentFilter decides which attachments may follow a track from one
// observation to the next.
type AttachmentFilter interface {
	Keep(att Attachment) bool
}

// KindBlacklist rejects attachments whose kind is in the set.
type KindBlacklist map[AttachmentKind]struct{}

// NewKindBlacklist builds a blacklist from kinds.
func NewKindBlacklist(kinds ...AttachmentKind) KindBlacklist {
	b := make(KindBlacklist, len(kinds))
	for _, k := range kinds {
		b[k] = struct{}{}
	}
	return b
}

// DefaultBlacklist covers metadata that cannot be re-projected onto a
// moving box.
func DefaultBlacklist() KindBlacklist {
	return NewKindBlacklist(KindLandmarks, KindDepthMask, KindClassMask)
}

// Keep implements AttachmentFilter.
func (b KindBlacklist) Keep(att Attachment) bool {
	_, blocked := b[att.Kind]
	return !blocked
}

// Kinds returns the blacklisted kinds in ascending order.
func (b KindBlacklist) Kinds() []AttachmentKind {
	out := make([]AttachmentKind, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// AttachmentPolicy carries attachments across re-association.
type AttachmentPolicy struct {
	Arena    *Arena
	Filter   AttachmentFilter
	KeepPast bool
}

// Ingest stores the attachments of a fresh detection, dropping those the
// filter rejects.
func (p AttachmentPolicy) Ingest(atts []Attachment) []AttachmentID {
	var ids []AttachmentID
	for _, att := range atts {
		if p.Filter != nil && !p.Filter.Keep(att) {
			continue
		}
		ids = append(ids, p.Arena.Add(att))
	}
	return ids
}

// Merge returns the attachment list for a track that moved from an old
// observation to a new one. With KeepPast, old attachments the filter
// accepts are carried over unless the new observation already has one of
// the same kind.
func (p AttachmentPolicy) Merge(old, next []AttachmentID) []AttachmentID {
	if !p.KeepPast || len(old) == 0 {
		return next
	}
	present := make(map[AttachmentKind]struct{}, len(next))
	for _, att := range p.Arena.Resolve(next) {
		present[att.Kind] = struct{}{}
	}

	merged := slices.Clone(next)
	for _, id := range old {
		att, ok := p.Arena.Get(id)
		if !ok {
			continue
		}
		if p.Filter != nil && !p.Filter.Keep(att) {
			continue
		}
		if _, dup := present[att.Kind]; dup {
			continue
		}
		merged = append(merged, id)
	}
	return merged
}
