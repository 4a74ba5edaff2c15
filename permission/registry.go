package permission

import (
	"sort"
	"strings"
)

// Name is a symbolic, platform-independent permission name such as CAMERA
type Name string

// PlatformID is the platform-native identifier for a permission
type PlatformID string

// Unknown is returned by Resolve for names missing from the registry
const Unknown PlatformID = ""

// Registry maps symbolic names to platform identifiers. It is immutable once built.
type Registry struct {
	ids   map[Name]PlatformID
	names map[PlatformID]Name
}

// NewRegistry builds a registry from a copy of ids
func NewRegistry(ids map[Name]PlatformID) *Registry {
	r := &Registry{
		ids:   make(map[Name]PlatformID, len(ids)),
		names: make(map[PlatformID]Name, len(ids)),
	}
	for name, id := range ids {
		r.add(name, id)
	}
	return r
}

func (r *Registry) add(name Name, id PlatformID) {
	if name == "" || id == Unknown {
		return
	}
	r.ids[name] = id
	r.names[id] = name
}

// With returns a new registry holding r's entries plus extra. Entries in extra win.
func (r *Registry) With(extra map[Name]PlatformID) *Registry {
	merged := NewRegistry(r.ids)
	for name, id := range extra {
		merged.add(name, id)
	}
	return merged
}

// Resolve returns the platform identifier for name, or Unknown
func (r *Registry) Resolve(name Name) PlatformID {
	if id, ok := r.ids[name]; ok {
		return id
	}
	return Unknown
}

// ResolveAll resolves every name, keeping Unknown entries in place
func (r *Registry) ResolveAll(names []Name) []PlatformID {
	ids := make([]PlatformID, len(names))
	for i, name := range names {
		ids[i] = r.Resolve(name)
	}
	return ids
}

// Lookup returns the symbolic name registered for id
func (r *Registry) Lookup(id PlatformID) (Name, bool) {
	name, ok := r.names[id]
	return name, ok
}

// Names returns every registered name in sorted order
func (r *Registry) Names() []Name {
	out := make([]Name, 0, len(r.ids))
	for name := range r.ids {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered names
func (r *Registry) Len() int {
	return len(r.ids)
}

// ParseNames converts raw strings to names, trimming surrounding whitespace
func ParseNames(raw []string) []Name {
	names := make([]Name, len(raw))
	for i, s := range raw {
		names[i] = Name(strings.TrimSpace(s))
	}
	return names
}

// DefaultRegistry returns the Android runtime permission table
func DefaultRegistry() *Registry {
	return NewRegistry(map[Name]PlatformID{
		// Calendar
		"READ_CALENDAR":  "android.permission.READ_CALENDAR",
		"WRITE_CALENDAR": "android.permission.WRITE_CALENDAR",
		// Camera
		"CAMERA": "android.permission.CAMERA",
		// Contacts
		"READ_CONTACTS":  "android.permission.READ_CONTACTS",
		"WRITE_CONTACTS": "android.permission.WRITE_CONTACTS",
		"GET_ACCOUNTS":   "android.permission.GET_ACCOUNTS",
		// Location
		"ACCESS_FINE_LOCATION":   "android.permission.ACCESS_FINE_LOCATION",
		"ACCESS_COARSE_LOCATION": "android.permission.ACCESS_COARSE_LOCATION",
		// Microphone
		"RECORD_AUDIO": "android.permission.RECORD_AUDIO",
		// Phone
		"READ_PHONE_STATE":       "android.permission.READ_PHONE_STATE",
		"READ_PHONE_NUMBERS":     "android.permission.READ_PHONE_NUMBERS",
		"CALL_PHONE":             "android.permission.CALL_PHONE",
		"ANSWER_PHONE_CALLS":     "android.permission.ANSWER_PHONE_CALLS",
		"READ_CALL_LOG":          "android.permission.READ_CALL_LOG",
		"WRITE_CALL_LOG":         "android.permission.WRITE_CALL_LOG",
		"ADD_VOICEMAIL":          "com.android.voicemail.permission.ADD_VOICEMAIL",
		"USE_SIP":                "android.permission.USE_SIP",
		"PROCESS_OUTGOING_CALLS": "android.permission.PROCESS_OUTGOING_CALLS",
		// Sensors
		"BODY_SENSORS": "android.permission.BODY_SENSORS",
		// SMS
		"SEND_SMS":         "android.permission.SEND_SMS",
		"RECEIVE_SMS":      "android.permission.RECEIVE_SMS",
		"READ_SMS":         "android.permission.READ_SMS",
		"RECEIVE_WAP_PUSH": "android.permission.RECEIVE_WAP_PUSH",
		"RECEIVE_MMS":      "android.permission.RECEIVE_MMS",
		// Storage
		"READ_EXTERNAL_STORAGE":  "android.permission.READ_EXTERNAL_STORAGE",
		"WRITE_EXTERNAL_STORAGE": "android.permission.WRITE_EXTERNAL_STORAGE",
	})
}
