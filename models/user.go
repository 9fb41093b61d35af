package models

// Viewer is the identity capability supplied by the account collaborator. An empty ID means
// the viewer is anonymous.
type Viewer struct {
	ID        string `json:"id,omitempty"`
	HasAccess bool   `json:"hasAccess"`
}

// Authenticated reports whether remote persistence applies to this viewer.
func (v Viewer) Authenticated() bool {
	return v.ID != ""
}

// Anonymous is the zero viewer.
var Anonymous = Viewer{}
