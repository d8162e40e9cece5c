package models

// Folder is a namespace node. Its path is never stored; it is computed from
// the ancestor chain on read so renames and moves cannot leave it stale.
type Folder struct {
	Item `bson:",inline"`

	Color string `bson:"color,omitempty" json:"color,omitempty"`
	Path  string `bson:"-" json:"path,omitempty"`
}
