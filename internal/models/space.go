package models

// DefaultSpaceName is the name given to the space created for a user who has
// none.
const DefaultSpaceName = "Personal"

// Space is a named task list partition. Every user has at least one.
type Space struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	CreatedAt int64   `json:"createdAt"` // unix milliseconds
	Order     float64 `json:"order"`

	// UserID is the owning partition key, kept out of the document body.
	UserID string `json:"-"`
}
