package models

// Task represents a single task item. Optional fields use their zero value
// for "absent" and carry omitempty tags so the document store never receives
// an explicit null for an unset field.
type Task struct {
	ID            string   `json:"id"`
	SpaceID       string   `json:"spaceId,omitempty"`
	Text          string   `json:"text"`
	Description   string   `json:"description,omitempty"`
	Completed     bool     `json:"completed"`
	CreatedAt     int64    `json:"createdAt"` // unix milliseconds
	Order         *float64 `json:"order,omitempty"`
	ParentID      string   `json:"parentId,omitempty"`
	Source        string   `json:"source,omitempty"`
	IsFrog        bool     `json:"isFrog,omitempty"`
	ScheduledDate string   `json:"scheduledDate,omitempty"` // YYYY-MM-DD

	// UserID is the owning partition key. It lives in the store's document
	// path, not in the document body, so it is excluded from serialization.
	UserID string `json:"-"`
}

// EffectiveOrder returns the sort key for the task: the explicit order value
// when set, otherwise the creation timestamp.
func (t Task) EffectiveOrder() float64 {
	if t.Order != nil {
		return *t.Order
	}
	return float64(t.CreatedAt)
}

// IsSubtask reports whether the task belongs to a parent task.
func (t Task) IsSubtask() bool {
	return t.ParentID != ""
}

// WithOrder returns a copy of the task with the given explicit order value.
func (t Task) WithOrder(order float64) Task {
	t.Order = &order
	return t
}
