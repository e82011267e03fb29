package models

// Partition is the (user, space) key scoping a task collection. An empty
// SpaceID addresses every task the user owns regardless of space, which is
// how pre-space documents are found during migration.
type Partition struct {
	UserID  string
	SpaceID string
}
