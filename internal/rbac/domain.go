package rbac

import "time"

// Role groups permissions under a name.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a single named capability.
type Permission struct {
	ID          int64
	Name        string
	Description string
}
