package domain

// SubjectType differentiates who acted: an end user, support staff or the
// autonomous agent.
type SubjectType string

const (
	SubjectTypeUser  SubjectType = "USER"
	SubjectTypeStaff SubjectType = "STAFF"
	SubjectTypeAgent SubjectType = "AGENT"
)
