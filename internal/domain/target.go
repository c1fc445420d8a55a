package domain

// TargetType selects how a dispatch target resolves to recipients.
type TargetType string

// Target types.
const (
	TargetUser      TargetType = "user"
	TargetTeam      TargetType = "team"
	TargetBroadcast TargetType = "broadcast"
)

// Target is a logical dispatch destination: a single user, every member of a
// team, or every known user. Resolution to concrete user ids happens in the
// composer; no delivery logic depends on the target shape.
type Target struct {
	Type   TargetType `json:"type" validate:"required,oneof=user team broadcast"`
	UserID string     `json:"user_id,omitempty"`
	TeamID string     `json:"team_id,omitempty"`
}
