package models

import "time"

// User is the identity-directory projection the engine reads: the contact
// address per channel plus the attributes segmentation evaluates. The
// directory itself is owned by the surrounding application.
type User struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`

	BranchID     int64    `json:"branch_id,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	MemberStatus string   `json:"member_status,omitempty"`

	AttendanceCount int    `json:"attendance_count"`
	IsRegularGiver  bool   `json:"is_regular_giver"`
	TotalGiven      int64  `json:"total_given"`
	IsVolunteer     bool   `json:"is_volunteer"`
	Age             int    `json:"age,omitempty"`
	Location        string `json:"location,omitempty"`
	MaritalStatus   string `json:"marital_status,omitempty"`
	HasChildren     bool   `json:"has_children"`

	GlobalOptOut bool `json:"global_opt_out"`
	IsActive     bool `json:"is_active"`

	JoinedAt    time.Time  `json:"joined_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// FullName returns the display name, falling back to the email local
// part when the profile carries no name.
func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name != "" {
		return name
	}
	for i, c := range u.Email {
		if c == '@' {
			return u.Email[:i]
		}
	}
	return u.Email
}

// AddressFor returns the contact address for a channel kind. An empty
// return means the user cannot be addressed on that channel.
func (u *User) AddressFor(kind string) string {
	switch kind {
	case ChannelEmail:
		return u.Email
	case ChannelSMS, ChannelChat:
		return u.Phone
	case ChannelPush:
		return u.DeviceToken
	case ChannelInApp:
		if u.ID > 0 {
			return u.Email // in-app messages are keyed by user, any identity works
		}
		return ""
	default:
		return ""
	}
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
