package domain

// User is the view of a user record this service receives from the external
// user directory. Credentials never appear here; the directory verifies
// passwords on its side of the wire.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Verified bool     `json:"verified"`
}
