package structs

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	PublicFlags   int    `json:"public_flags"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
	GlobalName    string `json:"global_name,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}
