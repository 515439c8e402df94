package models

/**
 * Repository account whose private key signs authentication challenges
 * @property {string} username - Account name registered at the repository
 * @property {string} email - Contact address sent at registration
 * @property {string} keyFile - Path of the private key file
 * @property {string} repo - Alias of the repository the account belongs to
 */
type LocalAccount struct {
	Username string `json:"username" yaml:"username"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	KeyFile  string `json:"keyFile" yaml:"keyFile"`
	Repo     string `json:"repo" yaml:"repo"`
}
