package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lattice-fl/lattice/pkg/auth"
)

// UserFile is the YAML shape of the user config file named in spec §6.
// PasswordHash entries are bcrypt hashes, never plaintext — operators
// produce them with the lattice-server `hash-password` subcommand
// (see cmd/lattice-server).
type UserFile struct {
	Users []UserFileEntry `yaml:"users"`
}

// UserFileEntry is one row of UserFile.
type UserFileEntry struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"` // "server", "client", or "observer"
}

// LoadUserFile reads and parses a user YAML file.
func LoadUserFile(path string) (UserFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UserFile{}, fmt.Errorf("config: read user file %s: %w", path, err)
	}
	var f UserFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return UserFile{}, fmt.Errorf("config: parse user file %s: %w", path, err)
	}
	return f, nil
}

// ApplyUserFile registers every user in f into store via AddUser
// (password hashes are loaded as-is, never re-hashed).
func ApplyUserFile(store *auth.Store, f UserFile) error {
	for _, u := range f.Users {
		role, err := parseRole(u.Role)
		if err != nil {
			return fmt.Errorf("config: user %q: %w", u.Username, err)
		}
		store.AddUser(u.Username, u.PasswordHash, role)
	}
	return nil
}

func parseRole(s string) (auth.Role, error) {
	switch auth.Role(s) {
	case auth.RoleServer, auth.RoleClient, auth.RoleObserver:
		return auth.Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}
