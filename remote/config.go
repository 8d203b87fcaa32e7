package remote

import (
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
)

const defaultPort = "22"

// default identity files tried when the host has no IdentityFile entry
var defaultIdentityFiles = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}

// HostConfig holds the connection parameters of a host alias
type HostConfig struct {
	Alias         string
	HostName      string
	User          string
	Port          string
	IdentityFiles []string
	// FromConfig is true if the alias was found in the ssh config file
	FromConfig bool
}

// Addr returns the host:port to dial
func (h *HostConfig) Addr() string {
	return h.HostName + ":" + h.Port
}

// Resolve looks up the alias in the per-user ssh config. If the config file does not exist,
// the alias is taken as a literal hostname.
func (d *Dialer) Resolve(alias string) (*HostConfig, error) {
	if alias == "" {
		return nil, fmt.Errorf("empty host alias")
	}
	host := &HostConfig{
		Alias:    alias,
		HostName: alias,
		Port:     defaultPort,
	}

	f, err := os.Open(d.ConfigPath)
	if os.IsNotExist(err) {
		log.Printf("remote: No ssh config at %s. Trying direct connection to %s", d.ConfigPath, alias)
	} else if err != nil {
		return nil, fmt.Errorf("error opening ssh config: %w", err)
	} else {
		defer f.Close()
		cfg, err := ssh_config.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("error parsing ssh config %s: %w", d.ConfigPath, err)
		}
		if v, _ := cfg.Get(alias, "HostName"); v != "" {
			host.HostName = v
			host.FromConfig = true
		}
		if v, _ := cfg.Get(alias, "User"); v != "" {
			host.User = v
			host.FromConfig = true
		}
		if v, _ := cfg.Get(alias, "Port"); v != "" {
			host.Port = v
		}
		files, _ := cfg.GetAll(alias, "IdentityFile")
		for _, file := range files {
			if file != "" {
				host.IdentityFiles = append(host.IdentityFiles, file)
			}
		}
	}

	if host.User == "" {
		host.User = currentUser()
	}
	if len(host.IdentityFiles) == 0 {
		host.IdentityFiles = append([]string(nil), defaultIdentityFiles...)
	}
	for i := range host.IdentityFiles {
		host.IdentityFiles[i] = expandHome(host.IdentityFiles[i])
	}
	return host, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
