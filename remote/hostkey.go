package remote

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// trustOnFirstUse checks host keys against the known_hosts file. Unknown hosts are accepted
// and recorded. A missing known_hosts file is not an error. A changed key of a known host is rejected.
type trustOnFirstUse struct {
	mutex sync.Mutex
	path  string
}

func (t *trustOnFirstUse) callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, err := os.Stat(t.path); err == nil {
		check, err := knownhosts.New(t.path)
		if err != nil {
			log.Printf("remote: Error loading known hosts %s: %s", t.path, err)
		} else {
			err = check(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if !errors.As(err, &keyErr) {
				return err
			}
			if len(keyErr.Want) > 0 {
				return fmt.Errorf("host key for %s does not match %s: %w", hostname, t.path, err)
			}
		}
	}

	log.Printf("remote: Trusting new host key for %s (%s)", hostname, ssh.FingerprintSHA256(key))
	if err := t.record(hostname, key); err != nil {
		log.Printf("remote: Could not record host key: %s", err)
	}
	return nil
}

func (t *trustOnFirstUse) record(hostname string, key ssh.PublicKey) error {
	err := os.MkdirAll(filepath.Dir(t.path), 0700)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key) + "\n")
	return err
}
