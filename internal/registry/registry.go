// Package registry owns the fleet roster: server descriptors and their
// JSON file persistence.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/perchlabs/perch/internal/errors"
)

// Server describes one managed host. Instances are passed around by
// value: a descriptor handed to the pool or collector is a snapshot,
// never a live reference into the store.
type Server struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	User     string   `json:"user"`
	Password string   `json:"password,omitempty"`
	KeyPath  string   `json:"key_path,omitempty"`
	Pm2User  string   `json:"pm2_user,omitempty"`
	Pm2Home  string   `json:"pm2_home,omitempty"`
	Tags     []string `json:"tags"`
	Enabled  bool     `json:"enabled"`
}

// DisplayName returns the configured name, falling back to the host.
func (s Server) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Host
}

// Public returns a copy safe to hand to API consumers: the password is
// stripped, everything else is as stored.
func (s Server) Public() Server {
	s.Password = ""
	return s
}

// ServerInput carries the fields an operator supplies when registering
// a host. Zero port and user get the usual SSH defaults.
type ServerInput struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string
	Pm2User  string
	Pm2Home  string
	Tags     []string
	Enabled  bool
}

// NewServer mints a Server from operator input, assigning a fresh id
// and filling connection defaults.
func NewServer(input ServerInput) Server {
	port := input.Port
	if port == 0 {
		port = 22
	}
	user := input.User
	if user == "" {
		user = "root"
	}
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}
	return Server{
		ID:       uuid.NewString(),
		Name:     input.Name,
		Host:     input.Host,
		Port:     port,
		User:     user,
		Password: input.Password,
		KeyPath:  input.KeyPath,
		Pm2User:  input.Pm2User,
		Pm2Home:  input.Pm2Home,
		Tags:     tags,
		Enabled:  input.Enabled,
	}
}

// Store persists the roster as a JSON array on disk. All mutations are
// serialized through the store's lock and written atomically (temp file
// plus rename), so a crash mid-save never corrupts the registry.
type Store struct {
	mu      sync.Mutex
	path    string
	servers []Server
}

// Load opens the registry at path. A missing or empty file is an empty
// fleet; a file that exists but doesn't parse is a hard error, since
// silently dropping registered servers would be worse than refusing to
// start.
func Load(path string) (*Store, error) {
	store := &Store{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistry,
			fmt.Sprintf("Can't read server registry %s", path),
			"Check file permissions.")
	}
	if len(raw) == 0 {
		return store, nil
	}

	var servers []Server
	if err := json.Unmarshal(raw, &servers); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistry,
			fmt.Sprintf("Server registry %s is corrupt", path),
			"Fix or remove the file, then restart.")
	}
	store.servers = servers
	return store, nil
}

// List returns a copy of every registered server.
func (s *Store) List() []Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Server, len(s.servers))
	copy(out, s.servers)
	return out
}

// Get returns the server with the given id.
func (s *Store) Get(id string) (Server, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, server := range s.servers {
		if server.ID == id {
			return server, true
		}
	}
	return Server{}, false
}

// Add appends a server, rejecting duplicates of (host, port, user).
func (s *Store) Add(server Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.servers {
		if existing.Host == server.Host && existing.Port == server.Port && existing.User == server.User {
			return errors.New(errors.ErrRegistry,
				fmt.Sprintf("Server already registered for %s@%s:%d", server.User, server.Host, server.Port),
				"Remove the existing entry first, or register a different login.")
		}
	}
	s.servers = append(s.servers, server)
	return s.saveLocked()
}

// SetEnabled flips a server's enabled flag.
func (s *Store) SetEnabled(id string, enabled bool) (Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.servers {
		if s.servers[i].ID == id {
			s.servers[i].Enabled = enabled
			if err := s.saveLocked(); err != nil {
				return Server{}, err
			}
			return s.servers[i], nil
		}
	}
	return Server{}, errors.New(errors.ErrServer,
		fmt.Sprintf("No server with id %s", id),
		"List registered servers with GET /api/servers.")
}

// Remove deletes a server from the roster.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.servers {
		if s.servers[i].ID == id {
			s.servers = append(s.servers[:i], s.servers[i+1:]...)
			return s.saveLocked()
		}
	}
	return errors.New(errors.ErrServer,
		fmt.Sprintf("No server with id %s", id),
		"List registered servers with GET /api/servers.")
}

// saveLocked writes the roster atomically. Callers hold s.mu.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrRegistry,
			"Can't create registry directory",
			"Check permissions on the data directory.")
	}

	payload, err := json.MarshalIndent(s.servers, "", "  ")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrRegistry,
			"Can't encode server registry", "")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrRegistry,
			fmt.Sprintf("Can't write %s", tmp),
			"Check permissions on the data directory.")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.WrapWithCode(err, errors.ErrRegistry,
			fmt.Sprintf("Can't replace %s", s.path),
			"Check permissions on the data directory.")
	}
	return nil
}
