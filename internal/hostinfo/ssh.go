package hostinfo

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig holds the login used to read a BPM's interface address from
// its own sysfs.
type SSHConfig struct {
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	KeyPath   string `yaml:"key_path"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
}

// SSHResolver runs "cat /sys/class/net/<iface>/address" on the target.
type SSHResolver struct {
	mu      sync.Mutex
	cfg     SSHConfig
	clients map[string]*ssh.Client
}

// NewSSHResolver fills defaults (root, port 22, eth0).
func NewSSHResolver(cfg SSHConfig) *SSHResolver {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Interface == "" {
		cfg.Interface = "eth0"
	}
	return &SSHResolver{cfg: cfg, clients: map[string]*ssh.Client{}}
}

func (r *SSHResolver) MAC(ctx context.Context, host string) (string, error) {
	client, err := r.dial(ctx, host)
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	out, err := session.Output("cat " + shellQuote(r.addressPath()))
	if err != nil {
		return "", fmt.Errorf("read interface address via ssh: %w", err)
	}
	mac := ParseMAC(string(out))
	if mac == "" {
		return "", fmt.Errorf("%s: %w", host, ErrNotFound)
	}
	return mac, nil
}

func (r *SSHResolver) addressPath() string {
	return "/sys/class/net/" + r.cfg.Interface + "/address"
}

func (r *SSHResolver) dial(ctx context.Context, host string) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[host]; ok {
		return c, nil
	}

	auth := []ssh.AuthMethod{}
	if r.cfg.Password != "" {
		auth = append(auth, ssh.Password(r.cfg.Password))
	}
	if r.cfg.KeyPath != "" {
		key, err := os.ReadFile(r.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(r.cfg.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	c := ssh.NewClient(clientConn, chans, reqs)
	r.clients[host] = c
	return c, nil
}

// Close drops every cached connection.
func (r *SSHResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for host, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.clients, host)
	}
	return firstErr
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
