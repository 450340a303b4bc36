// Package storageconn implements the "storage" connector type: a
// WebDAV file share used both as a generic file store and as a
// vCard-backed contacts directory. It has no teacher-code precedent —
// built fresh from the go-webdav/go-vcard client APIs already present
// in the module's dependency stack, in the style of the other
// connector packages (own state, own capability set, dispatched
// through the same connector.Driver contract).
package storageconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
	"github.com/nugget/integration-hub/internal/eventbus"
	"github.com/nugget/integration-hub/internal/httpkit"
)

var fileCapability = capability.Definition{
	ID:                 "storage:file",
	Operations:         []capability.Operation{capability.OpList, capability.OpRead, capability.OpWrite},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"path":    {Type: "string", Required: true},
		"content": {Type: "string", Required: false},
	},
}

var contactsCapability = capability.Definition{
	ID:                 "storage:contacts",
	Operations:         []capability.Operation{capability.OpList},
	RequiresConnection: true,
	Parameters: map[string]capability.Parameter{
		"path": {Type: "string", Required: false},
	},
}

// Contact is the summary view of a parsed vCard entry.
type Contact struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// Driver implements connector.Driver for the storage type.
type Driver struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu           sync.Mutex
	client       *webdav.Client
	contactsPath string
}

// New returns a registry.Factory for the storage type.
func New(bus *eventbus.Bus, log *slog.Logger) func() connector.Driver {
	if log == nil {
		log = slog.Default()
	}
	return func() connector.Driver {
		return &Driver{bus: bus, log: log}
	}
}

func (d *Driver) Type() string { return "storage" }

func (d *Driver) Capabilities() []capability.Definition {
	return []capability.Definition{fileCapability, contactsCapability}
}

func (d *Driver) ValidateConfig(cfg map[string]any) error {
	if _, ok := cfg["baseUrl"].(string); !ok {
		return fmt.Errorf("storage: baseUrl is required")
	}
	return nil
}

func (d *Driver) PerformConnect(ctx context.Context, cfg map[string]any) error {
	baseURL, _ := cfg["baseUrl"].(string)
	username, _ := cfg["username"].(string)
	password, _ := cfg["password"].(string)
	d.contactsPath, _ = cfg["contactsPath"].(string)
	if d.contactsPath == "" {
		d.contactsPath = "/contacts/"
	}

	httpClient := httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	var hc webdav.HTTPClient = httpClient
	if username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}

	client, err := webdav.NewClient(hc, baseURL)
	if err != nil {
		return fmt.Errorf("storage: create webdav client: %w", err)
	}

	if _, err := client.Stat(ctx, "/"); err != nil {
		return fmt.Errorf("storage: verify share %s: %w", baseURL, err)
	}

	d.mu.Lock()
	d.client = client
	d.mu.Unlock()
	return nil
}

func (d *Driver) PerformDisconnect(ctx context.Context) error {
	d.mu.Lock()
	d.client = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) ExecuteCapability(ctx context.Context, capID string, op capability.Operation, params map[string]any) (any, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("storage: not connected")
	}

	switch capID {
	case "storage:file":
		return d.executeFile(ctx, client, op, params)
	case "storage:contacts":
		return d.executeContacts(ctx, client, params)
	default:
		return nil, fmt.Errorf("storage: unknown capability %q", capID)
	}
}

func (d *Driver) executeFile(ctx context.Context, client *webdav.Client, op capability.Operation, params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("storage: path is required")
	}

	switch op {
	case capability.OpList:
		infos, err := client.ReadDir(ctx, path, false)
		if err != nil {
			return nil, fmt.Errorf("readdir %s: %w", path, err)
		}
		names := make([]string, 0, len(infos))
		for _, fi := range infos {
			names = append(names, fi.Path)
		}
		return names, nil

	case capability.OpRead:
		rc, err := client.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return map[string]any{"path": path, "content": string(data)}, nil

	case capability.OpWrite:
		content, _ := params["content"].(string)
		wc, err := client.Create(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		if _, err := io.Copy(wc, bytes.NewReader([]byte(content))); err != nil {
			wc.Close()
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		if err := wc.Close(); err != nil {
			return nil, fmt.Errorf("close %s: %w", path, err)
		}
		return map[string]any{"path": path, "written": len(content)}, nil

	default:
		return nil, fmt.Errorf("storage: unsupported operation %q for storage:file", op)
	}
}

func (d *Driver) executeContacts(ctx context.Context, client *webdav.Client, params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	if path == "" {
		path = d.contactsPath
	}

	infos, err := client.ReadDir(ctx, path, false)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}

	var contacts []Contact
	for _, fi := range infos {
		if fi.IsDir {
			continue
		}
		rc, err := client.Open(ctx, fi.Path)
		if err != nil {
			d.log.Warn("storage: failed to open vcard", "path", fi.Path, "error", err)
			continue
		}
		c, parseErr := parseContact(rc)
		rc.Close()
		if parseErr != nil {
			d.log.Warn("storage: failed to parse vcard", "path", fi.Path, "error", parseErr)
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

func parseContact(r io.Reader) (Contact, error) {
	dec := vcard.NewDecoder(r)
	card, err := dec.Decode()
	if err != nil {
		return Contact{}, err
	}
	var c Contact
	c.FullName = card.PreferredValue(vcard.FieldFormattedName)
	c.Email = card.PreferredValue(vcard.FieldEmail)
	c.Phone = card.PreferredValue(vcard.FieldTelephone)
	return c, nil
}
