// Package memdirectory is an in-process directory.Directory fake for tests.
package memdirectory

import (
	"context"
	"strings"
	"sync"

	"github.com/openhab/cloud-tunnelgw/directory"
	"github.com/openhab/cloud-tunnelgw/notify"
	"github.com/openhab/cloud-tunnelgw/siteapi"
)

// Directory is a mutex-guarded in-memory directory.Directory.
type Directory struct {
	mu            sync.RWMutex
	sites         map[string]siteapi.Site // by UUID
	users         map[string]siteapi.User // by ID
	notifications []siteapi.NotificationRecord
	devices       map[string][]notify.DeviceToken // by User.ID
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{sites: make(map[string]siteapi.Site), users: make(map[string]siteapi.User)}
}

// PutSite inserts or replaces a site record.
func (d *Directory) PutSite(s siteapi.Site) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sites[s.UUID] = s
}

// PutUser inserts or replaces a user record.
func (d *Directory) PutUser(u siteapi.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *Directory) SiteByUUID(_ context.Context, uuid string) (*siteapi.Site, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sites[uuid]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &s, nil
}

func (d *Directory) SiteByOwner(_ context.Context, ownerID string) (*siteapi.Site, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sites {
		if s.Owner == ownerID {
			sc := s
			return &sc, nil
		}
	}
	return nil, directory.ErrNotFound
}

func (d *Directory) UserByUsername(_ context.Context, username string) (*siteapi.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	username = strings.ToLower(strings.TrimSpace(username))
	for _, u := range d.users {
		if strings.ToLower(u.Username) == username {
			uc := u
			return &uc, nil
		}
	}
	return nil, directory.ErrNotFound
}

func (d *Directory) UserByID(_ context.Context, id string) (*siteapi.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &u, nil
}

var _ directory.Directory = (*Directory)(nil)
