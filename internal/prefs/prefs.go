// Package prefs persists per-device preferences: manual type overrides and
// the printer protocol flag
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/device"
)

// DocumentVersion is written to every saved file
const DocumentVersion = 1

// Entry stores the preferences of one device
type Entry struct {
	DeviceID        string      `json:"deviceId"`
	Type            device.Type `json:"type,omitempty"`
	UseProtocolMode *bool       `json:"useProtocolMode,omitempty"`
	// Timestamp is the last change in unix milliseconds
	Timestamp int64 `json:"timestamp"`
}

type document struct {
	Devices    []Entry `json:"devices"`
	Version    int     `json:"version"`
	InstanceID string  `json:"instanceId,omitempty"`
}

// Store is a JSON file of device preferences, rewritten on every change
type Store struct {
	filePath   string
	instanceID string
	data       map[string]*Entry
	mu         sync.RWMutex
	now        func() time.Time
}

// Open loads the store at filePath. A missing file is an empty store.
func Open(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		data:     make(map[string]*Entry),
		now:      time.Now,
	}

	if err := s.load(); err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrap(err, "failed to load device preferences")
		}
	}
	if s.instanceID == "" {
		s.instanceID = uuid.New().String()
	}

	return s, nil
}

// DeviceType returns the manual type recorded for id
func (s *Store) DeviceType(id string) (device.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[id]
	if !ok || e.Type == "" {
		return "", false
	}
	return e.Type, true
}

// ProtocolMode returns the protocol flag recorded for id
func (s *Store) ProtocolMode(id string) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[id]
	if !ok || e.UseProtocolMode == nil {
		return false, false
	}
	return *e.UseProtocolMode, true
}

// SetDeviceType records a manual type and saves
func (s *Store) SetDeviceType(id string, t device.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(id)
	e.Type = t
	return s.save()
}

// SetProtocolMode records the protocol flag and saves
func (s *Store) SetProtocolMode(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(id)
	e.UseProtocolMode = &enabled
	return s.save()
}

// ClearDeviceType forgets the manual type; the entry goes when nothing is left
func (s *Store) ClearDeviceType(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[id]
	if !ok {
		return nil
	}
	e.Type = ""
	e.Timestamp = s.now().UnixMilli()
	if e.UseProtocolMode == nil {
		delete(s.data, id)
	}
	return s.save()
}

// All returns copies of the entries sorted by device id
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DeviceID < entries[j].DeviceID })
	return entries
}

func (s *Store) entryLocked(id string) *Entry {
	e, ok := s.data[id]
	if !ok {
		e = &Entry{DeviceID: id}
		s.data[id] = e
	}
	e.Timestamp = s.now().UnixMilli()
	return e
}

func (s *Store) load() error {
	if s.filePath == "" {
		return nil
	}
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return errors.WithStack(err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrapf(err, "invalid preferences file %s", s.filePath)
	}
	if doc.Version > DocumentVersion {
		log.Warn().Int("version", doc.Version).Msg("device preferences written by a newer version")
	}

	s.instanceID = doc.InstanceID
	for i := range doc.Devices {
		e := doc.Devices[i]
		if e.DeviceID == "" {
			continue
		}
		s.data[e.DeviceID] = &e
	}
	return nil
}

// save replaces the file through a temporary sibling
func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}

	doc := document{
		Devices:    make([]Entry, 0, len(s.data)),
		Version:    DocumentVersion,
		InstanceID: s.instanceID,
	}
	for _, e := range s.data {
		doc.Devices = append(doc.Devices, *e)
	}
	sort.Slice(doc.Devices, func(i, j int) bool { return doc.Devices[i].DeviceID < doc.Devices[j].DeviceID })

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode device preferences")
	}

	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create preferences directory")
		}
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "failed to write device preferences")
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to replace device preferences")
	}
	return nil
}
