// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"encoding/json"
	"time"
)

// Currency is fixed for all synced amounts; the upstream account is
// configured in a single currency and rates arrive unqualified.
const Currency = "EUR"

// RawRef is a denormalized upstream reference: the foreign entity's
// upstream id plus its display name as of the entry's last update.
type RawRef struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// RawTimeEntry is one record from the upstream time-entries endpoint,
// consumed once per sync. The upstream API is inconsistent about shape:
// depending on endpoint version and account settings a reference arrives
// either nested ("client": {"id": 7}) or flat ("client_id": 7). The
// *Key accessors normalize both forms; nothing outside this file should
// reach into the reference fields directly.
type RawTimeEntry struct {
	ID        int64   `json:"id"`
	SpentDate string  `json:"spent_date"` // YYYY-MM-DD
	Hours     float64 `json:"hours"`
	Billable  bool    `json:"billable"`
	Notes     string  `json:"notes"`

	Client    *RawRef     `json:"client"`
	ClientID  json.Number `json:"client_id"`
	Project   *RawRef     `json:"project"`
	ProjectID json.Number `json:"project_id"`
	Task      *RawRef     `json:"task"`
	TaskID    json.Number `json:"task_id"`
	User      *RawRef     `json:"user"`
	UserID    json.Number `json:"user_id"`

	BillableRate float64 `json:"billable_rate"`
	CostRate     float64 `json:"cost_rate"`
	IsLocked     bool    `json:"is_locked"`
	Invoice      *RawRef `json:"invoice"`
}

// refKey normalizes a nested-or-flat upstream reference to a string
// cache key. Upstream ids are numeric but are coerced to strings so the
// cache key is stable regardless of how the API types them.
func refKey(nested *RawRef, flat json.Number) (string, bool) {
	if nested != nil && nested.ID.String() != "" {
		return nested.ID.String(), true
	}
	if flat.String() != "" {
		return flat.String(), true
	}
	return "", false
}

// ClientKey returns the upstream client id as a cache key, false when
// the entry carries no client reference in either form.
func (e *RawTimeEntry) ClientKey() (string, bool) { return refKey(e.Client, e.ClientID) }

// ProjectKey returns the upstream project id as a cache key.
func (e *RawTimeEntry) ProjectKey() (string, bool) { return refKey(e.Project, e.ProjectID) }

// TaskKey returns the upstream task id as a cache key.
func (e *RawTimeEntry) TaskKey() (string, bool) { return refKey(e.Task, e.TaskID) }

// PersonKey returns the upstream user id as a cache key.
func (e *RawTimeEntry) PersonKey() (string, bool) { return refKey(e.User, e.UserID) }

// key extracts the upstream reference key for the given entity kind.
func (e *RawTimeEntry) key(kind EntityKind) (string, bool) {
	switch kind {
	case KindClient:
		return e.ClientKey()
	case KindProject:
		return e.ProjectKey()
	case KindTask:
		return e.TaskKey()
	default:
		return e.PersonKey()
	}
}

// CanonicalTimeEntry is the storage-ready row. Foreign keys are local
// ids resolved from the reference tables; nil means the upstream
// reference had no local counterpart at sync time.
type CanonicalTimeEntry struct {
	EntryID   int64     `json:"entry_id"`
	SpentDate time.Time `json:"spent_date"`
	Hours     float64   `json:"hours"`
	Billable  bool      `json:"billable"`
	Notes     string    `json:"notes"`

	ClientID  *int64 `json:"client_id"`
	ProjectID *int64 `json:"project_id"`
	TaskID    *int64 `json:"task_id"`
	PersonID  *int64 `json:"person_id"`

	BillableAmount float64 `json:"billable_amount"`
	CostAmount     float64 `json:"cost_amount"`
	Currency       string  `json:"currency"`

	ExternalRef *string `json:"external_ref"`
}

// canonicalize maps one raw entry to its storage row using the resolved
// id mappings. Amounts: billable amount is zero for non-billable entries
// no matter what rate upstream reports; cost amount is always computed.
func canonicalize(raw *RawTimeEntry, lookup func(kind EntityKind, key string) *int64) CanonicalTimeEntry {
	entry := CanonicalTimeEntry{
		EntryID:    raw.ID,
		Hours:      raw.Hours,
		Billable:   raw.Billable,
		Notes:      raw.Notes,
		CostAmount: raw.Hours * raw.CostRate,
		Currency:   Currency,
	}
	if raw.Billable {
		entry.BillableAmount = raw.Hours * raw.BillableRate
	}
	if d, err := time.Parse("2006-01-02", raw.SpentDate); err == nil {
		entry.SpentDate = d
	}
	for _, kind := range EntityKinds {
		key, ok := raw.key(kind)
		if !ok {
			continue
		}
		id := lookup(kind, key)
		switch kind {
		case KindClient:
			entry.ClientID = id
		case KindProject:
			entry.ProjectID = id
		case KindTask:
			entry.TaskID = id
		case KindPerson:
			entry.PersonID = id
		}
	}
	if raw.Invoice != nil && raw.Invoice.ID.String() != "" {
		ref := raw.Invoice.ID.String()
		entry.ExternalRef = &ref
	}
	return entry
}
