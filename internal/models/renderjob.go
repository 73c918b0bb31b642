package models

import (
	"encoding/json"
	"strings"
)

// Status is the lifecycle state of a render job as reported by the render worker.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps a raw status string to a known Status.
// Anything unrecognised becomes StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusQueued:
		return StatusQueued
	case StatusRunning:
		return StatusRunning
	case StatusPending:
		return StatusPending
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the job has finished (completed or failed).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the job still occupies its model/variant slot.
func (s Status) Active() bool {
	return !s.Terminal()
}

// UnmarshalJSON normalises incoming status strings. Null or blank leaves the
// status empty so a partial update does not overwrite it.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*s = ""
		return nil
	}
	*s = ParseStatus(raw)
	return nil
}

// RenderJobMeta is one render request tracked for a client.
type RenderJobMeta struct {
	JobID       string   `json:"jobId"`
	Client      string   `json:"client"`
	ModelName   string   `json:"modelName"`
	VariantName *string  `json:"variantName"`
	View        string   `json:"view,omitempty"`
	Views       []string `json:"views,omitempty"`
	Background  string   `json:"background,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	Format      string   `json:"format,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	Status      Status   `json:"status"`

	// Presentation fields cached from worker responses.
	Progress      *float64        `json:"progress,omitempty"`
	QueuePosition *int            `json:"queuePosition,omitempty"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	ImageURLs     []string        `json:"imageUrls,omitempty"`
	Images        json.RawMessage `json:"images,omitempty"`
	Stage         string          `json:"stage,omitempty"`
}

// Variant returns the variant name, "" when absent.
func (m *RenderJobMeta) Variant() string {
	if m.VariantName == nil {
		return ""
	}
	return *m.VariantName
}

// SameTarget reports whether the job renders the given model/variant pair.
// A nil and an empty variant are the same target.
func (m *RenderJobMeta) SameTarget(modelName, variantName string) bool {
	return m.ModelName == modelName && m.Variant() == variantName
}

// Clone returns a deep copy so callers never alias registry state.
func (m RenderJobMeta) Clone() RenderJobMeta {
	out := m
	if m.VariantName != nil {
		v := *m.VariantName
		out.VariantName = &v
	}
	if m.Views != nil {
		out.Views = append([]string(nil), m.Views...)
	}
	if m.Progress != nil {
		p := *m.Progress
		out.Progress = &p
	}
	if m.QueuePosition != nil {
		q := *m.QueuePosition
		out.QueuePosition = &q
	}
	if m.ImageURLs != nil {
		out.ImageURLs = append([]string(nil), m.ImageURLs...)
	}
	if m.Images != nil {
		out.Images = append(json.RawMessage(nil), m.Images...)
	}
	return out
}

// Merge overlays the set fields of other onto m. Empty fields of other keep m's value.
func (m *RenderJobMeta) Merge(other RenderJobMeta) {
	o := other.Clone()
	if o.JobID != "" {
		m.JobID = o.JobID
	}
	if o.Client != "" {
		m.Client = o.Client
	}
	if o.ModelName != "" {
		m.ModelName = o.ModelName
	}
	if o.VariantName != nil {
		m.VariantName = o.VariantName
	}
	if o.View != "" {
		m.View = o.View
	}
	if o.Views != nil {
		m.Views = o.Views
	}
	if o.Background != "" {
		m.Background = o.Background
	}
	if o.Resolution != "" {
		m.Resolution = o.Resolution
	}
	if o.Format != "" {
		m.Format = o.Format
	}
	if o.CreatedAt != "" {
		m.CreatedAt = o.CreatedAt
	}
	if o.Status != "" {
		m.Status = o.Status
	}
	m.Apply(o.Patch())
}

// JobPatch is a partial status update from a worker poll.
type JobPatch struct {
	Status        *Status
	Progress      *float64
	QueuePosition *int
	ImageURL      *string
	ImageURLs     []string
	Images        json.RawMessage
	Stage         *string
}

// Empty reports whether the patch carries no fields.
func (p JobPatch) Empty() bool {
	return p.Status == nil && p.Progress == nil && p.QueuePosition == nil &&
		p.ImageURL == nil && p.ImageURLs == nil && p.Images == nil && p.Stage == nil
}

// Patch extracts the mutable status fields of m as a JobPatch.
func (m RenderJobMeta) Patch() JobPatch {
	var p JobPatch
	if m.Status != "" {
		s := m.Status
		p.Status = &s
	}
	p.Progress = m.Progress
	p.QueuePosition = m.QueuePosition
	if m.ImageURL != "" {
		u := m.ImageURL
		p.ImageURL = &u
	}
	p.ImageURLs = m.ImageURLs
	p.Images = m.Images
	if m.Stage != "" {
		s := m.Stage
		p.Stage = &s
	}
	return p
}

// Apply merges a partial update into m.
func (m *RenderJobMeta) Apply(p JobPatch) {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Progress != nil {
		v := *p.Progress
		m.Progress = &v
	}
	if p.QueuePosition != nil {
		v := *p.QueuePosition
		m.QueuePosition = &v
	}
	if p.ImageURL != nil {
		m.ImageURL = *p.ImageURL
	}
	if p.ImageURLs != nil {
		m.ImageURLs = append([]string(nil), p.ImageURLs...)
	}
	if p.Images != nil {
		m.Images = append(json.RawMessage(nil), p.Images...)
	}
	if p.Stage != nil {
		m.Stage = *p.Stage
	}
}
