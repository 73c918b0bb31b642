// Package jobview builds the bounded job list shown to a tenant from the
// worker's queue and the local registry.
package jobview

import (
	"math"
	"sort"

	"renderdesk/internal/models"
)

// Default caps on the list response.
const (
	DefaultTrackedLimit  = 10
	DefaultFinishedLimit = 10
)

// Policy bounds how many active and finished jobs a view carries.
type Policy struct {
	TrackedLimit  int
	FinishedLimit int
}

func DefaultPolicy() Policy {
	return Policy{TrackedLimit: DefaultTrackedLimit, FinishedLimit: DefaultFinishedLimit}
}

func (p Policy) normalized() Policy {
	if p.TrackedLimit <= 0 {
		p.TrackedLimit = DefaultTrackedLimit
	}
	if p.FinishedLimit <= 0 {
		p.FinishedLimit = DefaultFinishedLimit
	}
	return p
}

// View is the list endpoint response.
type View struct {
	Items              []models.RenderJobMeta `json:"items"`
	Total              int                    `json:"total"`
	ActiveCount        int                    `json:"activeCount"`
	TrackedActiveCount int                    `json:"trackedActiveCount"`
	QueuedCount        int                    `json:"queuedCount"`
	FinishedCount      int                    `json:"finishedCount"`
	Limited            bool                   `json:"limited"`
}

// Build partitions items, orders the active ones by queue position then age,
// and keeps the first TrackedLimit active and FinishedLimit finished jobs.
// Finished jobs keep the order they arrived in.
func Build(items []models.RenderJobMeta, p Policy) View {
	p = p.normalized()

	var active, finished []models.RenderJobMeta
	for _, it := range items {
		if it.Status.Active() {
			active = append(active, it)
		} else {
			finished = append(finished, it)
		}
	}

	SortActive(active)

	tracked := active[:min(len(active), p.TrackedLimit)]
	recent := finished[:min(len(finished), p.FinishedLimit)]

	out := make([]models.RenderJobMeta, 0, len(tracked)+len(recent))
	out = append(out, tracked...)
	out = append(out, recent...)

	return View{
		Items:              out,
		Total:              len(items),
		ActiveCount:        len(active),
		TrackedActiveCount: len(tracked),
		QueuedCount:        len(active) - len(tracked),
		FinishedCount:      len(finished),
		Limited:            len(active) > p.TrackedLimit || len(finished) > p.FinishedLimit,
	}
}

// SortActive orders jobs by queuePosition ascending, missing positions last,
// then by createdAt ascending.
func SortActive(jobs []models.RenderJobMeta) {
	sort.SliceStable(jobs, func(i, j int) bool {
		pi, pj := position(jobs[i]), position(jobs[j])
		if pi != pj {
			return pi < pj
		}
		return jobs[i].CreatedAt < jobs[j].CreatedAt
	})
}

func position(m models.RenderJobMeta) int {
	if m.QueuePosition == nil {
		return math.MaxInt
	}
	return *m.QueuePosition
}

// Merge fills descriptive fields the worker left empty from the registry
// entry with the same job id. Status and presentation fields stay upstream's;
// an item with no status takes the registry's, or unknown.
func Merge(upstream, local []models.RenderJobMeta) []models.RenderJobMeta {
	byID := make(map[string]models.RenderJobMeta, len(local))
	for _, l := range local {
		byID[l.JobID] = l
	}

	out := make([]models.RenderJobMeta, len(upstream))
	for i, u := range upstream {
		out[i] = u.Clone()
		if l, ok := byID[u.JobID]; ok {
			fillDescriptive(&out[i], l)
			if out[i].Status == "" {
				out[i].Status = l.Status
			}
		}
		if out[i].Status == "" {
			out[i].Status = models.StatusUnknown
		}
	}
	return out
}

func fillDescriptive(dst *models.RenderJobMeta, src models.RenderJobMeta) {
	if dst.Client == "" {
		dst.Client = src.Client
	}
	if dst.ModelName == "" {
		dst.ModelName = src.ModelName
	}
	if dst.VariantName == nil && src.VariantName != nil {
		v := *src.VariantName
		dst.VariantName = &v
	}
	if dst.View == "" {
		dst.View = src.View
	}
	if dst.Views == nil && src.Views != nil {
		dst.Views = append([]string(nil), src.Views...)
	}
	if dst.Background == "" {
		dst.Background = src.Background
	}
	if dst.Resolution == "" {
		dst.Resolution = src.Resolution
	}
	if dst.Format == "" {
		dst.Format = src.Format
	}
	if dst.CreatedAt == "" {
		dst.CreatedAt = src.CreatedAt
	}
}
