package renderworker

import (
	"encoding/json"

	"renderdesk/internal/models"
)

// QueueItem is one job as the worker reports it. Older worker builds send
// "id" and "position"; both spellings are accepted.
type QueueItem struct {
	JobID         string          `json:"jobId"`
	ID            string          `json:"id"`
	Client        string          `json:"client"`
	ModelName     string          `json:"modelName"`
	VariantName   *string         `json:"variantName"`
	View          string          `json:"view"`
	Views         []string        `json:"views"`
	Background    string          `json:"background"`
	Resolution    string          `json:"resolution"`
	Format        string          `json:"format"`
	CreatedAt     string          `json:"createdAt"`
	Status        models.Status   `json:"status"`
	Progress      *float64        `json:"progress"`
	QueuePosition *int            `json:"queuePosition"`
	Position      *int            `json:"position"`
	ImageURL      string          `json:"imageUrl"`
	ImageURLs     []string        `json:"imageUrls"`
	Images        json.RawMessage `json:"images"`
	Stage         string          `json:"stage"`
}

// ToMeta converts the item. A missing status stays empty so status updates
// built from it leave the registry's status alone.
func (it QueueItem) ToMeta() models.RenderJobMeta {
	id := it.JobID
	if id == "" {
		id = it.ID
	}
	pos := it.QueuePosition
	if pos == nil {
		pos = it.Position
	}
	var images json.RawMessage
	if len(it.Images) > 0 && string(it.Images) != "null" {
		images = it.Images
	}
	return models.RenderJobMeta{
		JobID:         id,
		Client:        it.Client,
		ModelName:     it.ModelName,
		VariantName:   it.VariantName,
		View:          it.View,
		Views:         it.Views,
		Background:    it.Background,
		Resolution:    it.Resolution,
		Format:        it.Format,
		CreatedAt:     it.CreatedAt,
		Status:        it.Status,
		Progress:      it.Progress,
		QueuePosition: pos,
		ImageURL:      it.ImageURL,
		ImageURLs:     it.ImageURLs,
		Images:        images,
		Stage:         it.Stage,
	}
}
