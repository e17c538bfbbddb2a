package configbinder

import (
	"fmt"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
)

// Keys of a job payload map.
const (
	PayloadCategory       = "category"
	PayloadMode           = "mode"
	PayloadScheduledStart = "scheduled_start"
	PayloadScheduledEnd   = "scheduled_end"
	PayloadSettings       = "settings"
	PayloadCreatedBy      = "created_by"
	PayloadCreatedAt      = "created_at"
)

// EncodeRequest serializes a request into the job payload map. Times are
// stored as RFC 3339 strings; scheduled times only for scheduled requests.
func EncodeRequest(req model.MigrationRequest) (map[string]interface{}, error) {
	settings, err := ToProperties(req.Settings)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		PayloadCategory:  req.Category,
		PayloadMode:      string(req.Mode),
		PayloadSettings:  settings,
		PayloadCreatedBy: req.CreatedBy,
		PayloadCreatedAt: req.CreatedAt.Format(time.RFC3339Nano),
	}
	if req.Mode == model.ModeScheduled {
		if req.ScheduledStart != nil {
			payload[PayloadScheduledStart] = req.ScheduledStart.Format(time.RFC3339Nano)
		}
		if req.ScheduledEnd != nil {
			payload[PayloadScheduledEnd] = req.ScheduledEnd.Format(time.RFC3339Nano)
		}
	}
	return payload, nil
}

// DecodeRequest rebuilds a request from a job payload map.
func DecodeRequest(payload map[string]interface{}) (model.MigrationRequest, error) {
	var req model.MigrationRequest
	if payload == nil {
		return req, fmt.Errorf("job payload is empty")
	}
	if err := BindProperties(payload, &req); err != nil {
		return req, err
	}
	return req, nil
}
