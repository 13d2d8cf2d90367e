package query

import (
	"context"
	"time"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
)

type GetActivity struct {
	activity interfaces.ActivityRepo
}

func NewGetActivity(activity interfaces.ActivityRepo) *GetActivity {
	return &GetActivity{activity: activity}
}

func (q *GetActivity) Query(ctx context.Context, siteID uint64) (dto.ActivityResponse, error) {
	events, err := q.activity.ListBySite(ctx, siteID)
	if err != nil {
		return dto.ActivityResponse{}, err
	}
	resp := dto.ActivityResponse{SiteID: siteID, Events: make([]dto.ActivityEntry, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, dto.ActivityEntry{
			Action:    e.Action,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp, nil
}
