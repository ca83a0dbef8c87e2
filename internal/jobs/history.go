package jobs

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nlsukhde/ipod-format/internal/models"
)

// HistoryStore persists run summaries. *database.DB implements it.
type HistoryStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	CreateTrackResult(ctx context.Context, tr *models.TrackResult) error
}

func trackRow(runID string, res models.RunResult) *models.TrackResult {
	tr := &models.TrackResult{
		ID:            uuid.New().String(),
		RunID:         runID,
		Source:        res.Plan.Source,
		SourceCodec:   res.Plan.SourceCodec,
		Target:        res.Plan.Target,
		Action:        res.Action,
		ArtKind:       string(res.Plan.Art.Kind),
		ArtDetail:     res.Plan.Art.Detail,
		Success:       res.Success,
		SourceDeleted: res.SourceDeleted,
		ElapsedSec:    res.Elapsed.Seconds(),
		StartedAt:     res.StartedAt,
		BeforeJSON:    snapshotJSON(res.Before),
		AfterJSON:     snapshotJSON(res.After),
	}
	if res.FinalPath != "" {
		tr.FinalPath = sql.NullString{String: res.FinalPath, Valid: true}
	}
	if res.Error != "" {
		tr.ErrorMsg = sql.NullString{String: res.Error, Valid: true}
	}
	return tr
}

func snapshotJSON(s models.MediaSnapshot) string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
