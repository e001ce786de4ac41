package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

// UploadStage implements UPLOAD_CANDIDATES: people with a profile URL are
// submitted for ingestion and recorded as TriggerCandidates on the run.
type UploadStage struct {
	Ingester Ingester
	Store    store.Store
}

// Execute runs the stage.
func (s *UploadStage) Execute(ctx context.Context, sc *StageContext, b model.Block, data model.PipelineData) (model.PipelineData, error) {
	log := sc.logger()
	a := b.Action

	submitted := make([]model.PipelinePerson, 0, len(data.People))
	for _, p := range data.People {
		if strings.TrimSpace(p.ProfileURL) == "" {
			continue
		}
		submitted = append(submitted, p)
	}

	out := data.Clone()
	prev, _ := data.Metadata[model.MetaCandidatesUploaded].(int)
	if len(submitted) == 0 {
		out.SetMeta(model.MetaCandidatesUploaded, prev)
		log.Info("trigger: no candidates with a profile URL to upload")
		return out, nil
	}

	sc.SetStatus(ctx, model.RunStatusUploading)
	defer sc.SetStatus(ctx, model.RunStatusRunning)

	rows := make([]IngestRow, 0, len(submitted))
	for _, p := range submitted {
		rows = append(rows, IngestRow{
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			LinkedInURL: p.ProfileURL,
			Title:       p.Title,
			Company:     p.Company,
		})
	}

	res, err := s.Ingester.IngestCandidates(ctx, IngestRequest{
		TenantID:        sc.Trigger.TenantID,
		CampaignID:      a.CampaignID,
		Rows:            rows,
		AllowDuplicates: a.AllowDuplicates,
	})
	if err != nil {
		return data, err
	}
	if res == nil {
		return data, model.NewCollaboratorError("ingest", "ingest_candidates", eris.New("no result returned"))
	}
	if res.ErrorCode != "" {
		return data, model.NewCollaboratorError("ingest", "ingest_candidates",
			fmt.Errorf("rejected (%s): %s", res.ErrorCode, res.Message))
	}

	candidates := make([]model.TriggerCandidate, 0, len(submitted))
	for _, p := range submitted {
		candidates = append(candidates, model.TriggerCandidate{
			TriggerID:  sc.Trigger.ID,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Title:      p.Title,
			Company:    p.Company,
			ProfileURL: p.ProfileURL,
			CustomData: p.CustomData,
		})
	}
	if err := s.Store.InsertCandidates(ctx, sc.Run.ID, candidates); err != nil {
		return data, eris.Wrap(err, "trigger: record candidates")
	}

	out.SetMeta(model.MetaCandidatesUploaded, prev+len(submitted))
	log.Info("trigger: candidates uploaded",
		zap.Int("submitted", len(submitted)),
		zap.Int("skipped_no_url", len(data.People)-len(submitted)),
		zap.String("ingest_message", res.Message),
	)
	sc.Progress("candidates_uploaded", map[string]any{"count": len(submitted)})
	return out, nil
}
