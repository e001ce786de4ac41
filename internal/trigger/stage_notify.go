package trigger

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
)

// NotifyStage implements NOTIFY. Delivery is best-effort: the outcome is
// recorded in metadata and never fails the run.
type NotifyStage struct {
	Notifier Notifier
}

// Execute runs the stage.
func (s *NotifyStage) Execute(ctx context.Context, sc *StageContext, b model.Block, data model.PipelineData) (model.PipelineData, error) {
	a := b.Action
	message := Render(a.Message, data.Metadata)
	blocks := RenderBlocks(a.Blocks, data.Metadata)

	delivered := s.Notifier.Notify(ctx, message, blocks, a.Destinations)
	if !delivered {
		sc.logger().Warn("trigger: notification not delivered to every destination",
			zap.Int("destinations", len(a.Destinations)))
	}

	out := data.Clone()
	out.SetMeta(model.MetaNotificationDelivered, delivered)
	return out, nil
}
