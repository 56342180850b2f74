package layers

import (
	"context"

	"github.com/nexuscli/agent/pkg/models"
)

// Reduce implements spec §4.i's on-demand reducer layer: it formats the
// full conversation history as a plain narrative and asks model to produce
// a single compact replacement. The caller is expected to splice the
// result into session history via internal/governor.Summarize — Reduce
// itself only produces the text, it does not mutate any session.
func (o *Orchestrator) Reduce(ctx context.Context, history HistoryView, model, systemPrompt string) (string, models.LayerStat, error) {
	narrative := localSummary(history)
	lc := models.LayerConfig{
		Name:         "reducer",
		Model:        model,
		SystemPrompt: systemPrompt,
		Temperature:  0,
		InputMode:    models.InputLast,
		AllowedTools: []string{}, // no tool visibility for the reducer (DESIGN.md Open Question 1)
	}
	stat, output, err := o.runOne(ctx, lc, nil, narrative)
	return output, stat, err
}
