package call

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callsentry/internal/observe"
	"github.com/MrWong99/callsentry/pkg/acoustic"
	"github.com/MrWong99/callsentry/pkg/fusion"
	"github.com/MrWong99/callsentry/pkg/provider/oracle"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
	"github.com/MrWong99/callsentry/pkg/store"
)

// finalize runs the heavier pass over the whole call. It never fails: a
// stage that errors is listed in FailedStages and its fields stay zero.
func (c *Controller) finalize(ctx context.Context, s *Session, fuser *fusion.Engine) store.Record {
	samples := s.buf.All()
	ended := c.now().UTC()
	log := observe.Logger(ctx)

	rec := store.Record{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		EndedAt:   ended,
		Duration:  ended.Sub(s.StartedAt),
	}

	bundle := acoustic.Extract(samples, s.cfg.SampleRate)
	rec.AudioFeatures = bundle
	rec.AudioRisk = acoustic.Risk(bundle)

	if len(samples) > 0 {
		tr, err := c.transcribe(ctx, samples, s.cfg.SampleRate)
		switch {
		case errors.Is(err, stt.ErrNoAudio):
		case err != nil:
			log.Warn("final transcription failed", "err", err)
			rec.FailedStages = append(rec.FailedStages, store.StageTranscription)
		default:
			rec.Transcript = c.repair(tr.Text)
		}
	}

	conv := s.analyzer.Analyze(rec.Transcript)
	rec.Conversation = store.Summarize(conv)

	// The oracle and the embedder only need the transcript and run in
	// parallel. Their failures degrade the record rather than the pass.
	var (
		signal    *fusion.OracleSignal
		embedding []float32
		oracleErr error
		embedErr  error
	)
	if rec.Transcript != "" {
		var g errgroup.Group
		if c.oracle != nil {
			g.Go(func() error {
				cl, err := c.classify(ctx, rec.Transcript)
				if err != nil {
					oracleErr = err
					return nil
				}
				signal = &fusion.OracleSignal{Label: cl.Label, Score: cl.Score, Risk: oracle.RiskFromSentiment(cl)}
				return nil
			})
		}
		if c.embedder != nil {
			g.Go(func() error {
				embedding, embedErr = c.embedder.Embed(ctx, rec.Transcript)
				return nil
			})
		}
		_ = g.Wait()
	}
	if oracleErr != nil {
		log.Warn("oracle unavailable for final pass", "err", oracleErr)
		rec.FailedStages = append(rec.FailedStages, store.StageOracle)
	}
	if embedErr != nil {
		log.Warn("transcript embedding failed", "err", embedErr)
		rec.FailedStages = append(rec.FailedStages, store.StageEmbedding)
		embedding = nil
	}
	rec.Embedding = embedding

	rec.Fusion = fuser.Fuse(fusion.Input{
		AudioRisk:              rec.AudioRisk,
		AudioConfidence:        acoustic.Confidence(bundle),
		AudioFactors:           factorNames(acoustic.Factors(bundle)),
		ConversationRisk:       conv.Risk,
		ConversationConfidence: conv.Confidence,
		ConversationReasoning:  conv.Reasoning,
		Oracle:                 signal,
	})
	rec.FusedRisk = rec.Fusion.FusedRisk
	rec.IsSuspicious = rec.Fusion.IsSuspicious
	return rec
}
