package train

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/dynn-ml/dynn/internal/layers"
	"github.com/dynn-ml/dynn/internal/seq2seq"
	"github.com/dynn-ml/dynn/internal/textdata"
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
)

// LoopConfig controls the epoch loop.
type LoopConfig struct {
	// Epochs is the number of passes over the training data.
	Epochs int
	// Warmup is the schedule warmup length in updates.
	Warmup int
	// ClipNorm bounds the global gradient norm; 0 disables clipping.
	ClipNorm float64
	// LRDecay divides the learning rate whenever validation perplexity
	// fails to improve. Values <= 1 disable decay.
	LRDecay float64
	// CheckpointPath receives the parameters after every improving epoch.
	// Empty disables checkpointing.
	CheckpointPath string
}

// Loop ties a model, its optimizer and a schedule into the training
// procedure: per batch a fresh graph, forward, backward, scheduled Adam
// update; per epoch a validation pass that either checkpoints (on
// improvement) or decays the learning rate. The weights are never rolled
// back to the checkpoint mid-training; the decayed schedule continues from
// the current, worse weights.
type Loop struct {
	cfg   LoopConfig
	log   *zap.Logger
	model *seq2seq.Model
	opt   *Adam
	sched *NoamSchedule
	decay float64
	rng   *rand.Rand

	bestPPL float64
}

// NewLoop assembles a training loop. rng drives dropout sampling and epoch
// shuffling.
func NewLoop(log *zap.Logger, model *seq2seq.Model, cfg LoopConfig, rng *rand.Rand) *Loop {
	if cfg.Epochs <= 0 {
		panic(fmt.Sprintf("train: epochs must be positive, got %d", cfg.Epochs))
	}
	if cfg.Warmup <= 0 {
		panic(fmt.Sprintf("train: warmup must be positive, got %d", cfg.Warmup))
	}
	if rng == nil {
		panic("train: loop requires an explicit *rand.Rand")
	}
	sched := NewNoamSchedule(model.Cfg.Dim, cfg.Warmup)
	opts := []AdamOption{}
	if cfg.ClipNorm > 0 {
		opts = append(opts, WithClipNorm(cfg.ClipNorm))
	}
	return &Loop{
		cfg:     cfg,
		log:     log,
		model:   model,
		opt:     NewAdam(model.Params().Parameters(), sched.Rate(1), opts...),
		sched:   sched,
		decay:   1,
		rng:     rng,
		bestPPL: math.Inf(1),
	}
}

// BestPPL returns the best validation perplexity seen so far.
func (l *Loop) BestPPL() float64 { return l.bestPPL }

// Run trains for the configured number of epochs.
func (l *Loop) Run(trainIter, validIter *textdata.PairIterator) error {
	logEvery := (trainIter.Len() + 9) / 10
	for epoch := 1; epoch <= l.cfg.Epochs; epoch++ {
		start := time.Now()
		trainIter.Reset(epoch > 1)

		var lastNLL float64
		for {
			src, tgt, ok := trainIter.Next()
			if !ok {
				break
			}
			nll, err := l.trainBatch(src, tgt)
			if err != nil {
				return fmt.Errorf("train: epoch %d: %w", epoch, err)
			}
			lastNLL = nll
			if trainIter.JustPassedMultiple(logEvery) {
				l.log.Info("training progress",
					zap.Int("epoch", epoch),
					zap.Float64("percent", trainIter.PercentageDone()),
					zap.Float64("nll", nll),
					zap.Float64("ppl", math.Exp(nll)),
					zap.Float64("lr", l.opt.LR()))
			}
		}
		l.log.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Float64("nll", lastNLL),
			zap.Float64("ppl", math.Exp(lastNLL)),
			zap.Duration("took", time.Since(start)))

		ppl, err := l.Validate(validIter)
		if err != nil {
			return fmt.Errorf("train: epoch %d validation: %w", epoch, err)
		}
		l.log.Info("validation", zap.Int("epoch", epoch), zap.Float64("ppl", ppl))

		if ppl < l.bestPPL {
			l.bestPPL = ppl
			if l.cfg.CheckpointPath != "" {
				if err := l.model.Params().Save(l.cfg.CheckpointPath); err != nil {
					return fmt.Errorf("train: checkpoint: %w", err)
				}
				l.log.Info("checkpoint saved", zap.String("path", l.cfg.CheckpointPath))
			}
		} else if l.cfg.LRDecay > 1 {
			l.decay /= l.cfg.LRDecay
			l.log.Info("decreasing learning rate", zap.Float64("factor", l.decay))
		}
	}
	return nil
}

// trainBatch runs one update and returns the batch loss.
func (l *Loop) trainBatch(src, tgt *textdata.SequenceBatch) (float64, error) {
	g := gorgonia.NewGraph()
	l.model.Params().Bind(g)
	ctx := layers.NewContext(g, layers.Train, l.rng)

	loss, err := l.model.Loss(ctx, src, tgt)
	if err != nil {
		return 0, err
	}
	nodes := l.model.Params().Nodes()
	if _, err := gorgonia.Grad(loss, nodes...); err != nil {
		return 0, fmt.Errorf("backward pass: %w", err)
	}
	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(nodes...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, fmt.Errorf("run batch: %w", err)
	}

	l.opt.SetLR(l.sched.Next() * l.decay)
	if err := l.opt.Step(); err != nil {
		return 0, err
	}
	return scalarValue(loss)
}

// Validate computes the validation perplexity: total unsmoothed NLL over
// the split divided by the total number of target tokens, exponentiated.
func (l *Loop) Validate(iter *textdata.PairIterator) (float64, error) {
	iter.Reset(false)
	var totalNLL float64
	var totalTokens int
	for {
		src, tgt, ok := iter.Next()
		if !ok {
			break
		}
		g := gorgonia.NewGraph()
		l.model.Params().Bind(g)
		ctx := layers.Context{Graph: g, Mode: layers.Eval}

		nll, err := l.model.SumNLL(ctx, src, tgt)
		if err != nil {
			return 0, err
		}
		vm := gorgonia.NewTapeMachine(g)
		if err := vm.RunAll(); err != nil {
			vm.Close()
			return 0, fmt.Errorf("validation batch: %w", err)
		}
		vm.Close()

		v, err := scalarValue(nll)
		if err != nil {
			return 0, err
		}
		totalNLL += v
		totalTokens += tgt.Tokens()
	}
	if totalTokens == 0 {
		return 0, fmt.Errorf("validation split has no target tokens")
	}
	return math.Exp(totalNLL / float64(totalTokens)), nil
}

// scalarValue reads a computed scalar node.
func scalarValue(n *gorgonia.Node) (float64, error) {
	v := n.Value()
	if v == nil {
		return 0, fmt.Errorf("train: node %v has no value", n)
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d), nil
	case []float32:
		if len(d) != 1 {
			return 0, fmt.Errorf("train: expected a scalar, got %d values", len(d))
		}
		return float64(d[0]), nil
	default:
		return 0, fmt.Errorf("train: unexpected value type %T", d)
	}
}
