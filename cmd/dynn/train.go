package main

import (
	"fmt"
	"math/rand"

	"github.com/dynn-ml/dynn/data"
	"github.com/dynn-ml/dynn/metrics"
	"github.com/dynn-ml/dynn/params"
	"github.com/dynn-ml/dynn/seq2seq"
	"github.com/dynn-ml/dynn/train"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a translation model on a parallel corpus",
	RunE:  runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.String("train-src", "", "source-side training file, one tokenized sentence per line")
	f.String("train-tgt", "", "target-side training file")
	f.String("valid-src", "", "source-side validation file")
	f.String("valid-tgt", "", "target-side validation file")
	f.String("checkpoint", "dynn.model", "checkpoint output path")
	f.String("dic-src", "dynn.dic.src", "source dictionary output path")
	f.String("dic-tgt", "dynn.dic.tgt", "target dictionary output path")
	f.Bool("lowercase", true, "lowercase the corpus")
	f.Int("vocab-size", 30000, "maximum vocabulary size per side")
	f.Int("layers", 4, "transformer layers per stack")
	f.Int("dim", 512, "model width")
	f.Int("heads", 4, "attention heads")
	f.Float64("dropout", 0.2, "dropout rate")
	f.Float64("label-smoothing", 0.1, "label smoothing epsilon")
	f.Int("epochs", 20, "training epochs")
	f.Int("warmup", 4000, "schedule warmup updates")
	f.Float64("clip-norm", 5.0, "global gradient norm bound")
	f.Float64("lr-decay", 2.0, "learning rate divisor on non-improving epochs")
	f.Int("max-samples", 64, "maximum sentences per batch")
	f.Int("max-tokens", 2000, "maximum padded tokens per batch")
	f.Int("beam-size", 4, "beam size for final BLEU evaluation")
	f.Float64("len-pen", 1.0, "length penalty for final BLEU evaluation")

	for _, name := range []string{
		"train-src", "train-tgt", "valid-src", "valid-tgt", "checkpoint",
		"dic-src", "dic-tgt", "lowercase", "vocab-size", "layers", "dim",
		"heads", "dropout", "label-smoothing", "epochs", "warmup",
		"clip-norm", "lr-decay", "max-samples", "max-tokens", "beam-size",
		"len-pen",
	} {
		mustBindPFlag("train."+name, f.Lookup(name))
	}
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	lower := viper.GetBool("train.lowercase")
	trainSrc, err := data.ReadTextFile(viper.GetString("train.train-src"), lower)
	if err != nil {
		return err
	}
	trainTgt, err := data.ReadTextFile(viper.GetString("train.train-tgt"), lower)
	if err != nil {
		return err
	}
	validSrc, err := data.ReadTextFile(viper.GetString("train.valid-src"), lower)
	if err != nil {
		return err
	}
	validTgt, err := data.ReadTextFile(viper.GetString("train.valid-tgt"), lower)
	if err != nil {
		return err
	}
	log.Info("corpus loaded",
		zap.Int("train", len(trainSrc)), zap.Int("valid", len(validSrc)))

	vocabSize := viper.GetInt("train.vocab-size")
	dicSrc := data.DictionaryFromData(trainSrc, vocabSize)
	dicTgt := data.DictionaryFromData(trainTgt, vocabSize)
	if err := dicSrc.Save(viper.GetString("train.dic-src")); err != nil {
		return err
	}
	if err := dicTgt.Save(viper.GetString("train.dic-tgt")); err != nil {
		return err
	}
	log.Info("dictionaries built",
		zap.Int("src", dicSrc.Len()), zap.Int("tgt", dicTgt.Len()))

	rng := rand.New(rand.NewSource(viper.GetInt64("seed")))
	trainIter, err := data.NewPairIterator(
		dicSrc.NumberizeAll(trainSrc), dicTgt.NumberizeAll(trainTgt),
		data.PairIteratorOptions{
			MaxSamples: viper.GetInt("train.max-samples"),
			MaxTokens:  viper.GetInt("train.max-tokens"),
			PadIdx:     data.PadID,
			RNG:        rng,
		})
	if err != nil {
		return err
	}
	validIter, err := data.NewPairIterator(
		dicSrc.NumberizeAll(validSrc), dicTgt.NumberizeAll(validTgt),
		data.PairIteratorOptions{MaxSamples: 10, PadIdx: data.PadID})
	if err != nil {
		return err
	}
	log.Info("batch iterators ready", zap.Int("train_batches", trainIter.Len()))

	pc := params.NewCollection(rng)
	model := seq2seq.New(pc, seq2seq.Config{
		SrcVocab:       dicSrc.Len(),
		TgtVocab:       dicTgt.Len(),
		Layers:         viper.GetInt("train.layers"),
		Dim:            viper.GetInt("train.dim"),
		Heads:          viper.GetInt("train.heads"),
		Dropout:        viper.GetFloat64("train.dropout"),
		LabelSmoothing: viper.GetFloat64("train.label-smoothing"),
	})
	log.Info("model built", zap.Int("parameters", pc.NumValues()))

	checkpoint := viper.GetString("train.checkpoint")
	loop := train.NewLoop(log, model, train.LoopConfig{
		Epochs:         viper.GetInt("train.epochs"),
		Warmup:         viper.GetInt("train.warmup"),
		ClipNorm:       viper.GetFloat64("train.clip-norm"),
		LRDecay:        viper.GetFloat64("train.lr-decay"),
		CheckpointPath: checkpoint,
	}, rng)
	if err := loop.Run(trainIter, validIter); err != nil {
		return err
	}
	log.Info("training finished", zap.Float64("best_ppl", loop.BestPPL()))

	// Reload the best weights and score the validation split.
	if err := pc.Load(checkpoint); err != nil {
		return fmt.Errorf("reload best checkpoint: %w", err)
	}
	bleu, err := evalBLEU(model, validIter, dicTgt, validSrc, validTgt,
		viper.GetInt("train.beam-size"), viper.GetFloat64("train.len-pen"))
	if err != nil {
		return err
	}
	log.Info("validation BLEU", zap.Float64("bleu", bleu))
	return nil
}

// evalBLEU decodes a split and scores it against the references, with
// unknown tokens replaced through attention alignments.
func evalBLEU(model *seq2seq.Model, iter *data.PairIterator, dicTgt *data.Dictionary,
	srcSents, tgtSents [][]string, beamSize int, lenPen float64) (float64, error) {
	var hyps, refs [][]string
	iter.Reset(false)
	for {
		src, tgt, ok := iter.Next()
		if !ok {
			break
		}
		tokens, aligns, err := model.Decode(seq2seq.DecodeConfig{BeamSize: beamSize, LenPen: lenPen}, src)
		if err != nil {
			return 0, err
		}
		for b := 0; b < src.Size(); b++ {
			srcWords := srcSents[src.OriginalIdxs[b]]
			hyp, err := seq2seq.ReplaceUnknown(dicTgt, tokens[b], aligns[b], srcWords)
			if err != nil {
				return 0, err
			}
			hyps = append(hyps, hyp)
			refs = append(refs, tgtSents[tgt.OriginalIdxs[b]])
		}
	}
	return metrics.CorpusBLEU(hyps, refs)
}
