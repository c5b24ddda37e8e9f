package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/dynn-ml/dynn/data"
	"github.com/dynn-ml/dynn/params"
	"github.com/dynn-ml/dynn/seq2seq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate text with a trained model",
	Long: `Translate reads tokenized sentences (one per line) from the input
file, or standard input when none is given, and writes one translation per
line to standard output.`,
	RunE: runTranslate,
}

func init() {
	f := translateCmd.Flags()
	f.String("checkpoint", "dynn.model", "checkpoint to load")
	f.String("dic-src", "dynn.dic.src", "source dictionary path")
	f.String("dic-tgt", "dynn.dic.tgt", "target dictionary path")
	f.String("input", "", "input file; empty reads standard input")
	f.Bool("lowercase", true, "lowercase the input")
	f.Int("layers", 4, "transformer layers per stack")
	f.Int("dim", 512, "model width")
	f.Int("heads", 4, "attention heads")
	f.Int("beam-size", 4, "beam size")
	f.Float64("len-pen", 1.0, "length penalty")

	for _, name := range []string{
		"checkpoint", "dic-src", "dic-tgt", "input", "lowercase",
		"layers", "dim", "heads", "beam-size", "len-pen",
	} {
		mustBindPFlag("translate."+name, f.Lookup(name))
	}
	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	dicSrc, err := data.LoadDictionary(viper.GetString("translate.dic-src"))
	if err != nil {
		return err
	}
	dicTgt, err := data.LoadDictionary(viper.GetString("translate.dic-tgt"))
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(viper.GetInt64("seed")))
	pc := params.NewCollection(rng)
	model := seq2seq.New(pc, seq2seq.Config{
		SrcVocab: dicSrc.Len(),
		TgtVocab: dicTgt.Len(),
		Layers:   viper.GetInt("translate.layers"),
		Dim:      viper.GetInt("translate.dim"),
		Heads:    viper.GetInt("translate.heads"),
	})
	if err := pc.Load(viper.GetString("translate.checkpoint")); err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	log.Info("model loaded", zap.Int("parameters", pc.NumValues()))

	in := os.Stdin
	if path := viper.GetString("translate.input"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	tok := data.WhitespaceTokenizer{Lowercase: viper.GetBool("translate.lowercase")}
	decodeCfg := seq2seq.DecodeConfig{
		BeamSize: viper.GetInt("translate.beam-size"),
		LenPen:   viper.GetFloat64("translate.len-pen"),
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		words := tok.Tokenize(sc.Text())
		if len(words) == 0 {
			fmt.Fprintln(out)
			continue
		}
		src, err := data.NewSequenceBatch([][]int{dicSrc.Numberize(words)}, nil, data.PadID, false)
		if err != nil {
			return err
		}
		tokens, aligns, err := model.Decode(decodeCfg, src)
		if err != nil {
			return err
		}
		hyp, err := seq2seq.ReplaceUnknown(dicTgt, tokens[0], aligns[0], words)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, strings.Join(hyp, " "))
	}
	return sc.Err()
}
