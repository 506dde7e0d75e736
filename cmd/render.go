package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("output format must be text, json or yaml, got %q", format)
}

type waveOutput struct {
	Sender  string    `json:"sender" yaml:"sender"`
	SentAt  time.Time `json:"sent_at" yaml:"sent_at"`
	Message string    `json:"message" yaml:"message"`
}

type errorOutput struct {
	Kind    string `json:"kind" yaml:"kind"`
	Op      string `json:"op,omitempty" yaml:"op,omitempty"`
	Message string `json:"message" yaml:"message"`
}

type viewOutput struct {
	Phase             string       `json:"phase" yaml:"phase"`
	Account           string       `json:"account,omitempty" yaml:"account,omitempty"`
	TotalWaves        int          `json:"total_waves" yaml:"total_waves"`
	PendingSubmission bool         `json:"pending_submission" yaml:"pending_submission"`
	LastTxHash        string       `json:"last_tx_hash,omitempty" yaml:"last_tx_hash,omitempty"`
	LastError         *errorOutput `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Waves             []waveOutput `json:"waves" yaml:"waves"`
}

type countOutput struct {
	TotalWaves uint64 `json:"total_waves" yaml:"total_waves"`
}

// newViewOutput converts ledger seconds to wall-clock time. limit 0 keeps every wave.
func newViewOutput(v models.ViewState, limit int) viewOutput {
	out := viewOutput{
		Phase:             string(v.Phase),
		Account:           string(v.Account),
		TotalWaves:        v.TotalWaves,
		PendingSubmission: v.PendingSubmission,
		LastTxHash:        v.LastTxHash,
		Waves:             newWaveOutputs(v.Waves, limit),
	}
	if e := v.LastError; e != nil {
		out.LastError = &errorOutput{Kind: string(e.Kind), Op: e.Op, Message: e.Message()}
	}
	return out
}

func newWaveOutputs(records []models.WaveRecord, limit int) []waveOutput {
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]waveOutput, len(records))
	for i, r := range records {
		out[i] = waveOutput{
			Sender:  string(r.Sender),
			SentAt:  time.Unix(r.SentAt, 0).UTC(),
			Message: r.Message,
		}
	}
	return out
}

// encode writes v as json or yaml, or calls text for the text format.
func encode(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatText:
		return text(w)
	}
	return checkFormat(format)
}

func renderView(w io.Writer, format string, v viewOutput) error {
	return encode(w, format, v, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "status:\t%s\n", v.Phase)
		if v.Account != "" {
			fmt.Fprintf(tw, "account:\t%s\n", v.Account)
		}
		fmt.Fprintf(tw, "waves:\t%d\n", v.TotalWaves)
		if v.LastTxHash != "" {
			fmt.Fprintf(tw, "last tx:\t%s\n", v.LastTxHash)
		}
		if v.LastError != nil {
			fmt.Fprintf(tw, "error:\t%s: %s\n", v.LastError.Kind, v.LastError.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(v.Waves) == 0 {
			return nil
		}
		fmt.Fprintln(w)
		return writeWaves(w, v.Waves)
	})
}

func renderWaves(w io.Writer, format string, waves []waveOutput) error {
	return encode(w, format, waves, func(w io.Writer) error {
		return writeWaves(w, waves)
	})
}

func writeWaves(w io.Writer, waves []waveOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, wave := range waves {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", wave.SentAt.Format(timeLayout), wave.Sender, wave.Message)
	}
	return tw.Flush()
}

// renderUpdate prints one line per view for streaming commands. json is
// newline-delimited, yaml is a document stream.
func renderUpdate(w io.Writer, format string, v viewOutput) error {
	switch format {
	case formatJSON:
		return json.NewEncoder(w).Encode(v)
	case formatYAML:
		if _, err := fmt.Fprintln(w, "---"); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	line := fmt.Sprintf("%s\t%s\twaves=%d", v.Phase, v.Account, v.TotalWaves)
	if v.PendingSubmission {
		line += "\tpending"
	}
	if v.LastError != nil {
		line += fmt.Sprintf("\terror=%s: %s", v.LastError.Kind, v.LastError.Message)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
