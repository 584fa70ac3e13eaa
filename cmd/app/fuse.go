package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"Clarity/internal/domain/models"
	"Clarity/internal/services/fusion"
	"Clarity/internal/usecase"
	"Clarity/pkg/config"
)

var fuseCmd = &cobra.Command{
	Use:   "fuse [file]",
	Short: "Fuse signals from a JSON file offline",
	Long: `Reads {"baseline": N, "signals": [...]} from file (or stdin when the file
is "-" or omitted) and prints the fused forecast as JSON. Fusion settings come
from --config when the file exists, otherwise the defaults apply.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFuse,
}

func runFuse(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open signals: %w", err)
		}
		defer f.Close()
		in = f
	}

	req, err := readFuseRequest(in)
	if err != nil {
		return err
	}

	engine := fusion.NewEngine(
		fusion.WithWeightFloor(cfg.Fusion.WeightFloor),
		fusion.WithGuardrails(cfg.Fusion.GuardrailLower, cfg.Fusion.GuardrailUpper),
		fusion.WithMaxSummaryLines(cfg.Fusion.MaxSummaryLines),
	)
	resp, _, err := usecase.FuseSignals(engine, req, time.Now().UTC())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func readFuseRequest(r io.Reader) (models.FuseRequest, error) {
	var req models.FuseRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return models.FuseRequest{}, fmt.Errorf("decode signals: %w", err)
	}
	return req, nil
}
