package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Once runs a single calculation cycle and prints the result.
func (a *App) Once(ctx context.Context) error {
	pipe, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipe.close()

	quote, err := pipe.calc.ComputeCurrentIndex(ctx)
	if err != nil {
		return err
	}

	return printJSON(quote)
}

// Debug runs a single cycle and prints every intermediate value.
func (a *App) Debug(ctx context.Context) error {
	pipe, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipe.close()

	info, err := pipe.calc.DebugInfo(ctx)
	if err != nil {
		return err
	}

	return printJSON(info)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
