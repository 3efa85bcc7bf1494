package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// Convert prints the current index value expressed in every configured fiat
// currency.
func (a *App) Convert(ctx context.Context) error {
	pipe, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipe.close()

	rates, err := pipe.calc.ConvertToAllCurrencies(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Currency\tName\tRate (per USD)\tAVGX")
	for _, rate := range rates {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			rate.Currency,
			rate.Name,
			rate.Rate.StringFixed(6),
			rate.AvgxRate.StringFixed(4),
		)
	}

	writer.Flush()
	return nil
}
