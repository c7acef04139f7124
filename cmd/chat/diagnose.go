package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/suPer8Hu/smart-doctor/internal/diagnosis"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <skin|eye|blood|brain> <image>",
	Short: "Send an image to a hosted diagnosis model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		organ, err := diagnosis.ParseOrgan(args[0])
		if err != nil {
			return fmt.Errorf("%w: %s", err, args[0])
		}

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		endpoints := map[diagnosis.Organ]string{}
		for _, o := range diagnosis.Organs {
			endpoints[o] = viper.GetString("predict_urls." + string(o))
		}

		res, err := diagnosis.NewClient(endpoints).Predict(cmd.Context(), organ, filepath.Base(args[1]), f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Diagnosis: %s (%s)\n", res.Label, res.Severity)
		if res.Score != nil {
			fmt.Fprintf(out, "Confidence: %.2f%%\n", *res.Score*100)
		}
		if verbose {
			b, _ := json.MarshalIndent(res.Upstream, "", "  ")
			fmt.Fprintln(out, string(b))
		}
		if res.Severity != diagnosis.SeverityNormal {
			fmt.Fprintln(out, "This is an AI-generated analysis for informational purposes only. Please consult a qualified healthcare professional.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
}
