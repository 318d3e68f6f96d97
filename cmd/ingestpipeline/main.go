// Command ingestpipeline runs the clinical data ingestion pipeline end to
// end: dispatch every file under an input root to its matching source
// adapter, link results into patients across sources, and write one FHIR
// transaction Bundle per patient into an output directory.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/patiently/ingestpipeline/internal/config"
	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/pipeline"
	"github.com/patiently/ingestpipeline/internal/ingest/vlm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingestpipeline",
		Short: "Clinical data ingestion pipeline",
	}

	rootCmd.AddCommand(runCmd())

	// ran tracks whether a subcommand's RunE was reached at all: a false
	// value on error means cobra rejected the invocation itself (an unknown
	// flag, bad args) before any business logic ran — a usage error.
	var ran bool
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		ran = true
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		if !ran {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest an input directory and write one FHIR Bundle per linked patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			scenario, _ := cmd.Flags().GetString("scenario")
			return runPipeline(input, output, scenario)
		},
	}
	cmd.Flags().String("input", "", "Input directory to ingest (overrides INPUT_DIR)")
	cmd.Flags().String("output", "", "Output directory for written Bundles (overrides OUTPUT_DIR)")
	cmd.Flags().String("scenario", "", "Opaque scenario label threaded into run diagnostics (overrides DEFAULT_SCENARIO)")
	return cmd
}

func runPipeline(inputFlag, outputFlag, scenarioFlag string) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		return err
	}

	inputDir := cfg.InputDir
	if inputFlag != "" {
		inputDir = inputFlag
	}
	outputDir := cfg.OutputDir
	if outputFlag != "" {
		outputDir = outputFlag
	}
	scenario := cfg.DefaultScenario
	if scenarioFlag != "" {
		scenario = scenarioFlag
	}

	codes := fhirbuild.CodeSystems{
		LOINC:  cfg.LOINCSystem,
		SNOMED: cfg.SNOMEDSystem,
		ICD10:  cfg.ICD10System,
		UCUM:   cfg.UCUMSystem,
		MRN:    cfg.MRNSystem,
		ABHA:   cfg.ABHASystem,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vlmClient, err := buildVLMClient(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build VLM client")
		return err
	}

	reg := pipeline.WireRegistry(codes, vlmClient)
	driver := pipeline.New(reg, codes, logger)
	driver.Scenario = scenario

	written, err := driver.Run(ctx, inputDir, outputDir)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline run failed")
		return err
	}

	logger.Info().Int("bundle_count", len(written)).Str("input_dir", inputDir).Str("output_dir", outputDir).Msg("ingestpipeline complete")
	return nil
}

// buildVLMClient wires a real Bedrock-backed handwritten_notes extractor
// when USE_BEDROCK_VLM is set, falling back to a deterministic stub so the
// pipeline runs end to end without live AWS credentials.
func buildVLMClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (vlm.Client, error) {
	if !cfg.UseBedrockVLM {
		logger.Warn().Msg("USE_BEDROCK_VLM is false; using stub handwritten_notes extractor")
		return vlm.NewStubClient(), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	return vlm.NewBedrockClient(bedrockClient, cfg.VLMModelID), nil
}
