package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds the ingestion pipeline's runtime configuration: coding-system
// URIs the resource builders stamp onto generated resources, adapter
// timeouts, and the default input/output paths the CLI falls back to when a
// flag is not supplied.
type Config struct {
	Env string `mapstructure:"ENV"`

	InputDir      string `mapstructure:"INPUT_DIR"`
	OutputDir     string `mapstructure:"OUTPUT_DIR"`
	DefaultScenario string `mapstructure:"DEFAULT_SCENARIO"`

	LOINCSystem   string `mapstructure:"LOINC_SYSTEM"`
	SNOMEDSystem  string `mapstructure:"SNOMED_SYSTEM"`
	ICD10System   string `mapstructure:"ICD10_SYSTEM"`
	UCUMSystem    string `mapstructure:"UCUM_SYSTEM"`
	MRNSystem     string `mapstructure:"MRN_SYSTEM"`
	ABHASystem    string `mapstructure:"ABHA_SYSTEM"`

	VLMTimeout time.Duration `mapstructure:"VLM_TIMEOUT"`
	VLMModelID string        `mapstructure:"VLM_MODEL_ID"`

	// UseBedrockVLM selects the real Bedrock-backed handwritten_notes
	// extractor. When false, a deterministic stub is wired instead, so the
	// pipeline runs end to end without live AWS credentials.
	UseBedrockVLM bool   `mapstructure:"USE_BEDROCK_VLM"`
	AWSRegion     string `mapstructure:"AWS_REGION"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("INPUT_DIR", "./data/in")
	v.SetDefault("OUTPUT_DIR", "./data/out")
	v.SetDefault("DEFAULT_SCENARIO", "default")
	v.SetDefault("LOINC_SYSTEM", "http://loinc.org")
	v.SetDefault("SNOMED_SYSTEM", "http://snomed.info/sct")
	v.SetDefault("ICD10_SYSTEM", "http://hl7.org/fhir/sid/icd-10")
	v.SetDefault("UCUM_SYSTEM", "http://unitsofmeasure.org")
	v.SetDefault("MRN_SYSTEM", "urn:oid:2.16.840.1.113883.2.1.4.1")
	v.SetDefault("ABHA_SYSTEM", "https://healthid.ndhm.gov.in")
	v.SetDefault("VLM_TIMEOUT", 30*time.Second)
	v.SetDefault("VLM_MODEL_ID", "anthropic.claude-3-sonnet-20240229-v1:0")
	v.SetDefault("USE_BEDROCK_VLM", false)
	v.SetDefault("AWS_REGION", "us-east-1")

	v.BindEnv("ENV")
	v.BindEnv("INPUT_DIR")
	v.BindEnv("OUTPUT_DIR")
	v.BindEnv("DEFAULT_SCENARIO")
	v.BindEnv("LOINC_SYSTEM")
	v.BindEnv("SNOMED_SYSTEM")
	v.BindEnv("ICD10_SYSTEM")
	v.BindEnv("UCUM_SYSTEM")
	v.BindEnv("MRN_SYSTEM")
	v.BindEnv("ABHA_SYSTEM")
	v.BindEnv("VLM_TIMEOUT")
	v.BindEnv("VLM_MODEL_ID")
	v.BindEnv("USE_BEDROCK_VLM")
	v.BindEnv("AWS_REGION")

	// Try reading .env file, but don't fail if missing.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.IsDev() {
		log.Println("ingestpipeline: running with ENV=development defaults")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is usable before the pipeline runs.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("INPUT_DIR must not be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	if c.VLMTimeout <= 0 {
		return fmt.Errorf("VLM_TIMEOUT must be positive, got %s", c.VLMTimeout)
	}
	return nil
}
