package scraper

import (
	_ "embed"
	"log/slog"
	"os"
)

//go:embed variants.json
var embeddedVariants []byte

// LoadConfig tries to load variants in the following order:
// 1. External file defined by VARIANTS_CONFIG_PATH
// 2. Embedded variants.json
// 3. Hardcoded defaults
func LoadConfig() VariantConfig {
	if path := os.Getenv("VARIANTS_CONFIG_PATH"); path != "" {
		cfg, err := LoadVariants(path)
		if err == nil {
			slog.Info("Loaded scraper variants from external file", "path", path, "count", len(cfg.Variants))
			return cfg
		}
		slog.Warn("Failed to load external variants, trying embedded config", "path", path, "error", err)
	}

	cfg, err := LoadVariantsFromBytes(embeddedVariants)
	if err == nil {
		slog.Info("Loaded scraper variants from embedded config", "count", len(cfg.Variants))
		return cfg
	}
	slog.Warn("Embedded variants failed to parse, using hardcoded defaults", "error", err)
	return DefaultVariants()
}
