package scraper

import (
	"encoding/json"
	"fmt"
	"os"
)

// Variant kinds.
const (
	KindAnchors = "anchors"
	KindListing = "listing"
)

// VariantConfig is the set of site-specific scrapers selectable by name.
type VariantConfig struct {
	Variants []Variant `json:"variants"`
}

// Variant describes one site-specific scraper.
type Variant struct {
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	Partner   string        `json:"partner"`
	OfferType string        `json:"offer_type"`
	Seeds     []string      `json:"seeds"`
	Rendered  bool          `json:"rendered"`
	Anchors   AnchorRules   `json:"anchors"`
	Listing   ListSelectors `json:"listing"`
}

// AnchorRules select offer links among a page's anchors.
type AnchorRules struct {
	Keywords        []string `json:"keywords"`
	IncludeURLParts []string `json:"include_url_parts"`
	ExcludeURLParts []string `json:"exclude_url_parts"`

	// RequireURLPart demands an include part in the URL as well as a keyword.
	// Otherwise either one selects the link.
	RequireURLPart bool `json:"require_url_part"`
	SameSite       bool `json:"same_site"`
	FetchDetails   bool `json:"fetch_details"`
	MaxLinks       int  `json:"max_links"`
}

// ListSelectors read offers from repeated cards on a listing page.
type ListSelectors struct {
	Item           string `json:"item"`            // e.g., "div.tender-item"
	IgnoreModifier string `json:"ignore_modifier"` // e.g., ".expired"
	Title          string `json:"title"`
	Link           string `json:"link"`
	Description    string `json:"description"`
	Published      string `json:"published"`
	Closing        string `json:"closing"`
	Partner        string `json:"partner"`
}

// LoadVariants loads the variant configuration from the specified JSON file.
func LoadVariants(path string) (VariantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VariantConfig{}, fmt.Errorf("failed to read variant config file: %w", err)
	}

	return LoadVariantsFromBytes(data)
}

// LoadVariantsFromBytes parses and checks a variant configuration.
func LoadVariantsFromBytes(data []byte) (VariantConfig, error) {
	var cfg VariantConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return VariantConfig{}, fmt.Errorf("failed to parse variant config JSON: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Variants))
	for i, v := range cfg.Variants {
		if v.Name == "" {
			return VariantConfig{}, fmt.Errorf("variant %d has no name", i)
		}
		if seen[v.Name] {
			return VariantConfig{}, fmt.Errorf("duplicate variant %q", v.Name)
		}
		seen[v.Name] = true
		if len(v.Seeds) == 0 {
			return VariantConfig{}, fmt.Errorf("variant %q has no seeds", v.Name)
		}
		switch v.Kind {
		case KindAnchors:
		case KindListing:
			if v.Listing.Item == "" {
				return VariantConfig{}, fmt.Errorf("listing variant %q has no item selector", v.Name)
			}
		default:
			return VariantConfig{}, fmt.Errorf("variant %q has unknown kind %q", v.Name, v.Kind)
		}
	}
	return cfg, nil
}

// DefaultVariants returns the fallback configuration if no JSON file is loaded.
func DefaultVariants() VariantConfig {
	return VariantConfig{
		Variants: []Variant{
			{
				Name:      "dgmp",
				Kind:      KindAnchors,
				Partner:   "DGMP",
				OfferType: "Appel d'offres",
				Seeds: []string{
					"https://www.admin.sigomap.gouv.ci/",
					"https://www.admin.sigomap.gouv.ci/marches",
					"https://www.admin.sigomap.gouv.ci/appel-offres",
				},
				Anchors: AnchorRules{
					Keywords: []string{"appel d", "appel", "offre", "marché", "avis", "appel d'offres", "procurement"},
				},
			},
		},
	}
}
