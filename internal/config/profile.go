package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pauljones0/tender-watch/internal/models"
)

//go:embed profile.yaml
var embeddedProfile []byte

// Profile is the client's filtering vocabulary and the list of institutional
// pages to follow. Terms are matched after accent folding.
type Profile struct {
	CountryCode   string              `yaml:"country_code"`
	CountryName   string              `yaml:"country_name"`
	CountryTerms  []string            `yaml:"country_terms"`
	GeoTerms      []string            `yaml:"geo_terms"`
	SoftCityTerms []string            `yaml:"soft_city_terms"`
	URLHints      []string            `yaml:"url_hints"`
	SourceHints   []string            `yaml:"source_hints"`
	TenderTerms   []string            `yaml:"tender_terms"`
	FocusTerms    []string            `yaml:"focus_terms"`
	Follower      FollowerProfile     `yaml:"follower"`
	Links         []models.SourceLink `yaml:"links"`
}

// FollowerProfile is the default anchor vocabulary of the generic link follower.
type FollowerProfile struct {
	CommonKeywords  []string `yaml:"common_keywords"`
	IncludeURLParts []string `yaml:"include_url_parts"`
	ExcludeURLParts []string `yaml:"exclude_url_parts"`
	MaxLinks        int      `yaml:"max_links"`
}

// LoadProfile reads the profile at path when one is given, otherwise the
// embedded profile. An unreadable embedded profile falls back to DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Profile{}, fmt.Errorf("failed to read filter profile %s: %w", path, err)
		}
		p, err := ParseProfile(data)
		if err != nil {
			return Profile{}, fmt.Errorf("filter profile %s: %w", path, err)
		}
		slog.Info("Loaded filter profile from file", "path", path, "links", len(p.Links))
		return p, nil
	}

	p, err := ParseProfile(embeddedProfile)
	if err != nil {
		slog.Warn("Embedded filter profile failed to parse, using defaults", "error", err)
		return DefaultProfile(), nil
	}
	return p, nil
}

// ParseProfile decodes a YAML profile, filling unset sections from DefaultProfile.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse filter profile YAML: %w", err)
	}

	def := DefaultProfile()
	if p.CountryCode == "" {
		p.CountryCode = def.CountryCode
	}
	if p.CountryName == "" {
		p.CountryName = def.CountryName
	}
	if len(p.TenderTerms) == 0 {
		p.TenderTerms = def.TenderTerms
	}
	if len(p.Follower.CommonKeywords) == 0 {
		p.Follower.CommonKeywords = def.Follower.CommonKeywords
	}
	if len(p.Follower.IncludeURLParts) == 0 {
		p.Follower.IncludeURLParts = def.Follower.IncludeURLParts
	}
	if len(p.Follower.ExcludeURLParts) == 0 {
		p.Follower.ExcludeURLParts = def.Follower.ExcludeURLParts
	}
	if p.Follower.MaxLinks <= 0 {
		p.Follower.MaxLinks = def.Follower.MaxLinks
	}
	return p, nil
}

// DefaultProfile is the minimal built-in vocabulary.
func DefaultProfile() Profile {
	return Profile{
		CountryCode:   "ci",
		CountryName:   "Côte d'Ivoire",
		CountryTerms:  []string{"cote d'ivoire", "cote d ivoire", "cotedivoire", "ivory coast", "civ"},
		SoftCityTerms: []string{"abidjan", "yamoussoukro", "bouake", "san pedro", "sassandra", "korhogo"},
		URLHints:      []string{"cotedivoire", "cote-divoire"},
		SourceHints:   []string{"ci"},
		TenderTerms: []string{
			"appel d'offres", "appel d offres", "ao", "dao", "ami",
			"manifestation d'interet", "consultant", "consultance", "prestataire",
			"termes de reference", "tdr", "request for proposal", "rfp", "tender",
		},
		Follower: FollowerProfile{
			CommonKeywords: []string{
				"appel", "appel d'offres", "offre", "marche", "avis", "manifestation",
				"tender", "procurement", "rfq", "rfp", "eoi", "expression of interest", "invitation",
			},
			IncludeURLParts: []string{
				"procurement", "tender", "bid", "rfq", "rfp", "eoi",
				"expression-of-interest", "invitation", "appel", "offre", "march", "avis",
			},
			ExcludeURLParts: []string{
				"/blog", "/news", "/press", "/story", "/stories", "/article", "/photo", "/video",
				"/climate", "/report", "/publications", "/about", "/contact", "/careers",
				"/jobs", "/media", "/events",
			},
			MaxLinks: 60,
		},
	}
}
