// Package sector holds the static sector policy: which metrics a sector may
// derive, which valuation models it allows, and its terminal growth cap.
package sector

import (
	"os"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intellifin/internal/model"
)

// FCFProxy selects the margin used as the cash-flow base in DCF.
type FCFProxy string

const (
	ProxyPAT FCFProxy = "PAT"
	ProxyFCF FCFProxy = "FCF"
)

// Profile is the valuation and metric policy for one sector.
type Profile struct {
	Sector               string
	FCFProxy             FCFProxy
	AllowedMetrics       mapset.Set[string]
	AllowedModels        mapset.Set[string]
	TerminalGrowthCapPct float64
	Notes                string
}

// AllowsMetric reports whether the sector may derive the named metric.
func (p Profile) AllowsMetric(name string) bool {
	return p.AllowedMetrics != nil && p.AllowedMetrics.Contains(name)
}

// AllowsModel reports whether the sector may be valued with the named model.
func (p Profile) AllowsModel(name string) bool {
	return p.AllowedModels != nil && p.AllowedModels.Contains(name)
}

// TerminalGrowthCap returns the cap as a fraction (6 -> 0.06).
func (p Profile) TerminalGrowthCap() float64 {
	return p.TerminalGrowthCapPct / 100
}

// MarginMetric returns the derived metric that stands in for cash flow.
func (p Profile) MarginMetric() string {
	if p.FCFProxy == ProxyPAT {
		return model.MetricPATMargin
	}
	return model.MetricFCFMargin
}

// Registry is a read-only mapping from sector key to Profile. It is passed
// into each stage rather than read from package state.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a registry from the given profiles, keyed by Profile.Sector.
func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Sector] = p
	}
	return r
}

// Get returns the profile for sector or a NotFoundError.
func (r *Registry) Get(sector string) (Profile, error) {
	p, ok := r.profiles[sector]
	if !ok {
		return Profile{}, model.NewNotFound("sector_profile", sector)
	}
	return p, nil
}

// Sectors returns the configured sector keys in sorted order.
func (r *Registry) Sectors() []string {
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Default returns the built-in sector profiles.
func Default() *Registry {
	return NewRegistry(
		Profile{
			Sector:               "NBFC",
			FCFProxy:             ProxyPAT,
			AllowedMetrics:       mapset.NewSet(model.MetricRevenueGrowth, model.MetricPATMargin, model.MetricROE),
			AllowedModels:        mapset.NewSet(model.ModelDCF),
			TerminalGrowthCapPct: 6,
			Notes:                "PAT used as FCF proxy due to lending-based business model",
		},
		Profile{
			Sector:               "IT",
			FCFProxy:             ProxyFCF,
			AllowedMetrics:       mapset.NewSet(model.MetricRevenueGrowth, model.MetricPATMargin, model.MetricFCFMargin),
			AllowedModels:        mapset.NewSet(model.ModelDCF, model.ModelRelative),
			TerminalGrowthCapPct: 5,
			Notes:                "FCF is a primary metric for asset-light IT services",
		},
	)
}

// fileProfile is the YAML shape of one profile.
type fileProfile struct {
	FCFProxy             string   `yaml:"fcf_proxy"`
	AllowedMetrics       []string `yaml:"allowed_metrics"`
	AllowedModels        []string `yaml:"allowed_models"`
	TerminalGrowthCapPct float64  `yaml:"terminal_growth_cap_pct"`
	Notes                string   `yaml:"notes"`
}

type fileRegistry struct {
	Sectors map[string]fileProfile `yaml:"sectors"`
}

// Load reads sector profiles from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sector: read %s", path)
	}
	return Parse(data)
}

// Parse decodes sector profiles from YAML.
func Parse(data []byte) (*Registry, error) {
	var f fileRegistry
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "sector: parse profiles")
	}
	if len(f.Sectors) == 0 {
		return nil, eris.New("sector: no profiles defined")
	}

	profiles := make([]Profile, 0, len(f.Sectors))
	for key, fp := range f.Sectors {
		proxy := FCFProxy(fp.FCFProxy)
		if proxy != ProxyPAT && proxy != ProxyFCF {
			return nil, eris.Errorf("sector: %s: invalid fcf_proxy %q", key, fp.FCFProxy)
		}
		if fp.TerminalGrowthCapPct <= 0 {
			return nil, eris.Errorf("sector: %s: terminal_growth_cap_pct must be positive", key)
		}
		profiles = append(profiles, Profile{
			Sector:               key,
			FCFProxy:             proxy,
			AllowedMetrics:       mapset.NewSet(fp.AllowedMetrics...),
			AllowedModels:        mapset.NewSet(fp.AllowedModels...),
			TerminalGrowthCapPct: fp.TerminalGrowthCapPct,
			Notes:                fp.Notes,
		})
	}
	return NewRegistry(profiles...), nil
}
