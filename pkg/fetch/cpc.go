package fetch

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
)

// DefaultCPCBaseURL is the NOAA PSL file server hosting the CPC datasets.
const DefaultCPCBaseURL = "https://downloads.psl.noaa.gov"

type cpcPreset struct {
	firstYear int
	// paths are probed in order; archive folders come before real-time
	// folders so a finalised year is preferred over a provisional one.
	paths []string
}

var cpcPresets = map[string]cpcPreset{
	"global_precip": {
		firstYear: 1979,
		paths:     []string{"/Datasets/cpc_global_precip/precip.{year}.nc"},
	},
	"global_temp_max": {
		firstYear: 1979,
		paths:     []string{"/Datasets/cpc_global_temp/tmax.{year}.nc"},
	},
	"global_temp_min": {
		firstYear: 1979,
		paths:     []string{"/Datasets/cpc_global_temp/tmin.{year}.nc"},
	},
	"us_precip": {
		firstYear: 1948,
		paths: []string{
			"/Datasets/cpc_us_precip/precip.V1.0.{year}.nc",
			"/Datasets/cpc_us_precip/RT/precip.V1.0.{year}.nc",
		},
	},
}

// CPCDatasets returns the names of the CPC presets, sorted.
func CPCDatasets() []string {
	names := make([]string, 0, len(cpcPresets))
	for name := range cpcPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CPCOptions configure a CPC fetcher.
type CPCOptions struct {
	Dataset     string        `yaml:"dataset"`
	BaseURL     string        `yaml:"base_url"`
	FirstYear   int           `yaml:"first_year"`
	LastYear    int           `yaml:"last_year"`
	Cache       fsys.Location `yaml:"cache"`
	Concurrency int           `yaml:"concurrency"`
	// RequestsPerSecond caps requests to the file server.
	RequestsPerSecond float64   `yaml:"requests_per_second"`
	Probe             TimeProbe `yaml:"-"`
}

// NewCPC returns a yearly fetcher over the NOAA CPC files of one dataset.
func NewCPC(opts CPCOptions) (*Yearly, error) {
	preset, ok := cpcPresets[opts.Dataset]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "Unrecognized dataset: %s, valid values are %s",
			opts.Dataset, strings.Join(CPCDatasets(), ", "))
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultCPCBaseURL
	}
	first := opts.FirstYear
	if first == 0 {
		first = preset.firstYear
	}

	templates := make([]string, len(preset.paths))
	for i, p := range preset.paths {
		templates[i] = base + p
	}
	remote, err := NewHTTPRemote(HTTPOptions{
		Templates:         templates,
		FirstYear:         first,
		LastYear:          opts.LastYear,
		Concurrency:       opts.Concurrency,
		RequestsPerSecond: opts.RequestsPerSecond,
		Burst:             opts.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	return NewYearly(YearlyOptions{
		Name:        "cpc_" + opts.Dataset,
		Remotes:     []Remote{remote},
		Cache:       opts.Cache,
		Probe:       opts.Probe,
		Concurrency: opts.Concurrency,
	})
}
