// Package nrgconfig parses the run's parameter file (the `[param]`
// INI section of spec.md §6) via github.com/go-ini/ini, and the
// ASCII+CSV input data file describing the chain coefficients (the
// data file carries no operator blocks).
package nrgconfig

import (
	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

// Params is the decoded [param] section of spec.md §6's parameter
// file, with every recognized option given a Go field and a sane
// default applied by Load.
type Params struct {
	Lambda       float64
	Nmax         int
	Keep         int
	KeepEnergy   float64
	KeepMin      int
	Safeguard    float64
	SafeguardMax int
	T            float64
	BetaBar      float64
	Substeps     bool
	Strategy     string
	DiagMode     string

	DM        bool
	CFS       bool
	DMNRG     bool
	FDM       bool
	Finite    bool
	FDMExpv   bool
	FiniteMats bool
	CFSGT     bool
	CFSLS     bool
	FDMGT     bool
	FDMLS     bool
	FDMMats   bool

	SpecRaw     string
	SpecD       string
	SpecS       string
	SpecT       string
	SpecQ       string
	SpecChit    string

	StopAfter   string
	RemoveFiles bool
}

// Load parses path's [param] section into a Params value, applying
// spec.md §6's stated defaults for every option left unset.
func Load(path string) (*Params, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "nrgconfig: path=%s", path)
	}
	sec := cfg.Section("param")

	p := &Params{
		Lambda:       sec.Key("Lambda").MustFloat64(2.0),
		Nmax:         sec.Key("Nmax").MustInt(50),
		Keep:         sec.Key("keep").MustInt(1000),
		KeepEnergy:   sec.Key("keepenergy").MustFloat64(0),
		KeepMin:      sec.Key("keepmin").MustInt(0),
		Safeguard:    sec.Key("safeguard").MustFloat64(1e-10),
		SafeguardMax: sec.Key("safeguardmax").MustInt(0),
		T:            sec.Key("T").MustFloat64(1e-10),
		BetaBar:      sec.Key("betabar").MustFloat64(1.0),
		Substeps:     sec.Key("substeps").MustBool(false),
		Strategy:     sec.Key("strategy").MustString("kept"),
		DiagMode:     sec.Key("diag_mode").MustString(""),

		DM:         sec.Key("dm").MustBool(false),
		CFS:        sec.Key("cfs").MustBool(false),
		DMNRG:      sec.Key("dmnrg").MustBool(false),
		FDM:        sec.Key("fdm").MustBool(false),
		Finite:     sec.Key("finite").MustBool(false),
		FDMExpv:    sec.Key("fdmexpv").MustBool(false),
		FiniteMats: sec.Key("finitemats").MustBool(false),
		CFSGT:      sec.Key("cfsgt").MustBool(false),
		CFSLS:      sec.Key("cfsls").MustBool(false),
		FDMGT:      sec.Key("fdmgt").MustBool(false),
		FDMLS:      sec.Key("fdmls").MustBool(false),
		FDMMats:    sec.Key("fdmmats").MustBool(false),

		SpecRaw:  sec.Key("spec").MustString(""),
		SpecD:    sec.Key("specd").MustString(""),
		SpecS:    sec.Key("specs").MustString(""),
		SpecT:    sec.Key("spect").MustString(""),
		SpecQ:    sec.Key("specq").MustString(""),
		SpecChit: sec.Key("specchit").MustString(""),

		StopAfter:   sec.Key("stopafter").MustString(""),
		RemoveFiles: sec.Key("removefiles").MustBool(false),
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the cross-field invariants spec.md §7's CorruptInput
// kind is meant to catch at startup.
func (p *Params) Validate() error {
	if p.Lambda <= 1 {
		return errors.Errorf("nrgconfig: Lambda must be > 1, got %g", p.Lambda)
	}
	if p.Nmax <= 0 {
		return errors.Errorf("nrgconfig: Nmax must be positive, got %d", p.Nmax)
	}
	if p.Keep <= 0 {
		return errors.Errorf("nrgconfig: keep must be positive, got %d", p.Keep)
	}
	if p.KeepMin < 0 || p.KeepMin > p.Keep {
		return errors.Errorf("nrgconfig: keepmin=%d out of range [0,keep=%d]", p.KeepMin, p.Keep)
	}
	if p.T <= 0 {
		return errors.Errorf("nrgconfig: T must be positive, got %g", p.T)
	}
	if p.BetaBar <= 0 {
		return errors.Errorf("nrgconfig: betabar must be positive, got %g", p.BetaBar)
	}
	switch p.Strategy {
	case "all", "kept":
	default:
		return errors.Errorf("nrgconfig: strategy must be \"all\" or \"kept\", got %q", p.Strategy)
	}
	switch p.DiagMode {
	case "", "MPI":
	default:
		return errors.Errorf("nrgconfig: diag_mode must be \"\" or \"MPI\", got %q", p.DiagMode)
	}
	return nil
}
