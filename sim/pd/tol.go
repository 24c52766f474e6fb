package pd

import (
	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// TOLParams is the hierarchical analgesia model parameter set.
type TOLParams struct {
	C50p         float64 // µg/ml
	C50r         float64 // ng/ml
	GammaP       float64
	GammaR       float64
	PreIntensity float64 // preopioid stimulus intensity, laryngoscopy
}

// TOLConfig selects a variant or a custom parameter set.
type TOLConfig struct {
	Variant string
	Custom  *TOLParams
	Sampler drugrand.Sampler
}

// TOL predicts tolerance of laryngoscopy from propofol and remifentanil
// effect-site concentrations: 1 means the stimulus is tolerated, 0 fully
// awake. Stateless.
type TOL struct {
	p TOLParams
}

// NewTOL builds a TOL model; Bouillon is the only published variant.
func NewTOL(cfg TOLConfig) (*TOL, error) {
	if cfg.Custom != nil {
		return &TOL{p: *cfg.Custom}, nil
	}
	switch cfg.Variant {
	case "Bouillon", "":
	default:
		return nil, simerr.NewConfiguration("tol model", "unknown variant %q", cfg.Variant)
	}
	p := TOLParams{C50p: 8.04, C50r: 1.07, GammaP: 5.1, GammaR: 0.97, PreIntensity: 1.05}
	if cfg.Sampler != nil {
		s := cfg.Sampler
		p.C50r *= s.LogNormal(drugrand.SpreadFromCV(0.26))
		p.GammaP *= s.LogNormal(drugrand.SpreadFromCV(0.9))
		p.GammaR *= s.LogNormal(drugrand.SpreadFromCV(0.23))
	}
	return &TOL{p: p}, nil
}

// Params returns the parameter set.
func (t *TOL) Params() TOLParams { return t.p }

// Compute returns the TOL in [0, 1]. Small negative concentrations are
// treated as zero, which gives exactly 0 at zero drug.
func (t *TOL) Compute(cp, cr float64) float64 {
	if cp < 0 {
		cp = 0
	}
	if cr < 0 {
		cr = 0
	}
	postOpioid := t.p.PreIntensity * (1 - fsig(cr, t.p.C50r*t.p.PreIntensity, t.p.GammaR))
	return fsig(cp, t.p.C50p*postOpioid, t.p.GammaP)
}
