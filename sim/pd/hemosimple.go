package pd

import (
	"math"

	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
)

// Spreads used where the literature reports no variability estimate.
const (
	spreadUnknown = 0.4 // log-normal, from cv 0.4
	stdUnknown    = 1.0 // additive
)

// SimpleHemoConfig configures the static surface model.
type SimpleHemoConfig struct {
	COBase  float64 // L/min; default 6.5
	MAPBase float64 // mmHg; default 90
	Sampler drugrand.Sampler
}

// SimpleHemo is the static alternative to the mechanistic model: MAP and CO
// are the baselines plus one Hill curve per drug, with no internal dynamics.
// Propofol acts on arterial pressure through its two dedicated effect sites.
type SimpleHemo struct {
	coBase, mapBase float64

	emaxNoreMAP, c50NoreMAP, gammaNoreMAP float64
	emaxNoreCO, c50NoreCO, gammaNoreCO    float64

	emaxPropoSAP, emaxPropoDAP            float64
	c50PropoMAP1, gammaPropoMAP1          float64
	c50PropoMAP2, gammaPropoMAP2          float64
	emaxPropoCO, c50PropoCO, gammaPropoCO float64

	emaxRemiMAP, c50RemiMAP, gammaRemiMAP float64
	emaxRemiCO, c50RemiCO, gammaRemiCO    float64
}

// NewSimpleHemo builds the surface model.
func NewSimpleHemo(cfg SimpleHemoConfig) *SimpleHemo {
	coBase := cfg.COBase
	if coBase == 0 {
		coBase = 6.5
	}
	mapBase := cfg.MAPBase
	if mapBase == 0 {
		mapBase = 90
	}

	h := &SimpleHemo{
		coBase:  coBase,
		mapBase: mapBase,

		emaxNoreMAP: 98.7, c50NoreMAP: 70.4, gammaNoreMAP: 1.8,
		emaxNoreCO: 0.3 * coBase, c50NoreCO: 0.36, gammaNoreCO: 2.3,

		emaxPropoSAP: 54.8, emaxPropoDAP: 18.1,
		c50PropoMAP1: 1.96, gammaPropoMAP1: 4.77,
		c50PropoMAP2: 2.20, gammaPropoMAP2: 8.49,
		emaxPropoCO: -2, c50PropoCO: 2.6, gammaPropoCO: 2,

		emaxRemiMAP: -mapBase, c50RemiMAP: 17.1, gammaRemiMAP: 4.56,
		emaxRemiCO: -1.5, c50RemiCO: 5, gammaRemiCO: 2,
	}

	if cfg.Sampler != nil {
		s := cfg.Sampler
		h.c50NoreMAP *= s.LogNormal(1.64)
		h.emaxNoreCO += s.Normal(stdUnknown)
		h.c50NoreCO *= s.LogNormal(spreadUnknown)
		h.gammaNoreCO *= s.LogNormal(spreadUnknown)

		h.emaxPropoSAP *= s.LogNormal(0.0871)
		h.emaxPropoDAP *= s.LogNormal(0.207)
		h.c50PropoMAP1 *= s.LogNormal(0.165)
		h.c50PropoMAP2 *= s.LogNormal(0.148)
		// Slope spreads from the published cv are huge; cap the factor.
		h.gammaPropoMAP1 *= math.Min(3, s.LogNormal(drugrand.SpreadFromCV(5.59)))
		h.gammaPropoMAP2 *= math.Min(3, s.LogNormal(drugrand.SpreadFromCV(6.33)))
		h.emaxPropoCO += s.Normal(stdUnknown)
		h.c50PropoCO *= s.LogNormal(spreadUnknown)
		h.gammaPropoCO *= s.LogNormal(spreadUnknown)

		h.c50RemiMAP *= s.LogNormal(0.09)
		h.emaxRemiCO *= s.LogNormal(spreadUnknown)
		h.c50RemiCO *= s.LogNormal(spreadUnknown)
		h.gammaRemiCO *= s.LogNormal(spreadUnknown)
	}
	return h
}

// Compute returns (map, co) for the propofol arterial-pressure effect-site
// pair, the remifentanil arterial-pressure effect site, and the
// norepinephrine plasma concentration.
func (h *SimpleHemo) Compute(cePropo1, cePropo2, ceRemi, cNore float64) (mapOut, co float64) {
	cePropo1 = math.Max(0, cePropo1)
	cePropo2 = math.Max(0, cePropo2)
	ceRemi = math.Max(0, ceRemi)
	cNore = math.Max(0, cNore)

	uPropo := math.Pow(cePropo1/h.c50PropoMAP1, h.gammaPropoMAP1) +
		math.Pow(cePropo2/h.c50PropoMAP2, h.gammaPropoMAP2)
	mapOut = h.mapBase +
		h.emaxNoreMAP*fsig(cNore, h.c50NoreMAP, h.gammaNoreMAP) -
		(h.emaxPropoDAP+(h.emaxPropoSAP+h.emaxPropoDAP)/3)*uPropo/(1+uPropo) +
		h.emaxRemiMAP*fsig(ceRemi, h.c50RemiMAP, h.gammaRemiMAP)

	co = h.coBase +
		h.emaxNoreCO*fsig(cNore, h.c50NoreCO, h.gammaNoreCO) +
		h.emaxPropoCO*fsig((cePropo1+cePropo2)/2, h.c50PropoCO, h.gammaPropoCO) +
		h.emaxRemiCO*fsig(ceRemi, h.c50RemiCO, h.gammaRemiCO)
	return mapOut, co
}

// Baseline returns the drug-free (map, co).
func (h *SimpleHemo) Baseline() (mapBase, coBase float64) {
	return h.mapBase, h.coBase
}

// NoreMAPParams returns the norepinephrine MAP sigmoid (emax, c50, gamma).
func (h *SimpleHemo) NoreMAPParams() (emax, c50, gamma float64) {
	return h.emaxNoreMAP, h.c50NoreMAP, h.gammaNoreMAP
}
