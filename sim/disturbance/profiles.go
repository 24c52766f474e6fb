// Package disturbance provides the surgical stimulation profiles added to
// the simulated BIS, MAP and CO signals. Profiles are tabulated breakpoints
// in minutes, linearly interpolated and clamped outside the table span.
package disturbance

import (
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// Profile names.
const (
	Realistic            = "realistic"
	Realistic2           = "realistic2"
	LiverTransplantation = "liverTransplantation"
	Simple               = "simple"
	Step                 = "step"
	Null                 = "null"
)

// Options parameterizes the step profile; both times in seconds.
type Options struct {
	StartStep float64
	EndStep   float64
}

// Profile evaluates one named stimulation profile.
type Profile struct {
	points [][4]float64 // minutes, bis, map, co
}

// New builds a profile by name. Unknown names are a ConfigurationError; a
// step window with end <= start is an InvalidInputError.
func New(name string, opts Options) (*Profile, error) {
	switch name {
	case Realistic:
		return &Profile{points: realisticTable}, nil
	case Realistic2:
		return &Profile{points: realistic2Table}, nil
	case LiverTransplantation:
		return &Profile{points: liverTable}, nil
	case Simple:
		return &Profile{points: simpleTable}, nil
	case Step:
		if opts.EndStep <= opts.StartStep {
			return nil, simerr.NewInvalidInput("disturbance.New", "step window end %g <= start %g", opts.EndStep, opts.StartStep)
		}
		start := opts.StartStep / 60
		end := opts.EndStep / 60
		return &Profile{points: [][4]float64{
			{0, 0, 0, 0},
			{start - 0.01/60, 0, 0, 0},
			{start, 10, 5, 0.3},
			{end - 0.01/60, 10, 5, 0.3},
			{end, 0, 0, 0},
		}}, nil
	case Null:
		return &Profile{}, nil
	}
	return nil, simerr.NewConfiguration("disturbance", "unknown profile %q", name)
}

// At returns [bisΔ, mapΔ, coΔ] at simulation time t in seconds.
func (p *Profile) At(t float64) [3]float64 {
	if len(p.points) == 0 {
		return [3]float64{}
	}
	m := t / 60
	if m <= p.points[0][0] {
		first := p.points[0]
		return [3]float64{first[1], first[2], first[3]}
	}
	last := p.points[len(p.points)-1]
	if m >= last[0] {
		return [3]float64{last[1], last[2], last[3]}
	}
	for i := 1; i < len(p.points); i++ {
		if m <= p.points[i][0] {
			lo, hi := p.points[i-1], p.points[i]
			frac := (m - lo[0]) / (hi[0] - lo[0])
			return [3]float64{
				lo[1] + frac*(hi[1]-lo[1]),
				lo[2] + frac*(hi[2]-lo[2]),
				lo[3] + frac*(hi[3]-lo[3]),
			}
		}
	}
	return [3]float64{last[1], last[2], last[3]}
}

// Laryngoscopy, surgical incision and abdominal-retractor sequence of
// Struys 2004.
var realisticTable = [][4]float64{
	{0, 0, 0, 0},
	{9.9, 0, 0, 0},
	{10, 20, 10, 0.6},
	{12, 20, 10, 0.6},
	{13, 0, 0, 0},
	{19.9, 0, 0, 0},
	{20.2, 20, 10, 0.5},
	{21, 20, 10, 0.5},
	{21.5, 0, 0, 0},
	{26, -20, -10, -0.8},
	{27, 20, 10, 0.9},
	{28, 10, 7, 0.2},
	{36, 10, 7, 0.2},
	{37, 30, 15, 0.8},
	{37.5, 30, 15, 0.8},
	{38, 10, 5, 0.2},
	{41, 10, 5, 0.2},
	{41.5, 30, 10, 0.5},
	{42, 30, 10, 0.5},
	{43, 10, 5, 0.2},
	{47, 10, 5, 0.2},
	{47.5, 30, 10, 0.9},
	{50, 30, 8, 0.9},
	{51, 10, 5, 0.2},
	{56, 10, 5, 0.2},
	{56.5, 0, 0, 0},
}

// Repeated-stimulus sequence of Ionescu 2021.
var realistic2Table = [][4]float64{
	{0, 0, 0, 0},
	{9.9, 0, 0, 0},
	{10, 20, 10, 0.5},
	{15, 20, 10, 0.5},
	{15.1, 0, 0, 0},
	{19.9, 0, 0, 0},
	{20, 20, 10, 0.5},
	{25, 20, 10, 0.5},
	{25.1, 0, 0, 0},
	{26.9, -20, -10, -0.5},
	{27, 20, 10, 0.5},
	{32, 20, 10, 0.5},
	{32.1, 0, 0, 0},
	{41.9, 0, 0, 0},
	{42, 20, 10, 0.5},
	{44, 20, 10, 0.5},
	{44.1, 0, 0, 0},
	{50, 0, 0, 0},
	{50.1, 20, 10, 0.5},
	{55, 20, 10, 0.5},
	{55.1, 0, 0, 0},
	{75, 0, 0, 0},
	{75.1, 20, 10, 0.5},
	{95, 20, 10, 0.5},
	{95.1, 0, 0, 0},
	{100, 0, 0, 0},
}

// Intubation, incision, hepatectomy, implantation and closing phases of a
// liver transplantation, 350 minutes.
var liverTable = [][4]float64{
	{0, 0, 0, 0},
	{9.9, 0, 0, 0}, {10, 20, 10, 0.5}, {13, 20, 10, 0.5}, {13.1, 0, 0, 0},
	{16, 0, 0, 0}, {16.1, 15, 8, 0.4}, {21, 15, 8, 0.4}, {21.1, 20, 10, 0.5},
	{27, 20, 10, 0.5}, {27.1, 0, 0, 0}, {29, 0, 0, 0}, {29.1, 5, 2, 0.1},
	{37, 5, 2, 0.1}, {37.1, 0, 0, 0}, {39, 0, 0, 0}, {39.1, 5, 2, 0.1},
	{46, 5, 2, 0.1}, {46.1, 0, 0, 0}, {51, 0, 0, 0}, {51.1, 10, 5, 0.2},
	{56, 10, 5, 0.2}, {56.1, 0, 0, 0}, {65, 0, 0, 0}, {65.1, 10, 5, 0.2},
	{69, 10, 5, 0.2}, {69.1, 0, 0, 0}, {78, 0, 0, 0}, {78.1, 10, 5, 0.2},
	{82, 10, 5, 0.2}, {82.1, 0, 0, 0}, {88, 0, 0, 0}, {90, 5, 2, 0.1},
	{114, 5, 2, 0.1}, {114.1, 0, 0, 0}, {116, 0, 0, 0}, {121.5, 0, 0, 0},
	{123.5, 5, 2, 0.1}, {125.5, 0, 0, 0}, {130.5, 0, 0, 0}, {132.5, 5, 2, 0.1},
	{134.5, 0, 0, 0}, {141, 0, 0, 0}, {141.1, 10, 5, 0.2}, {145, 10, 5, 0.2},
	{145.1, 0, 0, 0}, {150, 0, 0, 0}, {151, 10, 5, 0.2}, {155, 10, 5, 0.2},
	{156, 5, 2, 0.1}, {157, 10, 5, 0.2}, {161, 10, 5, 0.2}, {162, 0, 0, 0},
	{165, 0, 0, 0}, {166, 5, 2, 0.1}, {169, 5, 2, 0.1}, {169.1, 10, 5, 0.2},
	{171, 10, 5, 0.2}, {172, 0, 0, 0}, {173, 0, 0, 0}, {173.5, 10, 5, 0.2},
	{174, 0, 0, 0}, {181, 0, 0, 0}, {181.1, 15, 8, 0.4}, {183.5, 15, 8, 0.4},
	{183.6, 0, 0, 0}, {186, 0, 0, 0}, {186.1, 10, 5, 0.2}, {189, 10, 5, 0.2},
	{189.1, 0, 0, 0}, {190, 0, 0, 0}, {190.1, 5, 2, 0.1}, {193, 5, 2, 0.1},
	{193.1, 0, 0, 0}, {196, 0, 0, 0}, {198, 8, 4, 0.1}, {204, 8, 4, 0.1},
	{206, 0, 0, 0}, {208, 0, 0, 0}, {210, 10, 5, 0.2}, {222, 10, 5, 0.2},
	{224, 0, 0, 0}, {226, 5, 2, 0.1}, {227, 12, 6, 0.3}, {232, 12, 6, 0.3},
	{234, 0, 0, 0}, {237, 0, 0, 0}, {238, 8, 4, 0.1}, {251, 8, 4, 0.1},
	{252, 0, 0, 0}, {260, 0, 0, 0}, {263, 15, 8, 0.4}, {270, 15, 8, 0.4},
	{273, 5, 2, 0.1}, {338, 5, 2, 0.1}, {341, 0, 0, 0}, {350, 0, 0, 0},
}

// Single-onset decaying stimulus of Dumont 2009.
var simpleTable = [][4]float64{
	{0, 0, 0, 0},
	{19.9, 0, 0, 0},
	{20, 20, 5, 0.3},
	{23, 20, 10, 0.6},
	{24, 15, 10, 0.6},
	{26, 12.5, 6, 0.4},
	{30, 10.5, 4, 0.3},
	{37, 10, 4, 0.3},
	{40, 4, 2, 0.1},
	{45, 0.5, 0.1, 0.01},
	{50, 0, 0, 0},
}
