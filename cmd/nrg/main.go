// Command nrg runs the forward diagonalization pass and (optionally)
// the backward density-matrix pass described by a parameter file and
// a chain-coefficient data file, and writes the resulting
// thermodynamic and spectral tables to a run directory, in the style
// of cmd/run/main.go's mainWithErr()/log.Fatalf("%+v", err) driver.
package main

import (
	"encoding/binary"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nrgchain/nrg/chain"
	"github.com/nrgchain/nrg/densitymatrix"
	"github.com/nrgchain/nrg/diagstate"
	"github.com/nrgchain/nrg/engine"
	"github.com/nrgchain/nrg/nrgconfig"
	"github.com/nrgchain/nrg/operator"
	"github.com/nrgchain/nrg/persist"
	"github.com/nrgchain/nrg/spectral"
	"github.com/nrgchain/nrg/spectrum"
	"github.com/nrgchain/nrg/stats"
	"github.com/nrgchain/nrg/symmetry"
	"github.com/nrgchain/nrg/workdir"

	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/invariant"
)

var (
	paramPath = flag.String("param", "param.ini", "path to the [param] INI file")
	dataPath  = flag.String("data", "data", "path to the chain-coefficient data file")
	runDir    = flag.String("d", filepath.Join("runs", "nrg"), "run directory for output tables")
)

const fnameDone = "DONE"

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	donePath := filepath.Join(*runDir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		log.Printf("run already complete: %s", donePath)
		return nil
	}
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrapf(err, "nrg: creating run dir %s", *runDir)
	}

	params, err := nrgconfig.Load(*paramPath)
	if err != nil {
		return err
	}
	data, err := nrgconfig.ReadDataFile(*dataPath)
	if err != nil {
		return err
	}

	sym, err := newSymmetry(data.Symmetry, data.Channels)
	if err != nil {
		return err
	}
	coeffs, err := buildCoefficients(data)
	if err != nil {
		return err
	}

	initial, hop := seedChain(sym, data.Channels)

	if params.Nmax > data.Sites-1 {
		return errors.Errorf("nrg: param Nmax=%d exceeds %d sites available in %s", params.Nmax, data.Sites, *dataPath)
	}

	cfg := engine.Config{
		Lambda:        params.Lambda,
		Nmax:          params.Nmax,
		Nkeep:         params.Keep,
		EmaxCfg:       params.KeepEnergy,
		NkeepMin:      params.KeepMin,
		EpsSg:         params.Safeguard,
		NsgMax:        params.SafeguardMax,
		Temperature:   params.T,
		BetaBar:       params.BetaBar,
		KeepAllLast:   true,
		RecalcAll:     params.Strategy == "all",
		DiagRatio:     1,
		RestartFactor: 2,
	}

	result, attempts, err := engine.RunWithRetry(cfg, sym, coeffs, initial, hop)
	if err != nil {
		return err
	}
	if attempts > 1 {
		log.Printf("forward pass converged after %d attempts", attempts)
	}

	scratch, err := workdir.New(params.RemoveFiles)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := scratch.Close(); cerr != nil {
			log.Printf("nrg: %+v", cerr)
		}
	}()

	last := result.Shells[len(result.Shells)-1]
	if err := checkpointLastShell(scratch, last); err != nil {
		return err
	}

	if err := writeEnergies(*runDir, result); err != nil {
		return err
	}
	if err := writeSubspaces(*runDir, result); err != nil {
		return err
	}
	if err := writeAbsoluteEnergies(*runDir, result); err != nil {
		return err
	}
	if err := writeThermo(*runDir, result, params.T); err != nil {
		return err
	}

	if params.DM {
		// The energy-tracking pass above keeps only Nkeep eigenvectors
		// per block (strategy Kept) and drops eigenvectors once a step's
		// recalculation is done, which is cheap but leaves neither the
		// discarded-state hopping matrix elements nor the eigenvectors
		// DensityMatrixEngine/SpectralEngine need. Rerun the same chain
		// deterministically with every eigenvector recalculated (spec.md
		// §2's "MatrixBuilder/Diagonalizer re-run with stored
		// transformations for DM-NRG spectra" step, done here by
		// recomputation rather than literal persist/reload).
		specCfg := cfg
		specCfg.RecalcAll = true
		specCfg.KeepVectors = true
		specResult, _, err := engine.RunWithRetry(specCfg, sym, coeffs, initial, hop)
		if err != nil {
			return err
		}

		rhos, err := engine.RunBackwardDM(sym, specResult, params.BetaBar)
		if err != nil {
			return err
		}
		if err := persistRhos(scratch, "rho", specResult.Shells, rhos); err != nil {
			return err
		}
		if err := persistUnitaries(scratch, specResult.Shells); err != nil {
			return err
		}

		shellEnergies := engine.FDMShellEnergies(sym, specResult.Shells)
		weights, err := densitymatrix.Compute(shellEnergies, len(sym.LocalStates), params.T)
		if err != nil {
			return err
		}

		var rhoFDMs []*densitymatrix.Rho
		if params.FDM {
			rhoFDMs, err = engine.RunFDM(sym, specResult, weights, params.BetaBar)
			if err != nil {
				return err
			}
			if err := persistRhos(scratch, "rhoFDM", specResult.Shells, rhoFDMs); err != nil {
				return err
			}
			if err := writeFDMThermo(*runDir, sym, specResult, weights, params.T); err != nil {
				return err
			}
		}

		if err := writeCustomExpectation(filepath.Join(*runDir, "custom"), sym, specResult.Shells, rhos, 0, 0); err != nil {
			return err
		}
		if rhoFDMs != nil {
			if err := writeCustomExpectation(filepath.Join(*runDir, "customfdm"), sym, specResult.Shells, rhoFDMs, 0, 0); err != nil {
				return err
			}
		}

		if err := writeSpectra(*runDir, sym, specResult, rhos, rhoFDMs, params, params.BetaBar); err != nil {
			return err
		}
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrapf(err, "nrg: writing %s", donePath)
	}
	return nil
}

// newSymmetry dispatches on the data file's symmetry name, the one
// place cmd/nrg switches on a string rather than taking a capability
// object, matching the teacher's my_assert_not_reached default-case
// idiom for an unrecognized name.
func newSymmetry(name string, channels int) (*symmetry.Symmetry, error) {
	switch strings.ToUpper(name) {
	case "U1":
		return symmetry.NewU1(channels)
	case "QSZ":
		return symmetry.NewQSZ(channels)
	case "QS":
		return symmetry.NewQS(channels)
	default:
		return nil, &engine.Error{Kind: engine.UnsupportedSymmetry, Err: errors.Errorf("nrg: unrecognized symmetry %q", name)}
	}
}

// buildCoefficients copies every table nrgconfig.ReadDataFile parsed
// into the chain.Coefficients setter matching its name, returning an
// error for any table name it has no setter for.
func buildCoefficients(data *nrgconfig.DataFile) (*chain.Coefficients, error) {
	c := chain.New(data.Sites, data.Channels)
	setters := map[string]func(site, ch int, v complex128) error{
		"zeta":     c.SetZeta,
		"xi":       c.SetXi,
		"kappa":    c.SetKappa,
		"zetaup":   c.SetZetaUp,
		"zetadown": c.SetZetaDown,
		"xiup":     c.SetXiUp,
		"xidown":   c.SetXiDown,
		"xiupdown": c.SetXiUpDown,
		"xidownup": c.SetXiDownUp,
		"delta":    c.SetDelta,
	}
	for name, rows := range data.Coefficients {
		set, ok := setters[strings.ToLower(name)]
		if !ok {
			return nil, errors.Errorf("nrg: data file names unknown coefficient table %q", name)
		}
		for site, row := range rows {
			for ch, v := range row {
				if err := set(site, ch, v); err != nil {
					return nil, errors.Wrapf(err, "nrg: table %s", name)
				}
			}
		}
	}
	return c, nil
}

// seedChain builds the trivial one-state, singlet-invariant starting
// shell and an empty hopping operator with one identity block on the
// singlet subspace. Deriving the impurity's own eigenbasis and bare
// hopping matrix elements is the symbolic front end's job and stays
// out of scope; this stands in for that front end's output so the
// forward pass below has something to adjoin the chain onto.
func seedChain(sym *symmetry.Symmetry, channels int) (*diagstate.DiagState, operator.Hopping) {
	state := diagstate.New()
	sp, _ := spectrum.New([]float64{0}, identityBlock())
	sp.SubtractGroundState(0)
	_ = sp.Split([]invariant.Invariant{sym.Singlet}, []int{1})
	state.Insert(sym.Singlet, sp)
	_ = state.SnapshotDims(sym.Singlet, false)

	hop := operator.NewHopping(channels, sym.Flavors)
	for ch := 0; ch < channels; ch++ {
		hop[ch][0].Set(sym.Singlet, sym.Singlet, identityBlock())
	}
	return state, hop
}

func identityBlock() *mat.CDense { return mat.NewCDense(1, 1, []complex128{1}) }

func writeEnergies(dir string, result *engine.Result) error {
	return writeCSV(filepath.Join(dir, "energies.nrg"), []string{"step", "scale", "egs"}, func(w *csv.Writer) error {
		for _, shell := range result.Shells {
			if err := w.Write([]string{
				strconv.Itoa(shell.Step.TrueN),
				strconv.FormatFloat(shell.Scale, 'g', 17, 64),
				strconv.FormatFloat(shell.Egs, 'g', 17, 64),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeSubspaces(dir string, result *engine.Result) error {
	return writeCSV(filepath.Join(dir, "subspaces.dat"), []string{"step", "invariant", "kept", "total"}, func(w *csv.Writer) error {
		for _, shell := range result.Shells {
			for _, i := range shell.State.Invariants() {
				dims := shell.State.Dims(i)
				if dims == nil {
					continue
				}
				if err := w.Write([]string{
					strconv.Itoa(shell.Step.TrueN),
					i.String(),
					strconv.Itoa(dims.Kept),
					strconv.Itoa(dims.Total),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func writeAbsoluteEnergies(dir string, result *engine.Result) error {
	return writeCSV(filepath.Join(dir, "absolute_energies.dat"), []string{"step", "invariant", "index", "abse", "absEG", "absEN"}, func(w *csv.Writer) error {
		for _, shell := range result.Shells {
			for _, i := range shell.State.Invariants() {
				dims := shell.State.Dims(i)
				if dims == nil {
					continue
				}
				for k := range dims.AbsE {
					if err := w.Write([]string{
						strconv.Itoa(shell.Step.TrueN),
						i.String(),
						strconv.Itoa(k),
						strconv.FormatFloat(dims.AbsE[k], 'g', 17, 64),
						strconv.FormatFloat(dims.AbsEG[k], 'g', 17, 64),
						strconv.FormatFloat(dims.AbsEN[k], 'g', 17, 64),
					}); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

// writeThermo computes and writes the "td" table: one row of
// double-precision thermodynamic quantities per shell, from that
// shell's absEG samples, matching spec.md §4.8's per-step Stats/Thermo
// output.
func writeThermo(dir string, result *engine.Result, temperature float64) error {
	return writeCSV(filepath.Join(dir, "td"), []string{"step", "Z", "E", "C", "F", "S"}, func(w *csv.Writer) error {
		for _, shell := range result.Shells {
			var samples []stats.Sample
			for _, i := range shell.State.Invariants() {
				sp := shell.State.Get(i)
				if sp == nil {
					continue
				}
				for _, e := range sp.AbsEG {
					samples = append(samples, stats.Sample{Energy: e, Mult: 1})
				}
			}
			if len(samples) == 0 {
				continue
			}
			th, err := stats.Compute(samples, temperature)
			if err != nil {
				return err
			}
			if err := w.Write([]string{
				strconv.Itoa(shell.Step.TrueN),
				strconv.FormatFloat(th.Z, 'g', 17, 64),
				strconv.FormatFloat(th.E, 'g', 17, 64),
				strconv.FormatFloat(th.C, 'g', 17, 64),
				strconv.FormatFloat(th.F, 'g', 17, 64),
				strconv.FormatFloat(th.S, 'g', 17, 64),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeCSV(path string, header []string, body func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "nrg: path=%s", path)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.Wrapf(err, "nrg: writing header path=%s", path)
	}
	if err := body(w); err != nil {
		return errors.Wrapf(err, "nrg: path=%s", path)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "nrg: path=%s", path)
	}
	return nil
}

// checkpointLastShell persists the final shell's recalculated hopping
// operator to the scratch directory via package persist, the backward
// pass's natural resume point if it were split into a separate process
// (spec.md §4.7).
func checkpointLastShell(scratch *workdir.Dir, shell engine.ShellResult) error {
	var blocks []persist.Block
	for ch := range shell.Hop {
		for fl := range shell.Hop[ch] {
			set := shell.Hop[ch][fl]
			for _, k := range set.Keys() {
				blocks = append(blocks, persist.Block{I1: k.I1, I2: k.I2, Matrix: set.Get(k.I1, k.I2)})
			}
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	path := scratch.Join(fmt.Sprintf("hop-%d.bin", shell.Step.TrueN))
	if err := persist.WriteBlocks(path, blocks); err != nil {
		return err
	}
	return nil
}

// persistRhos dumps one reduced-density-matrix file per shell to the
// scratch directory, named "<prefix><N>" per spec.md §6's persisted
// state layout, each invariant's diagonal weight packed as an Nx1
// persist.Block with I1==I2 since the density matrix this engine
// builds is diagonal within a subspace.
func persistRhos(scratch *workdir.Dir, prefix string, shells []engine.ShellResult, rhos []*densitymatrix.Rho) error {
	for n, rho := range rhos {
		var blocks []persist.Block
		for _, inv := range shells[n].State.Invariants() {
			row := rho.Diag[inv]
			if row == nil {
				continue
			}
			m := mat.NewCDense(len(row), 1, nil)
			for i, v := range row {
				m.Set(i, 0, complex(v, 0))
			}
			blocks = append(blocks, persist.Block{I1: inv, I2: inv, Matrix: m})
		}
		if len(blocks) == 0 {
			continue
		}
		path := scratch.Join(fmt.Sprintf("%s%d", prefix, shells[n].Step.TrueN))
		if err := persist.WriteBlocks(path, blocks); err != nil {
			return err
		}
	}
	return nil
}

// persistUnitaries dumps each shell's per-invariant eigenvector matrix
// to the scratch directory as "unitary<N>", the transformation the
// spec.md §4.7 persistence contract stores for the backward pass to
// re-read (here, the backward pass reads the in-memory Vecs the spec
// pass kept around instead, but the file is still written so the
// persisted layout is complete and inspectable).
func persistUnitaries(scratch *workdir.Dir, shells []engine.ShellResult) error {
	for _, shell := range shells {
		var blocks []persist.Block
		for _, inv := range shell.State.Invariants() {
			sp := shell.State.Get(inv)
			if sp == nil || sp.Vecs == nil {
				continue
			}
			blocks = append(blocks, persist.Block{I1: inv, I2: inv, Matrix: sp.Vecs})
		}
		if len(blocks) == 0 {
			continue
		}
		path := scratch.Join(fmt.Sprintf("unitary%d", shell.Step.TrueN))
		if err := persist.WriteBlocks(path, blocks); err != nil {
			return err
		}
	}
	return nil
}

// writeFDMThermo writes the "tdfdm" table: one row of FDM-weighted
// thermodynamic quantities per shell, from that shell's AbsEN samples
// (referenced to the global ground state, since FDM sums weight across
// every shell along the chain) multiplied by weights.Wn.
func writeFDMThermo(dir string, sym *symmetry.Symmetry, result *engine.Result, weights *densitymatrix.FDMWeights, temperature float64) error {
	return writeCSV(filepath.Join(dir, "tdfdm"), []string{"step", "Z", "E", "C", "F", "S"}, func(w *csv.Writer) error {
		for n, shell := range result.Shells {
			wn := weights.Wn[n]
			var samples []stats.Sample
			for _, i := range shell.State.Invariants() {
				sp := shell.State.Get(i)
				if sp == nil {
					continue
				}
				mult := float64(sym.Multiplicity(i))
				for _, e := range sp.AbsEN {
					samples = append(samples, stats.Sample{Energy: e, Mult: mult * wn})
				}
			}
			if len(samples) == 0 {
				continue
			}
			th, err := stats.ComputeFDM(samples, temperature)
			if err != nil {
				return err
			}
			if err := w.Write([]string{
				strconv.Itoa(shell.Step.TrueN),
				strconv.FormatFloat(th.Z, 'g', 17, 64),
				strconv.FormatFloat(th.E, 'g', 17, 64),
				strconv.FormatFloat(th.C, 'g', 17, 64),
				strconv.FormatFloat(th.F, 'g', 17, 64),
				strconv.FormatFloat(th.S, 'g', 17, 64),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeCustomExpectation writes one expectation-value table: for every
// shell, trace(rho * op[ch][fl]) restricted to each invariant's
// diagonal block, the stand-in "custom operator" this engine has
// available without a per-run expectation-value operator specification.
func writeCustomExpectation(path string, sym *symmetry.Symmetry, shells []engine.ShellResult, rhos []*densitymatrix.Rho, ch, fl int) error {
	return writeCSV(path, []string{"step", "expectation"}, func(w *csv.Writer) error {
		for n, shell := range shells {
			op := shell.Hop[ch][fl]
			rho := rhos[n]
			var total float64
			for _, inv := range shell.State.Invariants() {
				row := rho.Diag[inv]
				block := op.Get(inv, inv)
				if row == nil || block == nil {
					continue
				}
				mult := float64(sym.Multiplicity(inv))
				for i, v := range row {
					total += mult * v * real(block.At(i, i))
				}
			}
			if err := w.Write([]string{
				strconv.Itoa(shell.Step.TrueN),
				strconv.FormatFloat(total, 'g', 17, 64),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeSpectra runs every enabled spectral accumulator (FT, DMNRG, CFS,
// FDM per params' finite/dmnrg/cfs/fdm flags) over every hopping component
// and writes one "spec_<algo>_dens_ch<ch>_fl<fl>.dat"/".bin" pair per
// component, matching spec.md §6's per-spectrum output naming with
// channel/flavor indices standing in for an operator name (this engine
// has no symbolic operator-naming front end).
func writeSpectra(dir string, sym *symmetry.Symmetry, specResult *engine.Result, rhos, rhoFDMs []*densitymatrix.Rho, params *nrgconfig.Params, betaBar float64) error {
	const nbins = 200
	const specMin, specMax = 1e-8, 1e3

	last := specResult.Shells[len(specResult.Shells)-1]
	channels, flavors := last.Hop.Channels(), last.Hop.Flavors()

	for ch := 0; ch < channels; ch++ {
		for fl := 0; fl < flavors; fl++ {
			label := fmt.Sprintf("ch%d_fl%d", ch, fl)

			if params.Finite {
				bins, err := spectral.NewLogBins(nbins, specMin, specMax)
				if err != nil {
					return err
				}
				if _, err := engine.AccumulateFT(sym, specResult.Shells, ch, fl, betaBar, 1.0, spectral.Fermion, bins); err != nil {
					return err
				}
				if err := writeLogBins(filepath.Join(dir, "spec_FT_dens_"+label), bins, nbins, specMin, specMax); err != nil {
					return err
				}
			}
			if params.DMNRG {
				bins, err := spectral.NewLogBins(nbins, specMin, specMax)
				if err != nil {
					return err
				}
				if _, err := engine.AccumulateDMNRG(specResult.Shells, rhos, ch, fl, 1.0, spectral.Fermion, bins); err != nil {
					return err
				}
				if err := writeLogBins(filepath.Join(dir, "spec_DMNRG_dens_"+label), bins, nbins, specMin, specMax); err != nil {
					return err
				}
			}
			if params.CFS {
				bins, err := spectral.NewLogBins(nbins, specMin, specMax)
				if err != nil {
					return err
				}
				if _, err := engine.AccumulateCFS(specResult.Shells, rhos, ch, fl, 1.0, spectral.Fermion, bins); err != nil {
					return err
				}
				if err := writeLogBins(filepath.Join(dir, "spec_CFS_dens_"+label), bins, nbins, specMin, specMax); err != nil {
					return err
				}
			}
			if params.FDM && rhoFDMs != nil {
				bins, err := spectral.NewLogBins(nbins, specMin, specMax)
				if err != nil {
					return err
				}
				if _, err := engine.AccumulateFDM(specResult.Shells, rhoFDMs, ch, fl, 1.0, spectral.Fermion, bins); err != nil {
					return err
				}
				if err := writeLogBins(filepath.Join(dir, "spec_FDM_dens_"+label), bins, nbins, specMin, specMax); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeLogBins writes a spectral accumulator's bins as both a
// human-readable (omega, weight) CSV and a raw binary dump, the
// "<name>.dat"/"<name>.bin" pair spec.md §6 names.
func writeLogBins(basePath string, bins *spectral.LogBins, nbins int, min, max float64) error {
	logMin, logMax := math.Log(min), math.Log(max)
	step := (logMax - logMin) / float64(nbins)
	if err := writeCSV(basePath+".dat", []string{"omega", "weight"}, func(w *csv.Writer) error {
		for i := nbins - 1; i >= 0; i-- {
			omega := -math.Exp(logMin + (float64(i)+0.5)*step)
			if err := w.Write([]string{strconv.FormatFloat(omega, 'g', 17, 64), strconv.FormatFloat(bins.Neg[i], 'g', 17, 64)}); err != nil {
				return err
			}
		}
		for i := 0; i < nbins; i++ {
			omega := math.Exp(logMin + (float64(i)+0.5)*step)
			if err := w.Write([]string{strconv.FormatFloat(omega, 'g', 17, 64), strconv.FormatFloat(bins.Pos[i], 'g', 17, 64)}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return writeLogBinsBinary(basePath+".bin", bins.Neg, bins.Pos)
}

func writeLogBinsBinary(path string, neg, pos []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "nrg: path=%s", path)
	}
	defer f.Close()
	for _, arr := range [][]float64{neg, pos} {
		for _, v := range arr {
			if err := binary.Write(f, binary.BigEndian, v); err != nil {
				return errors.Wrapf(err, "nrg: writing path=%s", path)
			}
		}
	}
	return nil
}
