package engine

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nrgchain/nrg/chain"
	"github.com/nrgchain/nrg/diagstate"
	"github.com/nrgchain/nrg/invariant"
	"github.com/nrgchain/nrg/operator"
	"github.com/nrgchain/nrg/recalc"
	"github.com/nrgchain/nrg/spectral"
	"github.com/nrgchain/nrg/spectrum"
	"github.com/nrgchain/nrg/stats"
	"github.com/nrgchain/nrg/symmetry"
)

// seedU1 returns a one-subspace initial DiagState: the vacuum (Q=0)
// with a single state at energy zero, matching how the impurity's own
// diagonalization (outside this package's scope) would seed the chain.
func seedU1(t *testing.T, sym *symmetry.Symmetry) *diagstate.DiagState {
	t.Helper()
	vecs := mat.NewCDense(1, 1, []complex128{1})
	sp, err := spectrum.New([]float64{0}, vecs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sp.SubtractGroundState(0)
	if err := sp.Split([]invariant.Invariant{sym.Singlet}, []int{1}); err != nil {
		t.Fatalf("%+v", err)
	}
	state := diagstate.New()
	state.Insert(sym.Singlet, sp)
	if err := state.SnapshotDims(sym.Singlet, false); err != nil {
		t.Fatalf("%+v", err)
	}
	return state
}

func baseConfig() Config {
	return Config{
		Lambda:      3.0,
		Nkeep:       50,
		NkeepMin:    1,
		EpsSg:       1e-8,
		NsgMax:      0,
		BetaBar:     1.0,
		KeepAllLast: true,
	}
}

// Scenario C: zero-bandwidth edge case. Nmax=0 means the forward pass
// runs a single step, where first() and last() both hold; AllSteps has
// length 1 and GS_energy equals Egs*scale(0) exactly, since no prior
// shell contributed to the running total.
func TestScenarioZeroBandwidthSingleStep(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	seed := seedU1(t, sym)
	coeffs := chain.New(1, 1)
	hop := operator.NewHopping(1, sym.Flavors)

	cfg := baseConfig()
	cfg.Nmax = 0

	result, err := Forward(cfg, sym, coeffs, seed, hop)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(result.Shells) != 1 {
		t.Fatalf("AllSteps length = %d, want 1", len(result.Shells))
	}
	shell := result.Shells[0]
	if !shell.Step.Last {
		t.Fatalf("expected step 0 to be last when Nmax=0")
	}
	want := shell.Egs * shell.Scale
	if math.Abs(result.GSEnergy-want) > 1e-12 {
		t.Fatalf("GSEnergy = %g, want Egs*scale(0) = %g", result.GSEnergy, want)
	}
}

// Without any hopping, the four local states adjoined at step 0 land in
// three U1 charge subspaces (Q=0 vacuum; Q=1 holding both singly
// occupied states; Q=2 doubly occupied), each a purely diagonal block
// inherited from the single ancestor. This is the last step, so every
// state is kept, and all of them sit at v_zero=0 (everything is
// degenerate at the trivial input).
func TestForwardTrivialInputIsBlockDiagonal(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	seed := seedU1(t, sym)
	coeffs := chain.New(1, 1)
	hop := operator.NewHopping(1, sym.Flavors)

	cfg := baseConfig()
	cfg.Nmax = 0

	result, err := Forward(cfg, sym, coeffs, seed, hop)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	invs := result.LastState.Invariants()
	if len(invs) != 3 {
		t.Fatalf("got %d subspaces at step 0, want 3 (one per charge Q=0,1,2)", len(invs))
	}
	wantKept := map[int32]int{0: 1, 1: 2, 2: 1}
	for _, i := range invs {
		sp := result.LastState.Get(i)
		if sp.Kept != wantKept[i.Get(0)] {
			t.Fatalf("subspace %s kept=%d, want %d", i, sp.Kept, wantKept[i.Get(0)])
		}
		if math.Abs(sp.VZero[0]) > 1e-12 {
			t.Fatalf("subspace %s v_zero=%g, want 0 (degenerate trivial input)", i, sp.VZero[0])
		}
	}
}

// Forward is a pure function of its inputs: running it twice on the
// same chain must reproduce identical ground-state energies and shell
// counts. This stands in for scenario F's two-backend equivalence
// property, since both backends are required to be bit-identical on
// the same input rather than merely close.
func TestForwardIsDeterministic(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	coeffs := chain.New(2, 1)
	if err := coeffs.SetXi(0, 0, complex(0.3, 0)); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := coeffs.SetXi(1, 0, complex(0.2, 0)); err != nil {
		t.Fatalf("%+v", err)
	}

	cfg := baseConfig()
	cfg.Nmax = 1
	cfg.Nkeep = 8

	run := func() *Result {
		seed := seedU1(t, sym)
		hop := operator.NewHopping(1, sym.Flavors)
		seedHopping(t, sym, seed, hop)
		result, err := Forward(cfg, sym, coeffs, seed, hop)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		return result
	}

	a, b := run(), run()
	if len(a.Shells) != len(b.Shells) {
		t.Fatalf("shell counts differ: %d vs %d", len(a.Shells), len(b.Shells))
	}
	if a.GSEnergy != b.GSEnergy {
		t.Fatalf("GSEnergy not reproducible: %v vs %v", a.GSEnergy, b.GSEnergy)
	}
}

// seedHopping installs a trivial flavor-0 hopping matrix element
// connecting the vacuum to itself, standing in for the bare creation
// operator the (out-of-scope) symbolic front end would normally supply
// in the impurity's own eigenbasis.
func seedHopping(t *testing.T, sym *symmetry.Symmetry, seed *diagstate.DiagState, hop operator.Hopping) {
	t.Helper()
	block := mat.NewCDense(1, 1, []complex128{1})
	hop[0][0].Set(sym.Singlet, sym.Singlet, block)
}

// Backward pass: a density matrix built at the last stored shell must
// have unit trace (Testable Property 5).
func TestRunDMTraceIsOne(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	seed := seedU1(t, sym)
	coeffs := chain.New(1, 1)
	hop := operator.NewHopping(1, sym.Flavors)

	cfg := baseConfig()
	cfg.Nmax = 0

	result, err := Forward(cfg, sym, coeffs, seed, hop)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	rho, err := RunDM(sym, result, cfg.BetaBar)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	trace := 0.0
	for i, row := range rho.Diag {
		mult := float64(sym.Multiplicity(i))
		for _, w := range row {
			trace += mult * w
		}
	}
	if math.Abs(trace-1) > 1e-8 {
		t.Fatalf("trace(rho) = %g, want 1", trace)
	}
}

// Scenario-B-style check: the double-precision thermodynamics built
// from the last shell's AbsEG energies produce a positive partition
// function, for a small two-shell chain.
func TestForwardFeedsConsistentThermo(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	seed := seedU1(t, sym)
	coeffs := chain.New(2, 1)
	if err := coeffs.SetXi(0, 0, complex(0.25, 0)); err != nil {
		t.Fatalf("%+v", err)
	}
	hop := operator.NewHopping(1, sym.Flavors)
	seedHopping(t, sym, seed, hop)

	cfg := baseConfig()
	cfg.Nmax = 1
	cfg.Nkeep = 8

	result, err := Forward(cfg, sym, coeffs, seed, hop)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	last := result.Shells[len(result.Shells)-1]

	var samples []stats.Sample
	for _, i := range last.State.Invariants() {
		sp := last.State.Get(i)
		mult := sym.Multiplicity(i)
		for _, e := range sp.AbsEG {
			samples = append(samples, stats.Sample{Energy: e, Mult: float64(mult)})
		}
	}
	th, err := stats.Compute(samples, 1.0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if th.Z <= 0 {
		t.Fatalf("Z = %g, want positive", th.Z)
	}
}

// Scenario D: the restart loop must converge within
// ceil(log2(1/diagratio)) restarts (that many attempts plus the first
// one; 0.1 -> 0.2 -> 0.4 -> 0.8 -> 1 is 5 attempts against a bound of
// 4 restarts) when the run succeeds as soon as
// diagratio reaches 1, and must produce the same outcome as a run that
// started at diagratio=1 directly.
func TestScenarioRestartConvergesWithinLogBound(t *testing.T) {
	t.Parallel()
	cfg := Config{Nkeep: 100, DiagRatio: 0.1, RestartFactor: 2}

	run := func(trial Config) (*Result, error) {
		if trial.Nkeep < cfg.Nkeep {
			return nil, &Error{Kind: InsufficientStates, Err: errNotEnoughStates}
		}
		return &Result{GSEnergy: 42}, nil
	}

	result, attempts, err := retryWithDiagRatio(cfg, run)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	bound := int(math.Ceil(math.Log2(1 / cfg.DiagRatio)))
	if attempts > bound+1 {
		t.Fatalf("attempts = %d, want <= %d", attempts, bound+1)
	}
	if result.GSEnergy != 42 {
		t.Fatalf("GSEnergy = %g, want 42", result.GSEnergy)
	}

	direct := Config{Nkeep: 100, DiagRatio: 1, RestartFactor: 2}
	directResult, _, err := retryWithDiagRatio(direct, run)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if directResult.GSEnergy != result.GSEnergy {
		t.Fatalf("direct run GSEnergy = %g, want %g", directResult.GSEnergy, result.GSEnergy)
	}
}

// A non-InsufficientStates failure must not be retried.
func TestRetryDoesNotRetryUnrelatedErrors(t *testing.T) {
	t.Parallel()
	cfg := Config{Nkeep: 10, DiagRatio: 0.5, RestartFactor: 2}
	calls := 0
	run := func(trial Config) (*Result, error) {
		calls++
		return nil, &Error{Kind: CorruptInput, Err: errNotEnoughStates}
	}
	_, attempts, err := retryWithDiagRatio(cfg, run)
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("attempts = %d calls = %d, want 1 and 1 (no retry on non-InsufficientStates errors)", attempts, calls)
	}
}

// Scenario E stand-in: AccumulateFT runs over a trivially simple
// one-shell chain where the operator connects the vacuum to itself
// with unit weight, and reports a positive partition function. The
// bins are not checked: every state sits at v_zero=0, so every
// excitation has omega=0, which LogBins.Add does not bin.
func TestAccumulateFTProducesFiniteWeight(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	seed := seedU1(t, sym)
	coeffs := chain.New(1, 1)
	hop := operator.NewHopping(1, sym.Flavors)
	seedHopping(t, sym, seed, hop)

	cfg := baseConfig()
	cfg.Nmax = 0

	result, err := Forward(cfg, sym, coeffs, seed, hop)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	bins, err := spectral.NewLogBins(20, 1e-6, 10)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ft, err := AccumulateFT(sym, result.Shells, 0, 0, cfg.BetaBar, 1.0, spectral.Fermion, bins)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if ft.Z <= 0 {
		t.Fatalf("Z = %g, want positive", ft.Z)
	}
}

// Recalculate must reject an operator block whose shape does not match
// its ancestor block cleanly through the engine-level Kind wrapping.
func TestRecalculateWrapsErrorsWithCorruptInputKind(t *testing.T) {
	t.Parallel()
	sym, err := symmetry.NewU1(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	seed := seedU1(t, sym)
	old := operator.NewSet()
	badShape := mat.NewCDense(3, 3, nil)
	old.Set(sym.Singlet, sym.Singlet, badShape)

	_, err = Recalculate(sym, seed, old, recalc.Kept)
	if err == nil {
		t.Fatalf("expected shape-mismatch error")
	}
	var kindErr *Error
	if !asError(err, &kindErr) {
		t.Fatalf("error is not an *engine.Error: %v", err)
	}
	if kindErr.Kind != CorruptInput {
		t.Fatalf("Kind = %v, want CorruptInput", kindErr.Kind)
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var errNotEnoughStates = simpleErr("not enough states")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
