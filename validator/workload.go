package validator

import (
	"math"

	"github.com/paw-chain/poc/types"
)

// WorkloadValidation is the verified size and quality of a workload.
type WorkloadValidation struct {
	ComputeUnits uint64
	Quality      float64
}

// WorkloadValidator derives compute units and a verified quality from the
// workload metrics a submission reports.
type WorkloadValidator interface {
	Validate(workload map[string]float64) (WorkloadValidation, error)
}

// WorkloadFunc adapts a function to WorkloadValidator.
type WorkloadFunc func(workload map[string]float64) (WorkloadValidation, error)

func (f WorkloadFunc) Validate(workload map[string]float64) (WorkloadValidation, error) {
	return f(workload)
}

// defaultComputeUnits are credited to types without a workload validator.
const defaultComputeUnits = 1000

// DefaultWorkloadValidators returns the built-in validators keyed by type.
func DefaultWorkloadValidators() map[types.ContributionType]WorkloadValidator {
	return map[types.ContributionType]WorkloadValidator{
		types.ContributionMLTraining:       WorkloadFunc(validateTraining),
		types.ContributionInferenceServing: WorkloadFunc(validateInference),
		types.ContributionDataValidation:   WorkloadFunc(validateData),
	}
}

// metric reads a non-negative finite workload value with a default.
func metric(w map[string]float64, key string, def float64) (float64, error) {
	v, ok := w[key]
	if !ok {
		return def, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, types.ErrInvalidSubmission.Wrapf("workload %s=%v", key, v)
	}
	return v, nil
}

func validateTraining(w map[string]float64) (WorkloadValidation, error) {
	epochs, err := metric(w, "epochs", 1)
	if err != nil {
		return WorkloadValidation{}, err
	}
	batch, err := metric(w, "batch_size", 32)
	if err != nil {
		return WorkloadValidation{}, err
	}
	params, err := metric(w, "model_parameters", 1_000_000)
	if err != nil {
		return WorkloadValidation{}, err
	}
	loss, err := metric(w, "final_loss", 1)
	if err != nil {
		return WorkloadValidation{}, err
	}
	units := saturate(math.Floor(epochs) * math.Floor(batch) * math.Floor(math.Floor(params)/1000))
	return WorkloadValidation{ComputeUnits: units, Quality: math.Min(1/(1+loss), 1)}, nil
}

func validateInference(w map[string]float64) (WorkloadValidation, error) {
	served, err := metric(w, "requests_served", 1)
	if err != nil {
		return WorkloadValidation{}, err
	}
	latency, err := metric(w, "avg_latency_ms", 100)
	if err != nil {
		return WorkloadValidation{}, err
	}
	accuracy, err := metric(w, "accuracy", 0.8)
	if err != nil {
		return WorkloadValidation{}, err
	}
	latencyScore := math.Min(1000/(latency+100), 1)
	return WorkloadValidation{
		ComputeUnits: saturate(math.Floor(served) * 10),
		Quality:      clamp01((math.Min(accuracy, 1) + latencyScore) / 2),
	}, nil
}

func validateData(w map[string]float64) (WorkloadValidation, error) {
	records, err := metric(w, "records_validated", 1)
	if err != nil {
		return WorkloadValidation{}, err
	}
	accuracy, err := metric(w, "validation_accuracy", 0.9)
	if err != nil {
		return WorkloadValidation{}, err
	}
	return WorkloadValidation{ComputeUnits: saturate(math.Floor(records)), Quality: clamp01(accuracy)}, nil
}

func saturate(v float64) uint64 {
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
