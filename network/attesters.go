package network

import (
	"context"
	"errors"
	"time"

	"github.com/paw-chain/poc/types"
)

var errSilent = errors.New("attester silent")

// Accepting votes accept with the given weight.
func Accepting(weight float64) Attester {
	return AttesterFunc(func(context.Context, types.ContributionSubmission) (types.Verdict, float64, error) {
		return types.VerdictAccept, weight, nil
	})
}

// Rejecting votes reject with the given weight.
func Rejecting(weight float64) Attester {
	return AttesterFunc(func(context.Context, types.ContributionSubmission) (types.Verdict, float64, error) {
		return types.VerdictReject, weight, nil
	})
}

// Silent never answers.
func Silent() Attester {
	return AttesterFunc(func(context.Context, types.ContributionSubmission) (types.Verdict, float64, error) {
		return 0, 0, errSilent
	})
}

// Delayed answers like inner after d, or not at all if its context ends first.
func Delayed(d time.Duration, inner Attester) Attester {
	return AttesterFunc(func(ctx context.Context, sub types.ContributionSubmission) (types.Verdict, float64, error) {
		select {
		case <-time.After(d):
			return inner.Attest(ctx, sub)
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	})
}

// QualityGate accepts submissions declaring at least min quality and rejects
// the rest. Devnet nodes use it as their local attester policy.
func QualityGate(min, weight float64) Attester {
	return AttesterFunc(func(_ context.Context, sub types.ContributionSubmission) (types.Verdict, float64, error) {
		if sub.DeclaredQuality >= min {
			return types.VerdictAccept, weight, nil
		}
		return types.VerdictReject, weight, nil
	})
}
