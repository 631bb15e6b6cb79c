package chain

import "fmt"

// Result is the outcome of a verification. Valid is false when Errors
// is non-empty; every detected defect is listed so operators can see
// the complete picture in one call.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// VerifyEntry checks a single entry against the hash its predecessor is
// expected to carry. Both checks run unconditionally: a linkage failure
// does not hide a recomputation failure. Pure and idempotent; safe to
// run repeatedly against historical data.
func VerifyEntry(e Entry, expectedPrevHash string) Result {
	var errs []string

	if e.PrevHash != expectedPrevHash {
		errs = append(errs, fmt.Sprintf("previous hash mismatch: expected %s, got %s", expectedPrevHash, e.PrevHash))
	}

	recomputed, err := ComputeChainHash(e.Index, e.ContentHash, e.PrevHash, e.Timestamp)
	if err != nil {
		errs = append(errs, fmt.Sprintf("chain hash recomputation failed: %v", err))
	} else if recomputed != e.ChainHash {
		errs = append(errs, fmt.Sprintf("chain hash mismatch: expected %s, got %s", recomputed, e.ChainHash))
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// VerifySequence walks entries in order, checking each against its
// predecessor's chain hash (Genesis for the first) and that indices
// increase by one. All defects across the whole sequence are collected.
func VerifySequence(entries []Entry) Result {
	var errs []string

	prevHash := Genesis
	for i, e := range entries {
		if e.Index != uint64(i) {
			errs = append(errs, fmt.Sprintf("entry %d: index mismatch: expected %d, got %d", i, i, e.Index))
		}
		r := VerifyEntry(e, prevHash)
		for _, msg := range r.Errors {
			errs = append(errs, fmt.Sprintf("entry %d: %s", i, msg))
		}
		prevHash = e.ChainHash
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}
