package signer

import (
	"context"
	"errors"
	"fmt"
	"os"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

const pendingSuffix = ".tmp"

// SignAll signs every target, publishing the new signatures only when all of
// them succeeded. Each target is attempted even if an earlier one failed.
// On failure no signature of the set survives, pending or previous, so a
// reader never sees a signature that does not match the current artifacts.
func SignAll(ctx context.Context, s Signer, targets []string) error {
	var errs []error
	for _, target := range targets {
		if err := s.Sign(ctx, target, pendingName(target)); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		for _, target := range targets {
			_ = rootcaerrors.IgnoreNotExist(os.Remove(pendingName(target)))
			_ = rootcaerrors.IgnoreNotExist(os.Remove(SignatureName(target)))
		}
		return &rootcaerrors.RootcaError{
			Op:  "sign artifacts",
			Err: errors.Join(errs...),
		}
	}

	for _, target := range targets {
		if err := os.Rename(pendingName(target), SignatureName(target)); err != nil {
			return &rootcaerrors.RootcaError{
				Op:   "publish signature",
				Path: SignatureName(target),
				Err:  fmt.Errorf("%w: %w", rootcaerrors.ErrSign, err),
			}
		}
	}

	return nil
}

// VerifyAll checks the published signature of every target.
func VerifyAll(ctx context.Context, v Verifier, targets []string) error {
	var errs []error
	for _, target := range targets {
		if err := v.Verify(ctx, target, SignatureName(target)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func pendingName(target string) string {
	return SignatureName(target) + pendingSuffix
}
