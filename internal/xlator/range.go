package xlator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rocsift/rocsift-go/rocerr"
)

var ErrFragmentOverlap = errors.New("fragment overlap detected")

// TranslateRange walks [va, va+size), accumulating fragments. When
// coalesce is true, adjacent fragments that satisfy the merge predicate
// are folded into one before being emitted. Any failure discards the
// accumulated list and returns the error: partial ranges never
// partially return.
func (t *Translator) TranslateRange(ctx context.Context, va uint64, size uint64, coalesce bool) ([]Fragment, error) {
	var out []Fragment

	addr := va
	end := va + size

	var prev Fragment
	havePrev := false

	for addr < end {
		frag, err := t.Translate(ctx, addr)
		if err != nil {
			return nil, err
		}

		alignedVA := frag.VA
		if addr != alignedVA {
			end += addr - alignedVA
		}

		curr := Fragment{VA: alignedVA, PA: frag.PA, Size: frag.Size, Flags: frag.Flags}

		if !havePrev {
			prev = curr
			havePrev = true
		} else {
			if overlaps(prev, curr) {
				return nil, rocerr.New(rocerr.Error, "xlator.TranslateRange",
					fmt.Errorf("%w: prev va=%#x pa=%#x size=%#x, curr va=%#x pa=%#x size=%#x",
						ErrFragmentOverlap, prev.VA, prev.PA, prev.Size, curr.VA, curr.PA, curr.Size))
			}

			if coalesce && coalesces(prev, curr) {
				prev.Size += curr.Size
			} else {
				out = append(out, prev)
				prev = curr
			}
		}

		addr = curr.VA + curr.Size
	}

	if havePrev {
		out = append(out, prev)
	}

	return out, nil
}

// TranslateRangeParallel runs TranslateRange across several translators
// (normally one per partition) concurrently and returns their results in
// the same order as translators. Any single failure cancels the rest and
// the first error is returned.
func TranslateRangeParallel(ctx context.Context, translators []*Translator, va, size uint64, coalesce bool) ([][]Fragment, error) {
	results := make([][]Fragment, len(translators))

	g, gctx := errgroup.WithContext(ctx)

	for i, tr := range translators {
		i, tr := i, tr

		g.Go(func() error {
			frags, err := tr.TranslateRange(gctx, va, size, coalesce)
			if err != nil {
				return err
			}

			results[i] = frags

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// overlaps reports a fatal overlap between two accepted fragments, checked
// only when both are valid: an identical triple, a VA range overlap, or a
// PA range overlap in either direction.
func overlaps(prev, curr Fragment) bool {
	if !prev.Flags.Valid || !curr.Flags.Valid {
		return false
	}

	if prev.VA == curr.VA && prev.PA == curr.PA && prev.Size == curr.Size {
		return true
	}

	if curr.VA >= prev.VA && curr.VA < prev.VA+prev.Size {
		return true
	}

	if curr.PA >= prev.PA && curr.PA < prev.PA+prev.Size {
		return true
	}

	if prev.PA >= curr.PA && prev.PA < curr.PA+curr.Size {
		return true
	}

	return false
}

// coalesces reports whether curr should be folded into prev: VA-adjacent,
// and either both invalid or both valid with PA-adjacency and identical
// flags.
func coalesces(prev, curr Fragment) bool {
	if prev.VA+prev.Size != curr.VA {
		return false
	}

	if !prev.Flags.Valid && !curr.Flags.Valid {
		return true
	}

	if prev.Flags.Valid != curr.Flags.Valid {
		return false
	}

	if prev.PA+prev.Size != curr.PA {
		return false
	}

	return flagsEqual(prev.Flags, curr.Flags)
}
